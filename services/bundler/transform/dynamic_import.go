// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// DynamicImportToRequirePass turns `import('x')` into a promise of
// `require('x')`, keeping the lazy module in the same chunk.
type DynamicImportToRequirePass struct{}

// Name implements Pass.
func (DynamicImportToRequirePass) Name() string {
	return "dynamic_import_to_require"
}

// Run implements Pass. Only literal specifiers are rewritten.
func (DynamicImportToRequirePass) Run(ctx context.Context, u *Unit) error {
	prog, err := u.Program(ctx)
	if err != nil {
		return err
	}

	var edits []ast.Edit
	prog.Walk(func(n *sitter.Node) bool {
		if n.Type() != ast.NodeCallExpression {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != ast.NodeImport {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() != 1 || args.NamedChild(0).Type() != ast.NodeString {
			return true
		}
		lit := prog.Text(args.NamedChild(0))
		edits = append(edits, ast.Edit{
			Start: n.StartByte(),
			End:   n.EndByte(),
			Text:  "Promise.resolve().then(() => require(" + lit + "))",
		})
		return false
	})

	if len(edits) == 0 {
		return nil
	}
	next, err := prog.Rewrite(ctx, edits)
	if err != nil {
		return err
	}
	u.SetProgram(next)
	return nil
}

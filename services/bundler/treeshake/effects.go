// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package treeshake

import (
	"bytes"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// selfExecuting reports whether evaluating s can do more than bind names.
//
// Declarations and export declarations are inspected: an initializer that
// calls, constructs, assigns or awaits at module level makes the statement
// effectful. Function bodies are not evaluated at declaration time and are
// skipped. Calls annotated with a __PURE__ comment are treated as pure.
func selfExecuting(p *ast.Program, s *ast.Statement) bool {
	if s.SelfExecuting {
		return true
	}
	switch s.Kind {
	case ast.StmtDeclaration, ast.StmtExportDecl, ast.StmtExportDefault:
		return hasEffects(p, s.Node())
	default:
		return false
	}
}

func hasEffects(p *ast.Program, root *sitter.Node) bool {
	found := false
	ast.WalkNodes(root, func(n *sitter.Node) bool {
		if found {
			return false
		}
		switch n.Type() {
		case ast.NodeFunction, ast.NodeFunctionExpr, ast.NodeGeneratorFunction,
			ast.NodeArrowFunction, ast.NodeMethodDefinition,
			ast.NodeFunctionDeclaration, ast.NodeGeneratorFunctionDecl:
			return false
		case ast.NodeFieldDefinition:
			// Instance fields run on construction; static ones run now.
			return isStatic(n)
		case ast.NodeStaticBlock:
			found = true
			return false
		case ast.NodeCallExpression, ast.NodeNewExpression:
			if !isPureAnnotated(p, n) {
				found = true
				return false
			}
			return true
		case ast.NodeAssignment, ast.NodeAugmentedAssignment, ast.NodeUpdateExpression,
			ast.NodeAwaitExpression, ast.NodeYieldExpression:
			found = true
			return false
		case ast.NodeUnaryExpression:
			if op := n.ChildByFieldName("operator"); op != nil && op.Type() == "delete" {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func isStatic(field *sitter.Node) bool {
	for i := 0; i < int(field.ChildCount()); i++ {
		if field.Child(i).Type() == "static" {
			return true
		}
	}
	return false
}

// isPureAnnotated reports a /*#__PURE__*/ or /*@__PURE__*/ comment directly
// before n. The source text is checked since the comment may attach to any
// ancestor in the tree.
func isPureAnnotated(p *ast.Program, n *sitter.Node) bool {
	before := bytes.TrimRight(p.Source[:n.StartByte()], " \t\r\n")
	if !bytes.HasSuffix(before, []byte("*/")) {
		return false
	}
	open := bytes.LastIndex(before, []byte("/*"))
	if open < 0 {
		return false
	}
	return bytes.Contains(before[open:], []byte("__PURE__"))
}

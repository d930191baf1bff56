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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// DefinePass replaces global identifiers and member chains with constant
// expressions, e.g. `process.env.NODE_ENV` with `"production"`.
//
// Only references rooted in an unbound (global) identifier are replaced.
// Assignment targets are left alone.
type DefinePass struct {
	// Defines maps a dotted name to replacement JavaScript source.
	Defines map[string]string
}

// Name implements Pass.
func (p *DefinePass) Name() string {
	return "define"
}

// Run implements Pass.
func (p *DefinePass) Run(ctx context.Context, u *Unit) error {
	if len(p.Defines) == 0 {
		return nil
	}
	prog, err := u.Program(ctx)
	if err != nil {
		return err
	}

	var edits []ast.Edit
	prog.Walk(func(n *sitter.Node) bool {
		switch n.Type() {
		case ast.NodeMemberExpression:
			key := dottedName(prog, n)
			value, ok := p.Defines[key]
			if !ok || isAssignmentTarget(n) {
				return true
			}
			if !prog.Scope.IsFree(rootIdentifier(n)) {
				return true
			}
			edits = append(edits, ast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: value})
			return false
		case ast.NodeIdentifier, ast.NodeShorthandProperty:
			name := prog.Text(n)
			value, ok := p.Defines[name]
			if !ok || isAssignmentTarget(n) {
				return true
			}
			ref := prog.Scope.ReferenceAt(n.StartByte())
			if ref == nil || ref.Binding != nil || ref.End != n.EndByte() {
				return true
			}
			switch ref.Kind {
			case ast.RefShorthand:
				edits = append(edits, ast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: name + ": " + value})
			case ast.RefPlain:
				edits = append(edits, ast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: value})
			}
		}
		return true
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

// dottedName returns "a.b.c" for a non-computed member chain rooted in an
// identifier, or "".
func dottedName(p *ast.Program, n *sitter.Node) string {
	var parts []string
	cur := n
	for cur != nil && cur.Type() == ast.NodeMemberExpression {
		prop := cur.ChildByFieldName("property")
		if prop == nil || prop.Type() != ast.NodePropertyIdentifier {
			return ""
		}
		parts = append(parts, p.Text(prop))
		cur = cur.ChildByFieldName("object")
	}
	if cur == nil || cur.Type() != ast.NodeIdentifier {
		return ""
	}
	parts = append(parts, p.Text(cur))
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

func rootIdentifier(n *sitter.Node) *sitter.Node {
	cur := n
	for cur != nil && cur.Type() == ast.NodeMemberExpression {
		cur = cur.ChildByFieldName("object")
	}
	return cur
}

func isAssignmentTarget(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "assignment_expression", "augmented_assignment_expression":
		left := parent.ChildByFieldName("left")
		return left != nil && left.StartByte() == n.StartByte() && left.EndByte() == n.EndByte()
	case "update_expression":
		return true
	}
	return false
}

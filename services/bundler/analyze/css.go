// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyze

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// AnalyzeStylesheet returns @import and url() references in document
// order. Remote, data and fragment-only references are skipped.
func AnalyzeStylesheet(s *ast.Stylesheet) []graph.Dependency {
	if s == nil || s.Root() == nil {
		return nil
	}

	c := newCollector()
	ast.WalkNodes(s.Root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case ast.CSSNodeImportStatement:
			if src, lit := cssImportSource(s, n); lit != nil && keepCSSReference(src) {
				c.add(src, graph.ResolveCssImport, lit)
			}
			return false
		case ast.CSSNodeCallExpression:
			name := firstChildOfType(n, ast.CSSNodeFunctionName)
			if name == nil || !strings.EqualFold(s.Text(name), "url") {
				return true
			}
			if src, lit := cssURLArgument(s, n); lit != nil && keepCSSReference(src) {
				c.add(src, graph.ResolveCssUrl, lit)
			}
			return false
		}
		return true
	})
	return c.deps
}

// cssImportSource handles both `@import "a.css"` and `@import url(a.css)`.
func cssImportSource(s *ast.Stylesheet, n *sitter.Node) (string, *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case ast.CSSNodeStringValue:
			return unquoteCSS(s.Text(child)), child
		case ast.CSSNodeCallExpression:
			name := firstChildOfType(child, ast.CSSNodeFunctionName)
			if name != nil && strings.EqualFold(s.Text(name), "url") {
				return cssURLArgument(s, child)
			}
		}
	}
	return "", nil
}

func cssURLArgument(s *ast.Stylesheet, call *sitter.Node) (string, *sitter.Node) {
	args := firstChildOfType(call, ast.CSSNodeArguments)
	if args == nil {
		return "", nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		switch child.Type() {
		case ast.CSSNodeStringValue, ast.CSSNodePlainValue:
			return unquoteCSS(s.Text(child)), child
		}
	}
	return "", nil
}

func firstChildOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func unquoteCSS(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		raw = raw[1 : len(raw)-1]
	}
	return strings.TrimSpace(raw)
}

func keepCSSReference(src string) bool {
	return src != "" && !IsRemoteOrData(src) && !strings.HasPrefix(src, "#")
}

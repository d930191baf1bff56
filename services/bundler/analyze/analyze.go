// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyze extracts the ordered dependency references of a module.
//
// Extraction is pure: the AST is only read. References are numbered in
// document order starting at 1; ordinal 0 is reserved for references the
// bundler injects itself (runtime helpers).
//
// Recognized script references:
//
//	import x from 'a'         Import
//	import 'a'                Import
//	export { x } from 'a'     ExportNamed
//	export * as ns from 'a'   ExportNamed
//	export * from 'a'         ExportAll
//	require('a')              Require (unshadowed require, literal argument)
//	import('a')               DynamicImport (literal argument)
//	new Worker(new URL('a', import.meta.url))  Worker
//
// Stylesheets yield CssImport for @import and CssUrl for url() values.
package analyze

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// FirstOrder is the ordinal of the first reference in a module.
const FirstOrder = 1

// Analyze dispatches on the handle kind. Raw handles carry no references.
func Analyze(h ast.Handle) []graph.Dependency {
	switch v := h.(type) {
	case *ast.Program:
		return AnalyzeScript(v)
	case *ast.Stylesheet:
		return AnalyzeStylesheet(v)
	default:
		return nil
	}
}

// collector numbers references as they are found.
type collector struct {
	deps  []graph.Dependency
	order int
}

func newCollector() *collector {
	return &collector{order: FirstOrder}
}

func (c *collector) add(source string, rt graph.ResolveType, n *sitter.Node) {
	c.deps = append(c.deps, graph.Dependency{
		Source:      source,
		ResolveType: rt,
		Span:        SpanOf(n),
		Order:       c.order,
	})
	c.order++
}

// SpanOf converts a node position into a graph span.
func SpanOf(n *sitter.Node) graph.Span {
	if n == nil {
		return graph.Span{}
	}
	p := n.StartPoint()
	return graph.Span{
		Line:   int(p.Row) + 1,
		Column: int(p.Column),
		Start:  n.StartByte(),
		End:    n.EndByte(),
	}
}

// AnalyzeScript returns the references of a script module in document
// order.
//
// # Description
//
// Walks the whole tree in pre-order on an explicit stack. Module
// declarations are read from the top-level statement model. Calls are
// recognized by shape; `require`, `Worker` and `URL` must resolve to no
// binding in the program's scope. Children of every node are visited,
// including recognized calls, so nested references are found.
//
// # Inputs
//
//   - p: A parsed program. A nil program yields no references.
//
// # Outputs
//
//   - []graph.Dependency: Ordered references with ordinals from 1.
//
// # Thread Safety
//
// Safe for concurrent use; p is not modified.
func AnalyzeScript(p *ast.Program) []graph.Dependency {
	if p == nil || p.Root() == nil {
		return nil
	}

	stmtAt := make(map[uint32]*ast.Statement, len(p.Statements))
	for _, s := range p.Statements {
		if s.Import != nil || s.Export.HasSource() {
			stmtAt[s.Start] = s
		}
	}

	c := newCollector()
	p.Walk(func(n *sitter.Node) bool {
		switch n.Type() {
		case ast.NodeImportStatement:
			if s, ok := stmtAt[n.StartByte()]; ok && s.Import != nil {
				c.add(s.Import.Source, graph.ResolveImport, n.ChildByFieldName("source"))
			}
			return false
		case ast.NodeExportStatement:
			if s, ok := stmtAt[n.StartByte()]; ok && s.Export.HasSource() {
				rt := graph.ResolveExportNamed
				if s.Export.All {
					rt = graph.ResolveExportAll
				}
				c.add(s.Export.Source, rt, n.ChildByFieldName("source"))
				return false
			}
			return true
		case ast.NodeCallExpression:
			visitCall(p, n, c)
		case ast.NodeNewExpression:
			visitNew(p, n, c)
		}
		return true
	})
	return c.deps
}

func visitCall(p *ast.Program, n *sitter.Node, c *collector) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	switch {
	case fn.Type() == ast.NodeImport:
		if lit := firstStringArg(n); lit != nil {
			c.add(ast.StringValue(p.Source, lit), graph.ResolveDynamicImport, lit)
		}
	case fn.Type() == ast.NodeIdentifier && p.Text(fn) == "require" && p.Scope.IsFree(fn):
		if lit := firstStringArg(n); lit != nil {
			c.add(ast.StringValue(p.Source, lit), graph.ResolveRequire, lit)
		}
	}
}

func visitNew(p *ast.Program, n *sitter.Node, c *collector) {
	ctor := n.ChildByFieldName("constructor")
	if ctor == nil || ctor.Type() != ast.NodeIdentifier || p.Text(ctor) != "Worker" || !p.Scope.IsFree(ctor) {
		return
	}
	args := arguments(n)
	if len(args) == 0 || args[0].Type() != ast.NodeNewExpression {
		return
	}
	url := args[0]
	urlCtor := url.ChildByFieldName("constructor")
	if urlCtor == nil || urlCtor.Type() != ast.NodeIdentifier || p.Text(urlCtor) != "URL" || !p.Scope.IsFree(urlCtor) {
		return
	}
	urlArgs := arguments(url)
	if len(urlArgs) < 2 || urlArgs[0].Type() != ast.NodeString {
		return
	}
	if compact(p.Text(urlArgs[1])) != "import.meta.url" {
		return
	}
	source := ast.StringValue(p.Source, urlArgs[0])
	if IsRemoteOrData(source) {
		return
	}
	c.add(source, graph.ResolveWorker, urlArgs[0])
}

// arguments returns the argument expressions of a call or new expression,
// skipping comments.
func arguments(n *sitter.Node) []*sitter.Node {
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		a := args.NamedChild(i)
		if a.Type() == ast.NodeComment {
			continue
		}
		out = append(out, a)
	}
	return out
}

// firstStringArg returns the first argument when it is a plain string
// literal. Template literals are not specifiers.
func firstStringArg(n *sitter.Node) *sitter.Node {
	args := arguments(n)
	if len(args) == 0 || args[0].Type() != ast.NodeString {
		return nil
	}
	return args[0]
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// IsRemoteOrData reports whether a specifier points at a remote resource
// or inlines its content.
func IsRemoteOrData(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:")
}

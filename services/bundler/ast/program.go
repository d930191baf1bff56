// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast wraps tree-sitter parse trees in an arena-indexed statement
// model that the bundler core can analyze and rewrite.
//
// # Description
//
// A Program owns the source bytes and the tree-sitter tree of one script
// module. Its top-level statements are kept in a slice and addressed by
// index; each statement records the top-level identifiers it defines and
// uses, and its import/export shape. Scope analysis resolves every
// identifier reference to a top-level binding, a nested binding or a
// free (global) name.
//
// Programs are never mutated in place. Rewrites produce new source text via
// Print or Rewrite and a fresh Program is parsed from it.
//
// # Thread Safety
//
// A Program is immutable after parsing and safe for concurrent reads.
// Parsing creates its own tree-sitter parser and may run concurrently.
package ast

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// HandleKind discriminates the concrete AST behind a Handle.
type HandleKind int

const (
	// HandleScript is a JavaScript Program.
	HandleScript HandleKind = iota

	// HandleStylesheet is a CSS Stylesheet.
	HandleStylesheet

	// HandleRaw is an opaque non-parsed payload (assets).
	HandleRaw
)

// Handle is the opaque AST reference stored in module info.
type Handle interface {
	// HandleKind reports the concrete AST kind.
	HandleKind() HandleKind

	// Code returns the printable source of the AST.
	Code() []byte
}

// Syntax hints which language dialect a script was written in.
type Syntax int

const (
	SyntaxJS Syntax = iota
	SyntaxJSX
	SyntaxTS
	SyntaxTSX
)

// String returns the dialect name.
func (s Syntax) String() string {
	switch s {
	case SyntaxJS:
		return "js"
	case SyntaxJSX:
		return "jsx"
	case SyntaxTS:
		return "ts"
	case SyntaxTSX:
		return "tsx"
	default:
		return "unknown"
	}
}

// NeedsLowering is true when the dialect is not plain JavaScript.
func (s Syntax) NeedsLowering() bool {
	return s != SyntaxJS
}

// StatementKind classifies a top-level statement.
type StatementKind int

const (
	// StmtOther is any statement that executes on module evaluation.
	StmtOther StatementKind = iota

	// StmtComment is a top-level comment.
	StmtComment

	// StmtDeclaration is a var/let/const/function/class declaration.
	StmtDeclaration

	// StmtImport is an import declaration.
	StmtImport

	// StmtExportDecl is `export <declaration>`.
	StmtExportDecl

	// StmtExportDefault is `export default <declaration|expression>`.
	StmtExportDefault

	// StmtExportNamed is `export { ... } [from 'x']` or `export * as ns from 'x'`.
	StmtExportNamed

	// StmtExportAll is `export * from 'x'`.
	StmtExportAll
)

// String returns the statement kind name.
func (k StatementKind) String() string {
	switch k {
	case StmtOther:
		return "other"
	case StmtComment:
		return "comment"
	case StmtDeclaration:
		return "declaration"
	case StmtImport:
		return "import"
	case StmtExportDecl:
		return "export_decl"
	case StmtExportDefault:
		return "export_default"
	case StmtExportNamed:
		return "export_named"
	case StmtExportAll:
		return "export_all"
	default:
		return "unknown"
	}
}

// SpecifierKind is the shape of one import or export specifier.
type SpecifierKind int

const (
	SpecNamed SpecifierKind = iota
	SpecDefault
	SpecNamespace
)

// ImportSpecifier is one binding introduced by an import declaration.
type ImportSpecifier struct {
	Kind SpecifierKind

	// Imported is the exported name in the source module. "default" for
	// default imports and "" for namespace imports.
	Imported string

	// Local is the binding name in this module.
	Local string
}

// ImportInfo describes an import declaration.
type ImportInfo struct {
	// Source is the module specifier.
	Source string

	// Specifiers is empty for a bare `import 'x'`.
	Specifiers []ImportSpecifier
}

// ExportSpecifier is one exported name.
type ExportSpecifier struct {
	Kind SpecifierKind

	// Local is the local binding (or the imported name when the export has
	// a source). Empty for anonymous default expressions and namespace
	// re-exports.
	Local string

	// Exported is the public name.
	Exported string
}

// ExportInfo describes an export statement.
type ExportInfo struct {
	// Source is set for re-exports.
	Source string

	// Specifiers lists exported names. Empty for `export * from`.
	Specifiers []ExportSpecifier

	// All is true for `export * from 'x'`.
	All bool

	// BodyStart is the byte offset of the declaration or expression that
	// follows `export` / `export default`. Zero for export clauses.
	BodyStart uint32

	// BodyEnd is the end offset of that declaration or expression.
	BodyEnd uint32

	// DefaultExpr is true for `export default <expression>`.
	DefaultExpr bool
}

// HasSource reports whether the export re-exports from another module.
func (e *ExportInfo) HasSource() bool {
	return e != nil && e.Source != ""
}

// Statement is one top-level statement of a Program.
type Statement struct {
	// Index is the position of the statement in Program.Statements.
	Index int

	Kind StatementKind

	// Start and End are byte offsets into Program.Source.
	Start uint32
	End   uint32

	// Line is the 1-indexed start line.
	Line int

	Import *ImportInfo
	Export *ExportInfo

	// Defined lists the top-level names declared by the statement.
	Defined []string

	// Used lists the top-level bindings referenced by the statement,
	// sorted and de-duplicated. Declarations of its own names are not uses.
	Used []string

	// SelfExecuting is true when evaluating the statement can have effects
	// beyond defining bindings.
	SelfExecuting bool

	node *sitter.Node
}

// Node returns the tree-sitter node of the statement.
func (s *Statement) Node() *sitter.Node {
	return s.node
}

// Program is a parsed script module.
type Program struct {
	// Path is the file the source came from.
	Path string

	// Source is the exact text that was parsed.
	Source []byte

	// Syntax is the dialect of the original file.
	Syntax Syntax

	// Statements are the top-level statements in document order.
	Statements []*Statement

	// Scope is the result of scope analysis over the whole program.
	Scope *ScopeInfo

	// SyntaxErr is the first syntax error, if any.
	SyntaxErr *SyntaxError

	tree *sitter.Tree
}

// HandleKind implements Handle.
func (p *Program) HandleKind() HandleKind {
	return HandleScript
}

// Code implements Handle.
func (p *Program) Code() []byte {
	return p.Source
}

// Root returns the program node.
func (p *Program) Root() *sitter.Node {
	return p.tree.RootNode()
}

// Text returns the source text of n.
func (p *Program) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(p.Source[n.StartByte():n.EndByte()])
}

// HasModuleSyntax reports whether any import or export declaration exists.
func (p *Program) HasModuleSyntax() bool {
	for _, s := range p.Statements {
		switch s.Kind {
		case StmtImport, StmtExportDecl, StmtExportDefault, StmtExportNamed, StmtExportAll:
			return true
		}
	}
	return false
}

// UsesCommonJS reports whether the program references the free CommonJS
// bindings `require`, `module` or `exports`.
func (p *Program) UsesCommonJS() bool {
	if p.Scope == nil {
		return false
	}
	return p.Scope.FreeNames["require"] || p.Scope.FreeNames["module"] || p.Scope.FreeNames["exports"]
}

// ExportedNames returns the names exported directly by the program, sorted.
// Names reachable only through `export *` are not included.
func (p *Program) ExportedNames() []string {
	seen := make(map[string]bool)
	for _, s := range p.Statements {
		if s.Export == nil {
			continue
		}
		for _, spec := range s.Export.Specifiers {
			seen[spec.Exported] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StarSources returns the sources of `export * from` statements in order.
func (p *Program) StarSources() []string {
	var out []string
	for _, s := range p.Statements {
		if s.Kind == StmtExportAll {
			out = append(out, s.Export.Source)
		}
	}
	return out
}

// Walk visits every node in pre-order using an explicit stack. Returning
// false from fn skips the node's children.
func (p *Program) Walk(fn func(n *sitter.Node) bool) {
	walkNodes(p.tree.RootNode(), fn)
}

func walkNodes(root *sitter.Node, fn func(n *sitter.Node) bool) {
	if root == nil {
		return
	}
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || !fn(n) {
			continue
		}
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// BindingKind is how a top-level name was declared.
type BindingKind int

const (
	BindVar BindingKind = iota
	BindLet
	BindConst
	BindFunction
	BindClass
	BindImport
	BindParam
	BindCatch
)

// Occurrence is the position of a declaring identifier.
type Occurrence struct {
	Start uint32
	End   uint32

	// Shorthand marks `{ name }` inside a destructuring pattern.
	Shorthand bool

	// ImportName marks an un-aliased import specifier `{ name }`.
	ImportName bool
}

// Binding is a module-scope declaration.
type Binding struct {
	Name string
	Kind BindingKind

	// Stmts lists every top-level statement that declares the name.
	Stmts []int

	// Decls lists the declaring identifiers.
	Decls []Occurrence
}

// RefKind is the syntactic position of a reference.
type RefKind int

const (
	// RefPlain is an ordinary identifier expression.
	RefPlain RefKind = iota

	// RefShorthand is `{ name }` in an object literal.
	RefShorthand

	// RefExportName is the local name in `export { name }`.
	RefExportName
)

// Reference is an identifier use that resolves to a module-scope binding
// or to no binding at all (a global).
type Reference struct {
	Name  string
	Start uint32
	End   uint32

	// Stmt is the index of the enclosing top-level statement.
	Stmt int

	Kind RefKind

	// Binding is nil for free (global) references.
	Binding *Binding
}

// ScopeInfo is the result of scope analysis over a Program.
//
// Only references that resolve to the module scope or to no scope are
// recorded; references to nested locals are irrelevant to cross-module
// analysis.
type ScopeInfo struct {
	// TopLevel maps module-scope names to their binding.
	TopLevel map[string]*Binding

	// Order lists module-scope names in declaration order.
	Order []string

	// References lists module-scope and free references in document order.
	References []*Reference

	// FreeNames is the set of names referenced without any binding.
	FreeNames map[string]bool

	// NestedNames is the set of names declared in any non-module scope.
	NestedNames map[string]bool

	refAt map[uint32]*Reference
}

// ReferenceAt returns the recorded reference starting at byte offset start.
func (s *ScopeInfo) ReferenceAt(start uint32) *Reference {
	return s.refAt[start]
}

// IsFree reports whether n is an identifier reference to an undeclared
// (global) name.
func (s *ScopeInfo) IsFree(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	r := s.refAt[n.StartByte()]
	return r != nil && r.Binding == nil && r.End == n.EndByte()
}

// ReferencesTo returns every reference resolving to b.
func (s *ScopeInfo) ReferencesTo(b *Binding) []*Reference {
	var out []*Reference
	for _, r := range s.References {
		if r.Binding == b {
			out = append(out, r)
		}
	}
	return out
}

// scope is one lexical scope during analysis.
type scope struct {
	parent *scope
	fn     bool
	top    bool
	names  map[string]bool
}

func newScope(parent *scope, fn bool) *scope {
	return &scope{parent: parent, fn: fn, names: make(map[string]bool)}
}

// functionScope returns the nearest scope that receives var declarations.
func (s *scope) functionScope() *scope {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.fn {
			return cur
		}
	}
	return s
}

type pendingRef struct {
	node *sitter.Node
	sc   *scope
	stmt int
	kind RefKind
}

// scopeAnalyzer collects declarations and references in one pass and
// resolves references afterwards so hoisting needs no second walk.
type scopeAnalyzer struct {
	src     []byte
	module  *scope
	info    *ScopeInfo
	pending []pendingRef
	stmt    int
}

// analyzeScope runs scope analysis over every top-level statement.
func analyzeScope(p *Program) *ScopeInfo {
	module := newScope(nil, true)
	module.top = true

	a := &scopeAnalyzer{
		src:    p.Source,
		module: module,
		info: &ScopeInfo{
			TopLevel:    make(map[string]*Binding),
			FreeNames:   make(map[string]bool),
			NestedNames: make(map[string]bool),
			refAt:       make(map[uint32]*Reference),
		},
	}

	for i, s := range p.Statements {
		a.stmt = i
		a.visit(s.node, module)
	}

	a.resolve()
	return a.info
}

func (a *scopeAnalyzer) declare(sc *scope, id *sitter.Node, kind BindingKind, occ Occurrence) {
	name := nodeText(a.src, id)
	if name == "" {
		return
	}
	sc.names[name] = true
	if !sc.top {
		a.info.NestedNames[name] = true
		return
	}

	b := a.info.TopLevel[name]
	if b == nil {
		b = &Binding{Name: name, Kind: kind}
		a.info.TopLevel[name] = b
		a.info.Order = append(a.info.Order, name)
	}
	if len(b.Stmts) == 0 || b.Stmts[len(b.Stmts)-1] != a.stmt {
		b.Stmts = append(b.Stmts, a.stmt)
	}
	occ.Start, occ.End = id.StartByte(), id.EndByte()
	b.Decls = append(b.Decls, occ)
}

func (a *scopeAnalyzer) ref(n *sitter.Node, sc *scope, kind RefKind) {
	a.pending = append(a.pending, pendingRef{node: n, sc: sc, stmt: a.stmt, kind: kind})
}

func (a *scopeAnalyzer) visitChildren(n *sitter.Node, sc *scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		a.visit(n.NamedChild(i), sc)
	}
}

func (a *scopeAnalyzer) visit(n *sitter.Node, sc *scope) {
	if n == nil {
		return
	}

	switch n.Type() {
	case NodeIdentifier:
		a.ref(n, sc, RefPlain)

	case NodeShorthandProperty:
		a.ref(n, sc, RefShorthand)

	case NodeImportStatement:
		a.visitImport(n)

	case NodeExportStatement:
		a.visitExport(n, sc)

	case NodeVariableDeclaration:
		a.visitDeclarators(n, sc, sc.functionScope(), BindVar)

	case NodeLexicalDeclaration:
		kind := BindLet
		if c := n.Child(0); c != nil && c.Type() == NodeConst {
			kind = BindConst
		}
		a.visitDeclarators(n, sc, sc, kind)

	case NodeFunctionDeclaration, NodeGeneratorFunctionDecl:
		if name := n.ChildByFieldName("name"); name != nil {
			a.declare(sc, name, BindFunction, Occurrence{})
		}
		a.visitFunction(n, newScope(sc, true))

	case NodeFunction, NodeFunctionExpr, NodeGeneratorFunction:
		fs := newScope(sc, true)
		if name := n.ChildByFieldName("name"); name != nil {
			a.declare(fs, name, BindFunction, Occurrence{})
		}
		a.visitFunction(n, fs)

	case NodeArrowFunction:
		fs := newScope(sc, true)
		if param := n.ChildByFieldName("parameter"); param != nil {
			a.declarePattern(param, fs, fs, BindParam)
		}
		a.visitFunction(n, fs)

	case NodeMethodDefinition:
		if name := n.ChildByFieldName("name"); name != nil && name.Type() == NodeComputedPropertyName {
			a.visit(name, sc)
		}
		a.visitFunction(n, newScope(sc, true))

	case NodeClassDeclaration:
		name := n.ChildByFieldName("name")
		if name != nil {
			a.declare(sc, name, BindClass, Occurrence{})
		}
		a.visitClass(n, name, newScope(sc, false))

	case NodeClass:
		cs := newScope(sc, false)
		name := n.ChildByFieldName("name")
		if name != nil {
			a.declare(cs, name, BindClass, Occurrence{})
		}
		a.visitClass(n, name, cs)

	case NodeFieldDefinition:
		if prop := n.ChildByFieldName("property"); prop != nil && prop.Type() == NodeComputedPropertyName {
			a.visit(prop, sc)
		}
		if value := n.ChildByFieldName("value"); value != nil {
			a.visit(value, newScope(sc, true))
		}

	case NodeStatementBlock, NodeSwitchBody, NodeStaticBlock, NodeForStatement:
		a.visitChildren(n, newScope(sc, false))

	case NodeForInStatement:
		a.visitForIn(n, sc)

	case NodeCatchClause:
		bs := newScope(sc, false)
		if param := n.ChildByFieldName("parameter"); param != nil {
			a.declarePattern(param, bs, bs, BindCatch)
		}
		if body := n.ChildByFieldName("body"); body != nil {
			a.visit(body, bs)
		}

	default:
		a.visitChildren(n, sc)
	}
}

// visitFunction declares parameters in fs and visits the body in fs.
func (a *scopeAnalyzer) visitFunction(n *sitter.Node, fs *scope) {
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			a.declarePattern(params.NamedChild(i), fs, fs, BindParam)
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		a.visit(body, fs)
	}
}

// visitClass visits heritage and body, skipping the class name.
func (a *scopeAnalyzer) visitClass(n, name *sitter.Node, cs *scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if name != nil && c.StartByte() == name.StartByte() && c.EndByte() == name.EndByte() {
			continue
		}
		a.visit(c, cs)
	}
}

func (a *scopeAnalyzer) visitDeclarators(n *sitter.Node, sc, target *scope, kind BindingKind) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != NodeVariableDeclarator {
			a.visit(d, sc)
			continue
		}
		if name := d.ChildByFieldName("name"); name != nil {
			a.declarePattern(name, sc, target, kind)
		}
		if value := d.ChildByFieldName("value"); value != nil {
			a.visit(value, sc)
		}
	}
}

func (a *scopeAnalyzer) visitForIn(n *sitter.Node, sc *scope) {
	bs := newScope(sc, false)
	left := n.ChildByFieldName("left")

	declKind := BindingKind(-1)
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case NodeVar:
			declKind = BindVar
		case NodeLet:
			declKind = BindLet
		case NodeConst:
			declKind = BindConst
		}
	}

	if left != nil {
		switch declKind {
		case BindVar:
			a.declarePattern(left, bs, sc.functionScope(), BindVar)
		case BindLet, BindConst:
			a.declarePattern(left, bs, bs, declKind)
		default:
			a.visit(left, bs)
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if left != nil && c.StartByte() == left.StartByte() && c.EndByte() == left.EndByte() {
			continue
		}
		a.visit(c, bs)
	}
}

// declarePattern declares every binding identifier of a destructuring
// pattern into target; default values and computed keys are visited as
// expressions in sc.
func (a *scopeAnalyzer) declarePattern(n *sitter.Node, sc, target *scope, kind BindingKind) {
	if n == nil {
		return
	}
	switch n.Type() {
	case NodeIdentifier:
		a.declare(target, n, kind, Occurrence{})
	case NodeShorthandPropertyPattern:
		a.declare(target, n, kind, Occurrence{Shorthand: true})
	case NodeObjectPattern, NodeArrayPattern, NodeRestPattern:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			a.declarePattern(n.NamedChild(i), sc, target, kind)
		}
	case NodePairPattern:
		if key := n.ChildByFieldName("key"); key != nil && key.Type() == NodeComputedPropertyName {
			a.visit(key, sc)
		}
		a.declarePattern(n.ChildByFieldName("value"), sc, target, kind)
	case NodeAssignmentPattern, NodeObjectAssignmentPattern:
		a.declarePattern(n.ChildByFieldName("left"), sc, target, kind)
		a.visit(n.ChildByFieldName("right"), sc)
	case NodeComment:
	default:
		a.visit(n, sc)
	}
}

func (a *scopeAnalyzer) visitImport(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() != NodeImportClause {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			switch c.Type() {
			case NodeIdentifier:
				a.declare(a.module, c, BindImport, Occurrence{})
			case NodeNamespaceImport:
				if id := firstNamedOfType(c, NodeIdentifier); id != nil {
					a.declare(a.module, id, BindImport, Occurrence{})
				}
			case NodeNamedImports:
				for k := 0; k < int(c.NamedChildCount()); k++ {
					spec := c.NamedChild(k)
					if spec.Type() != NodeImportSpecifier {
						continue
					}
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						a.declare(a.module, alias, BindImport, Occurrence{})
					} else if name := spec.ChildByFieldName("name"); name != nil {
						a.declare(a.module, name, BindImport, Occurrence{ImportName: true})
					}
				}
			}
		}
	}
}

func (a *scopeAnalyzer) visitExport(n *sitter.Node, sc *scope) {
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		a.visit(decl, sc)
		return
	}
	if value := n.ChildByFieldName("value"); value != nil {
		a.visit(value, sc)
		return
	}
	if n.ChildByFieldName("source") != nil {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() != NodeExportClause {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			spec := clause.NamedChild(j)
			if spec.Type() != NodeExportSpecifier {
				continue
			}
			if name := spec.ChildByFieldName("name"); name != nil && name.Type() == NodeIdentifier {
				a.ref(name, sc, RefExportName)
			}
		}
	}
}

// resolve binds each pending reference by walking its scope chain.
func (a *scopeAnalyzer) resolve() {
	for _, pr := range a.pending {
		name := nodeText(a.src, pr.node)
		found := pr.sc
		for found != nil && !found.names[name] {
			found = found.parent
		}

		ref := &Reference{
			Name:  name,
			Start: pr.node.StartByte(),
			End:   pr.node.EndByte(),
			Stmt:  pr.stmt,
			Kind:  pr.kind,
		}
		switch {
		case found == nil:
			a.info.FreeNames[name] = true
		case found.top:
			ref.Binding = a.info.TopLevel[name]
		default:
			continue
		}

		a.info.References = append(a.info.References, ref)
		a.info.refAt[ref.Start] = ref
	}

	sort.SliceStable(a.info.References, func(i, j int) bool {
		return a.info.References[i].Start < a.info.References[j].Start
	})
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

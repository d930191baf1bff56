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
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// maxSnippetLen bounds the source excerpt stored in a SyntaxError.
const maxSnippetLen = 40

// ParseScript parses JavaScript source into a Program.
//
// # Description
//
// Parses content with the tree-sitter JavaScript grammar, classifies every
// top-level statement and runs scope analysis. Syntax errors do not fail
// the parse: the first one is recorded in Program.SyntaxErr so callers can
// decide whether it is fatal (non-JS dialects are re-parsed after they are
// lowered to JavaScript).
//
// # Inputs
//
//   - ctx: Context for cancellation of the tree-sitter parse.
//   - path: File path used for error reporting.
//   - content: Source bytes. Must be valid UTF-8.
//   - syntax: Dialect of the original file.
//
// # Outputs
//
//   - *Program: The parsed program. Never nil on success.
//   - error: ErrInvalidContent for non-UTF-8 input, or the tree-sitter error.
//
// # Thread Safety
//
// Safe for concurrent use; each call creates its own parser.
func ParseScript(ctx context.Context, path string, content []byte, syntax Syntax) (*Program, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}

	p := &Program{
		Path:   path,
		Source: content,
		Syntax: syntax,
		tree:   tree,
	}

	root := tree.RootNode()
	if root.HasError() {
		p.SyntaxErr = firstSyntaxError(path, content, root)
	}

	p.Statements = classifyStatements(p, root)
	p.Scope = analyzeScope(p)
	p.linkStatements()

	return p, nil
}

// Err returns the recorded syntax error, or nil.
func (p *Program) Err() error {
	if p.SyntaxErr == nil {
		return nil
	}
	return p.SyntaxErr
}

// firstSyntaxError finds the first ERROR or MISSING node in document order.
func firstSyntaxError(path string, content []byte, root *sitter.Node) *SyntaxError {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n.Type() == NodeError || n.IsMissing() {
			snippet := string(content[n.StartByte():n.EndByte()])
			if len(snippet) > maxSnippetLen {
				snippet = snippet[:maxSnippetLen]
			}
			return &SyntaxError{
				Path:    path,
				Line:    int(n.StartPoint().Row) + 1,
				Column:  int(n.StartPoint().Column),
				Snippet: snippet,
			}
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return &SyntaxError{Path: path, Line: 1}
}

// classifyStatements builds the statement arena from the program node.
func classifyStatements(p *Program, root *sitter.Node) []*Statement {
	count := int(root.NamedChildCount())
	stmts := make([]*Statement, 0, count)

	for i := 0; i < count; i++ {
		n := root.NamedChild(i)
		if n == nil {
			continue
		}
		s := &Statement{
			Index: len(stmts),
			Start: n.StartByte(),
			End:   n.EndByte(),
			Line:  int(n.StartPoint().Row) + 1,
			node:  n,
		}

		switch n.Type() {
		case NodeComment, "hash_bang_line":
			s.Kind = StmtComment
		case NodeEmptyStatement:
			s.Kind = StmtOther
		case NodeImportStatement:
			s.Kind = StmtImport
			s.Import = parseImport(p.Source, n)
			s.SelfExecuting = len(s.Import.Specifiers) == 0
		case NodeExportStatement:
			s.Export, s.Kind = parseExport(p.Source, n)
		case NodeLexicalDeclaration, NodeVariableDeclaration,
			NodeFunctionDeclaration, NodeGeneratorFunctionDecl, NodeClassDeclaration:
			s.Kind = StmtDeclaration
		default:
			s.Kind = StmtOther
			s.SelfExecuting = true
		}

		stmts = append(stmts, s)
	}

	return stmts
}

// parseImport extracts the source and specifiers of an import declaration.
func parseImport(src []byte, n *sitter.Node) *ImportInfo {
	info := &ImportInfo{}
	if source := n.ChildByFieldName("source"); source != nil {
		info.Source = StringValue(src, source)
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause == nil || clause.Type() != NodeImportClause {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			switch c.Type() {
			case NodeIdentifier:
				info.Specifiers = append(info.Specifiers, ImportSpecifier{
					Kind:     SpecDefault,
					Imported: "default",
					Local:    nodeText(src, c),
				})
			case NodeNamespaceImport:
				if id := firstNamedOfType(c, NodeIdentifier); id != nil {
					info.Specifiers = append(info.Specifiers, ImportSpecifier{
						Kind:  SpecNamespace,
						Local: nodeText(src, id),
					})
				}
			case NodeNamedImports:
				for k := 0; k < int(c.NamedChildCount()); k++ {
					spec := c.NamedChild(k)
					if spec.Type() != NodeImportSpecifier {
						continue
					}
					name := moduleExportName(src, spec.ChildByFieldName("name"))
					local := name
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = nodeText(src, alias)
					}
					kind := SpecNamed
					if name == "default" {
						kind = SpecDefault
					}
					info.Specifiers = append(info.Specifiers, ImportSpecifier{
						Kind:     kind,
						Imported: name,
						Local:    local,
					})
				}
			}
		}
	}

	return info
}

// parseExport classifies an export statement.
func parseExport(src []byte, n *sitter.Node) (*ExportInfo, StatementKind) {
	info := &ExportInfo{}
	if source := n.ChildByFieldName("source"); source != nil {
		info.Source = StringValue(src, source)
	}

	isDefault := false
	hasStar := false
	var clause, nsExport, starAlias *sitter.Node
	sawAs := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case NodeDefault:
			isDefault = true
		case NodeStar:
			hasStar = true
		case "as":
			sawAs = true
		case NodeExportClause:
			clause = c
		case NodeNamespaceExport:
			nsExport = c
		case NodeIdentifier, NodeString:
			if hasStar && sawAs && starAlias == nil {
				starAlias = c
			}
		}
	}

	decl := n.ChildByFieldName("declaration")
	value := n.ChildByFieldName("value")

	switch {
	case isDefault && decl != nil:
		info.BodyStart, info.BodyEnd = decl.StartByte(), decl.EndByte()
		local := ""
		if name := decl.ChildByFieldName("name"); name != nil {
			local = nodeText(src, name)
		} else {
			info.DefaultExpr = true
		}
		info.Specifiers = []ExportSpecifier{{Kind: SpecDefault, Local: local, Exported: "default"}}
		return info, StmtExportDefault

	case isDefault && value != nil:
		info.BodyStart, info.BodyEnd = value.StartByte(), value.EndByte()
		info.DefaultExpr = true
		info.Specifiers = []ExportSpecifier{{Kind: SpecDefault, Exported: "default"}}
		return info, StmtExportDefault

	case decl != nil:
		// Specifiers are filled from the declared names after scope analysis.
		info.BodyStart, info.BodyEnd = decl.StartByte(), decl.EndByte()
		return info, StmtExportDecl

	case clause != nil:
		for i := 0; i < int(clause.NamedChildCount()); i++ {
			spec := clause.NamedChild(i)
			if spec.Type() != NodeExportSpecifier {
				continue
			}
			local := moduleExportName(src, spec.ChildByFieldName("name"))
			exported := local
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				exported = moduleExportName(src, alias)
			}
			kind := SpecNamed
			if exported == "default" {
				kind = SpecDefault
			}
			info.Specifiers = append(info.Specifiers, ExportSpecifier{Kind: kind, Local: local, Exported: exported})
		}
		return info, StmtExportNamed

	case nsExport != nil:
		name := ""
		for i := 0; i < int(nsExport.NamedChildCount()); i++ {
			c := nsExport.NamedChild(i)
			if c.Type() == NodeIdentifier || c.Type() == NodeString {
				name = moduleExportName(src, c)
			}
		}
		info.Specifiers = []ExportSpecifier{{Kind: SpecNamespace, Exported: name}}
		return info, StmtExportNamed

	case hasStar && starAlias != nil:
		info.Specifiers = []ExportSpecifier{{Kind: SpecNamespace, Exported: moduleExportName(src, starAlias)}}
		return info, StmtExportNamed

	case hasStar:
		info.All = true
		return info, StmtExportAll
	}

	return info, StmtExportNamed
}

// linkStatements copies scope facts onto statements.
func (p *Program) linkStatements() {
	used := make([]map[string]bool, len(p.Statements))

	for _, name := range p.Scope.Order {
		b := p.Scope.TopLevel[name]
		for _, idx := range b.Stmts {
			s := p.Statements[idx]
			s.Defined = appendUnique(s.Defined, name)
		}
	}

	for _, ref := range p.Scope.References {
		if ref.Binding == nil || ref.Stmt < 0 {
			continue
		}
		if used[ref.Stmt] == nil {
			used[ref.Stmt] = make(map[string]bool)
		}
		used[ref.Stmt][ref.Name] = true
	}

	for i, s := range p.Statements {
		s.Used = sortedKeys(used[i])

		if s.Kind == StmtExportDecl {
			for _, name := range s.Defined {
				s.Export.Specifiers = append(s.Export.Specifiers, ExportSpecifier{
					Kind:     SpecNamed,
					Local:    name,
					Exported: name,
				})
			}
		}
	}
}

// StringValue returns the decoded value of a string literal node.
func StringValue(src []byte, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	raw := string(src[n.StartByte():n.EndByte()])
	if len(raw) >= 2 {
		q := raw[0]
		if (q == '"' || q == '\'' || q == '`') && raw[len(raw)-1] == q {
			raw = raw[1 : len(raw)-1]
		}
	}
	if !strings.Contains(raw, `\`) {
		return raw
	}
	return unescapeJS(raw)
}

// unescapeJS decodes JavaScript string escape sequences.
func unescapeJS(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
			// line continuation
		case 'x':
			if i+2 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					b.WriteRune(rune(v))
					i += 2
					continue
				}
			}
			b.WriteByte('x')
		case 'u':
			if i+1 < len(s) && s[i+1] == '{' {
				end := strings.IndexByte(s[i:], '}')
				if end > 0 {
					if v, err := strconv.ParseUint(s[i+2:i+end], 16, 32); err == nil {
						b.WriteRune(rune(v))
						i += end
						continue
					}
				}
			} else if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 16); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteByte('u')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// moduleExportName returns an identifier's text or a string literal's value.
func moduleExportName(src []byte, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	if n.Type() == NodeString {
		return StringValue(src, n)
	}
	return nodeText(src, n)
}

func nodeText(src []byte, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

func firstNamedOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil && c.Type() == typ {
			return c
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

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
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
)

// CSS tree-sitter node types.
const (
	CSSNodeImportStatement = "import_statement"
	CSSNodeCallExpression  = "call_expression"
	CSSNodeFunctionName    = "function_name"
	CSSNodeArguments       = "arguments"
	CSSNodeStringValue     = "string_value"
	CSSNodePlainValue      = "plain_value"
)

// Stylesheet is a parsed CSS module.
type Stylesheet struct {
	Path   string
	Source []byte
	tree   *sitter.Tree
}

// HandleKind implements Handle.
func (s *Stylesheet) HandleKind() HandleKind {
	return HandleStylesheet
}

// Code implements Handle.
func (s *Stylesheet) Code() []byte {
	return s.Source
}

// Root returns the stylesheet node.
func (s *Stylesheet) Root() *sitter.Node {
	return s.tree.RootNode()
}

// Text returns the source text of n.
func (s *Stylesheet) Text(n *sitter.Node) string {
	return nodeText(s.Source, n)
}

// ParseStylesheet parses CSS source with the tree-sitter CSS grammar.
//
// CSS parse errors are tolerated; browsers skip invalid rules and so does
// dependency extraction.
func ParseStylesheet(ctx context.Context, path string, content []byte) (*Stylesheet, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(css.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}

	return &Stylesheet{Path: path, Source: content, tree: tree}, nil
}

// Raw is an unparsed payload such as an image or font.
type Raw struct {
	Path string
	Data []byte
}

// HandleKind implements Handle.
func (r *Raw) HandleKind() HandleKind {
	return HandleRaw
}

// Code implements Handle.
func (r *Raw) Code() []byte {
	return r.Data
}

// WalkNodes visits root and its named descendants in pre-order.
// Returning false from fn skips the node's children.
func WalkNodes(root *sitter.Node, fn func(n *sitter.Node) bool) {
	walkNodes(root, fn)
}

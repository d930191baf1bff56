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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Edit replaces Source[Start:End] with Text.
type Edit struct {
	Start uint32
	End   uint32
	Text  string
}

// PrintResult is the output of printing a Program.
type PrintResult struct {
	Code []byte

	// SourceMap is not produced by this printer and is always nil.
	SourceMap []byte
}

// Print returns the program source.
func (p *Program) Print() PrintResult {
	return PrintResult{Code: p.Source}
}

// ApplyEdits applies non-overlapping edits to src.
//
// # Inputs
//
//   - src: The original bytes. Not modified.
//   - edits: Replacements in any order. Zero-width edits insert text.
//
// # Outputs
//
//   - []byte: The rewritten bytes.
//   - error: ErrInvalidEdit if edits overlap or fall outside src.
func ApplyEdits(src []byte, edits []Edit) ([]byte, error) {
	if len(edits) == 0 {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var buf bytes.Buffer
	buf.Grow(len(src))
	cursor := uint32(0)
	for _, e := range sorted {
		if e.Start < cursor || e.End < e.Start || int(e.End) > len(src) {
			return nil, fmt.Errorf("edit [%d,%d) at cursor %d: %w", e.Start, e.End, cursor, ErrInvalidEdit)
		}
		buf.Write(src[cursor:e.Start])
		buf.WriteString(e.Text)
		cursor = e.End
	}
	buf.Write(src[cursor:])
	return buf.Bytes(), nil
}

// Rewrite applies edits to the program source and parses the result.
func (p *Program) Rewrite(ctx context.Context, edits []Edit) (*Program, error) {
	code, err := ApplyEdits(p.Source, edits)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", p.Path, err)
	}
	return ParseScript(ctx, p.Path, code, SyntaxJS)
}

// StatementText returns the source of s with the edits that fall inside it
// applied. Edits outside the statement are ignored.
func (p *Program) StatementText(s *Statement, edits []Edit) (string, error) {
	var local []Edit
	for _, e := range edits {
		if e.Start >= s.Start && e.End <= s.End {
			local = append(local, Edit{Start: e.Start - s.Start, End: e.End - s.Start, Text: e.Text})
		}
	}
	out, err := ApplyEdits(p.Source[s.Start:s.End], local)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// JoinStatements assembles statement texts into program source.
func JoinStatements(parts []string) []byte {
	var buf bytes.Buffer
	for _, part := range parts {
		if part == "" {
			continue
		}
		buf.WriteString(part)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// QuoteString renders s as a JavaScript string literal.
func QuoteString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// RenderImport prints an import declaration.
func RenderImport(info *ImportInfo) string {
	if len(info.Specifiers) == 0 {
		return "import " + QuoteString(info.Source) + ";"
	}

	var def, ns string
	var named []string
	for _, spec := range info.Specifiers {
		switch {
		case spec.Kind == SpecNamespace:
			ns = "* as " + spec.Local
		case spec.Kind == SpecDefault && def == "":
			def = spec.Local
		default:
			named = append(named, renderAlias(spec.Imported, spec.Local))
		}
	}

	var parts []string
	if def != "" {
		parts = append(parts, def)
	}
	if ns != "" {
		parts = append(parts, ns)
	}
	if len(named) > 0 {
		parts = append(parts, "{ "+strings.Join(named, ", ")+" }")
	}
	return "import " + strings.Join(parts, ", ") + " from " + QuoteString(info.Source) + ";"
}

// RenderExportClause prints `export { ... } [from 'x'];`.
func RenderExportClause(specs []ExportSpecifier, source string) string {
	var named []string
	for _, spec := range specs {
		if spec.Kind == SpecNamespace {
			return "export * as " + exportName(spec.Exported) + " from " + QuoteString(source) + ";"
		}
		named = append(named, renderAlias(spec.Local, spec.Exported))
	}
	out := "export { " + strings.Join(named, ", ") + " }"
	if source != "" {
		out += " from " + QuoteString(source)
	}
	return out + ";"
}

func renderAlias(from, to string) string {
	if from == to {
		return exportName(from)
	}
	return exportName(from) + " as " + exportName(to)
}

// exportName quotes names that are not valid identifiers.
func exportName(name string) string {
	if IsIdentifierName(name) {
		return name
	}
	return QuoteString(name)
}

// IsIdentifierName reports whether name can be written as a bare identifier.
func IsIdentifierName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '$' || r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		case r > 0x7f:
		default:
			return false
		}
	}
	return true
}

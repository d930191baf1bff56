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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEdits(t *testing.T) {
	src := []byte("const a = 1;")

	t.Run("replace and insert", func(t *testing.T) {
		out, err := ApplyEdits(src, []Edit{
			{Start: 6, End: 7, Text: "a_0"},
			{Start: 0, End: 0, Text: "/* x */ "},
		})
		require.NoError(t, err)
		assert.Equal(t, "/* x */ const a_0 = 1;", string(out))
	})

	t.Run("overlap rejected", func(t *testing.T) {
		_, err := ApplyEdits(src, []Edit{{Start: 0, End: 5}, {Start: 3, End: 7}})
		assert.ErrorIs(t, err, ErrInvalidEdit)
	})

	t.Run("out of range rejected", func(t *testing.T) {
		_, err := ApplyEdits(src, []Edit{{Start: 10, End: 40}})
		assert.ErrorIs(t, err, ErrInvalidEdit)
	})

	t.Run("no edits copies", func(t *testing.T) {
		out, err := ApplyEdits(src, nil)
		require.NoError(t, err)
		assert.Equal(t, src, out)
		out[0] = 'X'
		assert.Equal(t, byte('c'), src[0])
	})
}

func TestProgram_Rewrite(t *testing.T) {
	p := mustParse(t, "export const v = 1;\n")
	s := p.Statements[0]

	next, err := p.Rewrite(context.Background(), []Edit{{Start: s.Start, End: s.Export.BodyStart, Text: ""}})
	require.NoError(t, err)
	assert.Equal(t, "const v = 1;\n", string(next.Source))
	require.Len(t, next.Statements, 1)
	assert.Equal(t, StmtDeclaration, next.Statements[0].Kind)
	assert.Equal(t, []string{"v"}, next.Statements[0].Defined)
}

func TestRenderImport(t *testing.T) {
	tests := []struct {
		name string
		info ImportInfo
		want string
	}{
		{
			name: "bare",
			info: ImportInfo{Source: "./a"},
			want: `import "./a";`,
		},
		{
			name: "default and named",
			info: ImportInfo{Source: "./a", Specifiers: []ImportSpecifier{
				{Kind: SpecDefault, Imported: "default", Local: "d"},
				{Kind: SpecNamed, Imported: "x", Local: "x"},
				{Kind: SpecNamed, Imported: "y", Local: "z"},
			}},
			want: `import d, { x, y as z } from "./a";`,
		},
		{
			name: "namespace",
			info: ImportInfo{Source: "./a", Specifiers: []ImportSpecifier{{Kind: SpecNamespace, Local: "ns"}}},
			want: `import * as ns from "./a";`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.info
			assert.Equal(t, tt.want, RenderImport(&info))
		})
	}
}

func TestRenderExportClause(t *testing.T) {
	assert.Equal(t, `export { a, b as c };`, RenderExportClause([]ExportSpecifier{
		{Local: "a", Exported: "a"},
		{Local: "b", Exported: "c"},
	}, ""))
	assert.Equal(t, `export { a as "a-b" } from "./x";`, RenderExportClause([]ExportSpecifier{
		{Local: "a", Exported: "a-b"},
	}, "./x"))
	assert.Equal(t, `export * as ns from "./x";`, RenderExportClause([]ExportSpecifier{
		{Kind: SpecNamespace, Exported: "ns"},
	}, "./x"))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `"a\"b"`, QuoteString(`a"b`))
	assert.Equal(t, `"<tag>"`, QuoteString("<tag>"))
}

func TestIsIdentifierName(t *testing.T) {
	assert.True(t, IsIdentifierName("$_a1"))
	assert.False(t, IsIdentifierName("1a"))
	assert.False(t, IsIdentifierName("a-b"))
	assert.False(t, IsIdentifierName(""))
}

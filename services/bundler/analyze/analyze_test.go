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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

func parse(t *testing.T, code string) *ast.Program {
	t.Helper()
	p, err := ast.ParseScript(context.Background(), "/src/a.js", []byte(code), ast.SyntaxJS)
	require.NoError(t, err)
	require.NoError(t, p.Err())
	return p
}

func sources(deps []graph.Dependency) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Source
	}
	return out
}

func TestAnalyzeScript_Shapes(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{"bare import", `import 'a';`, []string{"a"}},
		{"default import", `import a from 'a';`, []string{"a"}},
		{"named import", `import { a } from 'a';`, []string{"a"}},
		{"namespace import", `import * as a from 'a';`, []string{"a"}},
		{"export named", `export { a } from "a";`, []string{"a"}},
		{"export all", `export * from "a";`, []string{"a"}},
		{"dynamic import", `import('a');`, []string{"a"}},
		{"require", `require('a');`, []string{"a"}},
		{"shadowed require", `const require = 'a'; require('a');`, nil},
		{"non literal require", `require(a);`, nil},
		{"template require", "require(`a`);", nil},
		{"nested require", `require(require('b'));`, []string{"b"}},
		{"require inside export", `export function f() { return require('b'); }`, []string{"b"}},
		{"worker", `new Worker(new URL('a', import.meta.url));`, []string{"a"}},
		{"shadowed worker", `const Worker = 1; new Worker(new URL('a', import.meta.url));`, nil},
		{"shadowed url", `const URL = 1; new Worker(new URL('a', import.meta.url));`, nil},
		{"worker without meta", `new Worker(new URL('a'));`, nil},
		{"worker without url", `new Worker('a');`, nil},
		{"remote worker", `new Worker(new URL('https://x/a.js', import.meta.url));`, nil},
		{"data worker", `new Worker(new URL('data:text/javascript,1', import.meta.url));`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := AnalyzeScript(parse(t, tt.code))
			if tt.want == nil {
				assert.Empty(t, deps)
				return
			}
			assert.Equal(t, tt.want, sources(deps))
		})
	}
}

// Scenario: mixed references in one module come out in document order,
// with ordinals from 1 and the right resolve types.
func TestAnalyzeScript_OrderAndTypes(t *testing.T) {
	p := parse(t, `import a from './a';
export * from './b';
export { c } from './c';
export * as d from './d';
const e = require('./e');
function lazy() { return import('./f'); }
new Worker(new URL('./g.js', import.meta.url));
`)

	deps := AnalyzeScript(p)
	require.Len(t, deps, 7)

	assert.Equal(t, []string{"./a", "./b", "./c", "./d", "./e", "./f", "./g.js"}, sources(deps))
	assert.Equal(t, []graph.ResolveType{
		graph.ResolveImport,
		graph.ResolveExportAll,
		graph.ResolveExportNamed,
		graph.ResolveExportNamed,
		graph.ResolveRequire,
		graph.ResolveDynamicImport,
		graph.ResolveWorker,
	}, []graph.ResolveType{
		deps[0].ResolveType, deps[1].ResolveType, deps[2].ResolveType, deps[3].ResolveType,
		deps[4].ResolveType, deps[5].ResolveType, deps[6].ResolveType,
	})
	for i, d := range deps {
		assert.Equal(t, i+1, d.Order)
	}
	assert.Equal(t, 5, deps[4].Span.Line)
}

func TestAnalyzeScript_Idempotent(t *testing.T) {
	p := parse(t, "import './x';\nrequire('./y');\n")
	first := AnalyzeScript(p)
	second := AnalyzeScript(p)
	assert.Equal(t, first, second)
	assert.Equal(t, "import './x';\nrequire('./y');\n", string(p.Source))
}

func TestAnalyzeStylesheet(t *testing.T) {
	code := `@import "./base.css";
@import url("./theme.css");
@import url("https://fonts.example.com/a.css");
.logo { background: url(logo.png); }
.hero { background-image: url("./hero.jpg"); }
.inline { background: url("data:image/png;base64,AAAA"); }
.mask { mask: url("#shape"); }
`
	s, err := ast.ParseStylesheet(context.Background(), "/src/a.css", []byte(code))
	require.NoError(t, err)

	deps := AnalyzeStylesheet(s)
	assert.Equal(t, []string{"./base.css", "./theme.css", "logo.png", "./hero.jpg"}, sources(deps))
	require.Len(t, deps, 4)
	assert.Equal(t, graph.ResolveCssImport, deps[0].ResolveType)
	assert.Equal(t, graph.ResolveCssImport, deps[1].ResolveType)
	assert.Equal(t, graph.ResolveCssUrl, deps[2].ResolveType)
	assert.Equal(t, 3, deps[2].Order)
}

func TestAnalyze_Dispatch(t *testing.T) {
	assert.Nil(t, Analyze(&ast.Raw{Path: "/a.png", Data: []byte{1}}))
	assert.Len(t, Analyze(parse(t, "import 'a';")), 1)
}

func TestIsRemoteOrData(t *testing.T) {
	assert.True(t, IsRemoteOrData("HTTPS://a"))
	assert.True(t, IsRemoteOrData("//cdn/a.js"))
	assert.True(t, IsRemoteOrData("data:,x"))
	assert.False(t, IsRemoteOrData("./a"))
}

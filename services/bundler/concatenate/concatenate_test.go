// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concatenate

import (
	"context"
	"path"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/analyze"
	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// newGraph parses every file and wires relative specifiers between them.
func newGraph(t *testing.T, entries []string, files map[string]string) *graph.ModuleGraph {
	t.Helper()
	ctx := context.Background()
	g := graph.New()

	isEntry := make(map[string]bool)
	for _, e := range entries {
		isEntry[e] = true
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		m := graph.NewPlaceholder(graph.NewModuleId(p, ""))
		m.IsEntry = isEntry[p]
		require.NoError(t, g.AddModule(m))
	}

	for _, p := range paths {
		id := graph.NewModuleId(p, "")
		prog, err := ast.ParseScript(ctx, p, []byte(files[p]), ast.SyntaxJS)
		require.NoError(t, err)
		require.NoError(t, prog.Err())

		info := &graph.ModuleInfo{
			AST:      prog,
			Deps:     analyze.AnalyzeScript(prog),
			Resolved: make(map[string]graph.ResolvedTarget),
		}
		for _, d := range info.Deps {
			target := path.Join(path.Dir(p), d.Source)
			if path.Ext(target) == "" {
				target += ".js"
			}
			if _, ok := files[target]; ok {
				info.Resolved[d.Source] = graph.ResolvedTarget{Id: graph.NewModuleId(target, "")}
			}
		}
		require.NoError(t, g.SetInfo(id, info, graph.KindScript, false))
		for _, d := range info.Deps {
			if r, ok := info.Resolved[d.Source]; ok {
				require.NoError(t, g.AddDependency(id, r.Id, d))
			}
		}
	}
	return g
}

func concat(t *testing.T, g *graph.ModuleGraph) Result {
	t.Helper()
	res, err := Concatenate(context.Background(), g, Options{})
	require.NoError(t, err)
	return res
}

func sourceOf(t *testing.T, g *graph.ModuleGraph, p string) string {
	t.Helper()
	m, ok := g.GetModule(graph.NewModuleId(p, ""))
	require.True(t, ok, "module %s missing", p)
	return string(m.Info.Program().Source)
}

func TestConcatenate_SingleInner(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js": "import { v } from './b';\nconsole.log(v);",
		"/b.js": "export const v = 1;",
	})

	res := concat(t, g)

	require.Len(t, res.Configs, 1)
	assert.Equal(t, graph.ModuleId("/a.js"), res.Configs[0].Root)
	assert.Equal(t, []graph.ModuleId{"/b.js"}, res.Configs[0].Inners)
	assert.Equal(t, []graph.ModuleId{"/b.js"}, res.Removed)

	src := sourceOf(t, g, "/a.js")
	assert.Equal(t, "const v = 1;\nconsole.log(v);\n", src)
	assert.NotContains(t, src, "import")
	assert.NotContains(t, src, "export")
	assert.False(t, g.HasModule("/b.js"))
	assert.Empty(t, g.GetDependencyIds("/a.js"))

	// The reference resolves to the inlined declaration.
	m, _ := g.GetModule("/a.js")
	prog := m.Info.Program()
	b := prog.Scope.TopLevel["v"]
	require.NotNil(t, b)
	assert.Len(t, prog.Scope.ReferencesTo(b), 1)
}

func TestConcatenate_RenamesCollisions(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js": "import { v } from './b';\nconst w = 2;\nconsole.log(v, w);",
		"/b.js": "const w = 10;\nexport const v = w + 1;",
	})

	concat(t, g)

	assert.Equal(t, "const w_0 = 10;\nconst v = w_0 + 1;\nconst w = 2;\nconsole.log(v, w);\n", sourceOf(t, g, "/a.js"))
}

func TestConcatenate_TransitiveInnersInDependencyOrder(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js": "import { y } from './c';\nconsole.log(y);",
		"/c.js": "import { x } from './b';\nconst tmp = 2;\nexport const y = x + tmp;",
		"/b.js": "const tmp = 1;\nexport const x = tmp;",
	})

	res := concat(t, g)

	require.Len(t, res.Configs, 1)
	assert.Equal(t, []graph.ModuleId{"/b.js", "/c.js"}, res.Configs[0].Inners)
	assert.Equal(t,
		"const tmp = 1;\nconst x = tmp;\nconst tmp_0 = 2;\nconst y = x + tmp_0;\nconsole.log(y);\n",
		sourceOf(t, g, "/a.js"))
}

func TestConcatenate_AnonymousDefault(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js": "import def from './b';\nconsole.log(def);",
		"/b.js": "export default 40 + 2;",
	})

	concat(t, g)

	assert.Equal(t, "const b_0 = 40 + 2;\nconsole.log(b_0);\n", sourceOf(t, g, "/a.js"))
}

func TestConcatenate_ShorthandProperty(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js": "import { value } from './b';\nconst v = 3;\nconsole.log({ value }, v);",
		"/b.js": "const v = 1;\nexport { v as value };",
	})

	concat(t, g)

	assert.Equal(t, "const v_0 = 1;\nconst v = 3;\nconsole.log({ value: v_0 }, v);\n", sourceOf(t, g, "/a.js"))
}

func TestConcatenate_HoistsExternalImports(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js":   "import { v } from './b';\nconsole.log(v);",
		"/b.js":   "import { helper } from './ext';\nexport const v = helper();",
		"/ext.js": "module.exports.helper = () => 1;",
	})

	res := concat(t, g)

	require.Len(t, res.Configs, 1)
	assert.Equal(t, []graph.ModuleId{"/ext.js"}, res.Configs[0].Externals)
	assert.Equal(t, "import { helper } from \"/ext.js\";\nconst v = helper();\nconsole.log(v);\n", sourceOf(t, g, "/a.js"))
	assert.True(t, g.HasDependency("/a.js", "/ext.js"))
	assert.True(t, g.HasModule("/ext.js"))
}

func TestConcatenate_ReexportFromInner(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, map[string]string{
		"/a.js": "export { v } from './b';",
		"/b.js": "export const v = 1;",
	})

	concat(t, g)

	assert.Equal(t, "const v = 1;\nexport { v };\n", sourceOf(t, g, "/a.js"))
}

func TestConcatenate_Ineligible(t *testing.T) {
	cases := []struct {
		name    string
		entries []string
		files   map[string]string
	}{
		{
			name:    "namespace import",
			entries: []string{"/a.js"},
			files: map[string]string{
				"/a.js": "import * as ns from './b';\nconsole.log(ns.v);",
				"/b.js": "export const v = 1;",
			},
		},
		{
			name:    "shared by two roots",
			entries: []string{"/a.js", "/d.js"},
			files: map[string]string{
				"/a.js": "import { v } from './b';\nconsole.log(v);",
				"/d.js": "import { v } from './b';\nconsole.log(v);",
				"/b.js": "export const v = 1;",
			},
		},
		{
			name:    "cycle",
			entries: []string{"/a.js"},
			files: map[string]string{
				"/a.js": "import { v } from './b';\nexport const w = 1;\nconsole.log(v);",
				"/b.js": "import { w } from './a';\nexport const v = 1;",
			},
		},
		{
			name:    "dynamically imported",
			entries: []string{"/a.js"},
			files: map[string]string{
				"/a.js": "import('./b');",
				"/b.js": "export const v = 1;",
			},
		},
		{
			name:    "star export",
			entries: []string{"/a.js"},
			files: map[string]string{
				"/a.js": "import { v } from './b';\nconsole.log(v);",
				"/b.js": "export * from './c';",
				"/c.js": "export const v = 1;",
			},
		},
		{
			name:    "commonjs dependency",
			entries: []string{"/a.js"},
			files: map[string]string{
				"/a.js": "import './b';",
				"/b.js": "module.exports = 1;",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGraph(t, tc.entries, tc.files)
			before := make(map[string]string)
			for p := range tc.files {
				before[p] = sourceOf(t, g, p)
			}

			res := concat(t, g)

			assert.Empty(t, res.Removed)
			for p, src := range before {
				assert.Equal(t, src, sourceOf(t, g, p))
			}
		})
	}
}

func TestConcatenate_Deterministic(t *testing.T) {
	files := map[string]string{
		"/a.js": "import { x } from './b';\nimport { y } from './c';\nconsole.log(x, y);",
		"/b.js": "const n = 1;\nexport const x = n;",
		"/c.js": "const n = 2;\nexport const y = n;",
	}
	var first string
	for run := 0; run < 5; run++ {
		g := newGraph(t, []string{"/a.js"}, files)
		concat(t, g)
		src := sourceOf(t, g, "/a.js")
		if run == 0 {
			first = src
			continue
		}
		assert.Equal(t, first, src)
	}
	assert.Contains(t, first, "const n = ")
	assert.Contains(t, first, "const n_0 = ")
}

func TestModulePrefix(t *testing.T) {
	assert.Equal(t, "b", modulePrefix("/src/b.js"))
	assert.Equal(t, "my_util", modulePrefix("/src/my-util.ts"))
	assert.Equal(t, "_1st", modulePrefix("/1st.js"))
	assert.Equal(t, "index", modulePrefix("/src/index.js?raw"))
}

func TestScopeClaim(t *testing.T) {
	s := &scope{taken: map[string]bool{"a": true, "a_0": true}}
	assert.Equal(t, "a_1", s.claim("a"))
	assert.Equal(t, "b", s.claim("b"))
	assert.Equal(t, "b_0", s.claim("b"))
	assert.Equal(t, "c_0", s.claimIndexed("c"))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package treeshake

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

// files maps absolute module paths to their source.
type files map[string]string

// newGraph parses every file and wires relative specifiers between them.
// mutate may adjust module info before edges are added.
func newGraph(t *testing.T, entries []string, fs files, mutate func(id graph.ModuleId, info *graph.ModuleInfo)) *graph.ModuleGraph {
	t.Helper()
	ctx := context.Background()
	g := graph.New()

	isEntry := make(map[string]bool)
	for _, e := range entries {
		isEntry[e] = true
	}
	paths := make([]string, 0, len(fs))
	for p := range fs {
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
		prog, err := ast.ParseScript(ctx, p, []byte(fs[p]), ast.SyntaxJS)
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
			if _, ok := fs[target]; ok {
				info.Resolved[d.Source] = graph.ResolvedTarget{Id: graph.NewModuleId(target, "")}
			}
		}
		if mutate != nil {
			mutate(id, info)
		}
		require.NoError(t, g.SetInfo(id, info, graph.KindScript, true))
		for _, d := range info.Deps {
			if r, ok := info.Resolved[d.Source]; ok {
				require.NoError(t, g.AddDependency(id, r.Id, d))
			}
		}
	}
	return g
}

func shake(t *testing.T, g *graph.ModuleGraph) Result {
	t.Helper()
	res, err := Shake(context.Background(), g, Options{})
	require.NoError(t, err)
	return res
}

func sourceOf(t *testing.T, g *graph.ModuleGraph, p string) string {
	t.Helper()
	m, ok := g.GetModule(graph.NewModuleId(p, ""))
	require.True(t, ok, "module %s missing", p)
	return string(m.Info.Program().Source)
}

func TestShake_UnusedExportRemoved(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { used } from './b';\nconsole.log(used);",
		"/b.js": "export const used = 1;\nexport const unused = 2;",
	}, nil)

	res := shake(t, g)

	assert.Equal(t, "export const used = 1;\n", sourceOf(t, g, "/b.js"))
	assert.Equal(t, "import { used } from './b';\nconsole.log(used);", sourceOf(t, g, "/a.js"))
	assert.Equal(t, []graph.ModuleId{"/b.js"}, res.Rewritten)
	assert.Empty(t, res.Removed)
}

func TestShake_UnusedImportDropsModule(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { x } from './b';\nconsole.log(1);",
		"/b.js": "export const x = 1;",
	}, nil)

	res := shake(t, g)

	assert.False(t, g.HasModule("/b.js"))
	assert.Equal(t, []graph.ModuleId{"/b.js"}, res.Removed)
	assert.Equal(t, "console.log(1);\n", sourceOf(t, g, "/a.js"))
	assert.Empty(t, g.GetDependencyIds("/a.js"))
}

func TestShake_CycleMembersUntouched(t *testing.T) {
	a := "import { b } from './b';\nexport const a = 1;\nexport const unusedA = 2;"
	b := "import { a } from './a';\nexport const b = 2;\nexport const unusedB = 3;"
	g := newGraph(t, []string{"/main.js"}, files{
		"/main.js": "import { a } from './a';\nconsole.log(a);",
		"/a.js":    a,
		"/b.js":    b,
	}, nil)

	res := shake(t, g)

	require.Len(t, res.Cycles, 1)
	assert.ElementsMatch(t, []graph.ModuleId{"/a.js", "/b.js"}, res.Cycles[0])
	assert.Equal(t, a, sourceOf(t, g, "/a.js"))
	assert.Equal(t, b, sourceOf(t, g, "/b.js"))
	assert.Empty(t, res.Removed)
	assert.Empty(t, res.Rewritten)
	assert.True(t, g.HasDependency("/a.js", "/b.js"))
	assert.True(t, g.HasDependency("/b.js", "/a.js"))
}

func TestShake_SideEffectfulDependencyKeptAsBareImport(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { x } from './b';\nconsole.log(1);",
		"/b.js": "console.log('hi');\nexport const x = 1;",
	}, nil)

	res := shake(t, g)

	assert.Equal(t, "import \"./b\";\nconsole.log(1);\n", sourceOf(t, g, "/a.js"))
	assert.Equal(t, "console.log('hi');\nexport const x = 1;", sourceOf(t, g, "/b.js"))
	assert.Empty(t, res.Removed)

	m, _ := g.GetModule("/b.js")
	assert.True(t, m.SideEffects)
	assert.True(t, g.HasDependency("/a.js", "/b.js"))
}

func TestShake_SideEffectsBubbleThroughReexports(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js":    "import { x } from './mid';\nconsole.log(1);",
		"/mid.js":  "export { x } from './leaf';",
		"/leaf.js": "window.loaded = true;\nexport const x = 1;",
	}, nil)

	shake(t, g)

	mid, ok := g.GetModule("/mid.js")
	require.True(t, ok)
	assert.True(t, mid.SideEffects)
	assert.Equal(t, "import \"./mid\";\nconsole.log(1);\n", sourceOf(t, g, "/a.js"))
	assert.Equal(t, "export { x } from './leaf';", sourceOf(t, g, "/mid.js"))
	assert.Equal(t, "window.loaded = true;\nexport const x = 1;", sourceOf(t, g, "/leaf.js"))
}

func TestShake_DeclaredPureModuleRemoved(t *testing.T) {
	pure := false
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { x } from './b';\nconsole.log(2);",
		"/b.js": "console.log('x');\nexport const x = 1;",
	}, func(id graph.ModuleId, info *graph.ModuleInfo) {
		if id == "/b.js" {
			info.DescribedSideEffects = &pure
		}
	})

	res := shake(t, g)

	assert.Equal(t, []graph.ModuleId{"/b.js"}, res.Removed)
	assert.Equal(t, "console.log(2);\n", sourceOf(t, g, "/a.js"))
}

func TestShake_StarReexports(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js":     "import { foo } from './index';\nfoo();",
		"/index.js": "export * from './x';\nexport * from './y';",
		"/x.js":     "export function foo() {}\nexport function bar() {}",
		"/y.js":     "export const baz = 1;",
	}, nil)

	res := shake(t, g)

	assert.Equal(t, []graph.ModuleId{"/y.js"}, res.Removed)
	assert.Equal(t, "export * from './x';\n", sourceOf(t, g, "/index.js"))
	assert.Equal(t, "export function foo() {}\n", sourceOf(t, g, "/x.js"))
	assert.False(t, g.HasDependency("/index.js", "/y.js"))
}

func TestShake_ExportClauseTrimmed(t *testing.T) {
	b := "const one = 1;\nconst two = 2;\nfunction big() { return 3; }\nexport { one, two, big as alias };"

	cases := []struct {
		name  string
		entry string
		want  string
	}{
		{
			name:  "plain specifier",
			entry: "import { one } from './b';\nconsole.log(one);",
			want:  "const one = 1;\nexport { one };\n",
		},
		{
			name:  "aliased specifier",
			entry: "import { alias } from './b';\nconsole.log(alias());",
			want:  "function big() { return 3; }\nexport { big as alias };\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGraph(t, []string{"/a.js"}, files{"/a.js": tc.entry, "/b.js": b}, nil)

			res := shake(t, g)

			assert.Equal(t, tc.want, sourceOf(t, g, "/b.js"))
			assert.Equal(t, tc.entry, sourceOf(t, g, "/a.js"))
			assert.Equal(t, []graph.ModuleId{"/b.js"}, res.Rewritten)
		})
	}
}

func TestShake_TransitiveReferencesKept(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { area } from './geo';\nconsole.log(area(2));",
		"/geo.js": "import { PI } from './consts';\n" +
			"function square(x) { return x * x; }\n" +
			"export function area(r) { return PI * square(r); }\n" +
			"export function perimeter(r) { return 2 * PI * r; }",
		"/consts.js": "export const PI = 3.14;\nexport const E = 2.71;",
	}, nil)

	shake(t, g)

	geo := sourceOf(t, g, "/geo.js")
	assert.Contains(t, geo, "function square(x)")
	assert.Contains(t, geo, "export function area(r)")
	assert.NotContains(t, geo, "perimeter")
	assert.Equal(t, "export const PI = 3.14;\n", sourceOf(t, g, "/consts.js"))
}

func TestShake_PureAnnotation(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { x } from './b';\nconsole.log(x);",
		"/b.js": "export const x = 1;\nexport const y = /*#__PURE__*/ build();\nfunction build() { return {}; }",
	}, nil)

	shake(t, g)

	assert.Equal(t, "export const x = 1;\n", sourceOf(t, g, "/b.js"))
	m, _ := g.GetModule("/b.js")
	assert.False(t, m.SideEffects)
}

func TestShake_EffectfulInitializerKept(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import { x } from './b';\nconsole.log(x);",
		"/b.js": "export const x = 1;\nexport const y = register();\nfunction register() { return {}; }",
	}, nil)

	shake(t, g)

	b := sourceOf(t, g, "/b.js")
	assert.Contains(t, b, "register()")
	m, _ := g.GetModule("/b.js")
	assert.True(t, m.SideEffects)
}

func TestShake_CommonJSDependenciesFullyUsed(t *testing.T) {
	b := "export const x = 1;\nexport const y = 2;"
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js": "import './c';",
		"/c.js": "const b = require('./b');\nmodule.exports = b.x;",
		"/b.js": b,
	}, nil)

	res := shake(t, g)

	assert.Equal(t, b, sourceOf(t, g, "/b.js"))
	assert.True(t, g.HasModule("/c.js"))
	assert.Empty(t, res.Removed)
}

func TestShake_DynamicImportTargetsKept(t *testing.T) {
	lazy := "export const p = 1;\nexport const q = 2;"

	cases := []struct {
		name  string
		entry string
	}{
		{name: "importer without module syntax", entry: "import('./lazy');"},
		{name: "module importer", entry: "export const load = () => import('./lazy');"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGraph(t, []string{"/a.js"}, files{
				"/a.js":    tc.entry,
				"/lazy.js": lazy,
			}, nil)

			shake(t, g)

			assert.Equal(t, lazy, sourceOf(t, g, "/lazy.js"))
			m, _ := g.GetModule("/lazy.js")
			assert.True(t, m.SideEffects)
		})
	}
}

func TestShake_UnreachableModulesPruned(t *testing.T) {
	g := newGraph(t, []string{"/a.js"}, files{
		"/a.js":      "console.log(1);",
		"/orphan.js": "console.log(2);",
	}, nil)

	res := shake(t, g)

	assert.Equal(t, []graph.ModuleId{"/orphan.js"}, res.Removed)
	assert.True(t, g.HasModule("/a.js"))
}

func TestShake_Deterministic(t *testing.T) {
	fs := files{
		"/a.js":     "import { foo, used } from './index';\nimport { x } from './b';\nfoo(used);",
		"/index.js": "export * from './x';\nexport { used } from './b';",
		"/x.js":     "export function foo() {}\nexport function bar() {}",
		"/b.js":     "export const used = 1;\nexport const x = 2;",
	}

	var first Result
	var firstSources map[string]string
	for run := 0; run < 5; run++ {
		g := newGraph(t, []string{"/a.js"}, fs, nil)
		res := shake(t, g)
		sources := make(map[string]string)
		for _, m := range g.GetModules() {
			sources[string(m.Id)] = string(m.Info.Program().Source)
		}
		if run == 0 {
			first, firstSources = res, sources
			continue
		}
		assert.Equal(t, first.Removed, res.Removed)
		assert.Equal(t, first.Rewritten, res.Rewritten)
		assert.Equal(t, firstSources, sources)
	}
	assert.Equal(t, "export const used = 1;\n", firstSources["/b.js"])
}

func TestUsedExports(t *testing.T) {
	var u UsedExports
	assert.True(t, u.IsEmpty())

	assert.True(t, u.Add("b"))
	assert.False(t, u.Add("b"))
	assert.True(t, u.Add("a"))
	assert.Equal(t, []string{"a", "b"}, u.Names())
	assert.True(t, u.Has("a"))
	assert.False(t, u.Has("c"))

	assert.True(t, u.Refer())
	assert.False(t, u.Refer())

	assert.True(t, u.UseAll())
	assert.False(t, u.UseAll())
	assert.True(t, u.IsAll())
	assert.True(t, u.Has("anything"))
	assert.False(t, u.Add("c"))

	var referred UsedExports
	referred.Refer()
	assert.False(t, referred.IsEmpty())
}

func TestSystemOf(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		code string
		want ModuleSystem
	}{
		{"esm", "export const a = 1;", ESModule},
		{"commonjs", "module.exports = 1;", CommonJS},
		{"plain script", "console.log(1);", CommonJS},
		{"mixed", "import x from 'x';\nmodule.exports = x;", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := ast.ParseScript(ctx, "/m.js", []byte(tc.code), ast.SyntaxJS)
			require.NoError(t, err)
			m := &graph.Module{Id: "/m.js", Kind: graph.KindScript, Info: &graph.ModuleInfo{AST: prog}}
			assert.Equal(t, tc.want, SystemOf(m))
			assert.Equal(t, tc.want.String(), SystemOf(m).String())
		})
	}

	assert.Equal(t, Unknown, SystemOf(nil))
	assert.Equal(t, Unknown, SystemOf(&graph.Module{Id: "/s.css", Kind: graph.KindStyle}))
}

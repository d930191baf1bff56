// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// fixture writes files relative to a temp root and returns the root.
func fixture(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestNodeResolver_Relative(t *testing.T) {
	root := fixture(t, map[string]string{
		"src/index.js":       "",
		"src/util.ts":        "",
		"src/lib/index.js":   "",
		"src/data.json":      "{}",
		"src/readme.txt":     "",
		"src/exact.js":       "",
		"src/exact.js.js":    "",
		"src/pkgdir/main.js": "",
		"src/pkgdir/package.json": `{"main": "main.js"}`,
	})
	r := New(Options{Root: root})
	importer := filepath.Join(root, "src", "index.js")
	ctx := context.Background()

	tests := []struct {
		spec string
		want string
	}{
		{"./util", "src/util.ts"},
		{"./lib", "src/lib/index.js"},
		{"./data.json", "src/data.json"},
		{"./exact.js", "src/exact.js"},
		{"./pkgdir", "src/pkgdir/main.js"},
		{"../src/util", "src/util.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			res, err := r.Resolve(ctx, importer, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, KindResolved, res.Kind)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), res.Path)
			assert.Equal(t, graph.NewModuleId(res.Path, ""), res.Id)
		})
	}

	t.Run("absolute", func(t *testing.T) {
		res, err := r.Resolve(ctx, importer, filepath.Join(root, "src", "util"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "src", "util.ts"), res.Path)
	})

	t.Run("query", func(t *testing.T) {
		res, err := r.Resolve(ctx, importer, "./readme.txt?raw")
		require.NoError(t, err)
		assert.Equal(t, "raw", res.Query)
		assert.Equal(t, "raw", res.Id.Query())
		assert.Equal(t, filepath.Join(root, "src", "readme.txt"), res.Id.Path())
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.Resolve(ctx, importer, "./nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "can't resolve './nope'")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := r.Resolve(ctx, importer, "")
		assert.ErrorIs(t, err, ErrEmptySpecifier)
	})
}

func TestNodeResolver_Bare(t *testing.T) {
	root := fixture(t, map[string]string{
		"src/deep/index.js":                        "",
		"node_modules/plain/index.js":              "",
		"node_modules/esm/package.json":            `{"main": "cjs.js", "module": "esm.js"}`,
		"node_modules/esm/esm.js":                  "",
		"node_modules/esm/cjs.js":                  "",
		"node_modules/browser/package.json":        `{"main": "node.js", "browser": "web.js"}`,
		"node_modules/browser/web.js":              "",
		"node_modules/objbrowser/package.json":     `{"main": "node.js", "browser": {"./node.js": "./web.js"}}`,
		"node_modules/objbrowser/node.js":          "",
		"node_modules/@scope/pkg/package.json":     `{"main": "lib/main"}`,
		"node_modules/@scope/pkg/lib/main.js":      "",
		"node_modules/@scope/pkg/lib/extra.js":     "",
		"src/deep/node_modules/plain/index.js":     "",
	})
	r := New(Options{Root: root})
	importer := filepath.Join(root, "src", "index.js")
	ctx := context.Background()

	tests := []struct {
		spec string
		want string
	}{
		{"plain", "node_modules/plain/index.js"},
		{"esm", "node_modules/esm/esm.js"},
		{"browser", "node_modules/browser/web.js"},
		{"objbrowser", "node_modules/objbrowser/node.js"},
		{"@scope/pkg", "node_modules/@scope/pkg/lib/main.js"},
		{"@scope/pkg/lib/extra", "node_modules/@scope/pkg/lib/extra.js"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			res, err := r.Resolve(ctx, importer, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), res.Path)
		})
	}

	t.Run("nearest node_modules wins", func(t *testing.T) {
		res, err := r.Resolve(ctx, filepath.Join(root, "src", "deep", "index.js"), "plain")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "src", "deep", "node_modules", "plain", "index.js"), res.Path)
	})

	t.Run("unknown package", func(t *testing.T) {
		_, err := r.Resolve(ctx, importer, "left-pad")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNodeResolver_ExternalsIgnoresAlias(t *testing.T) {
	root := fixture(t, map[string]string{
		"src/index.js":            "",
		"src/components/button.js": "",
	})
	r := New(Options{
		Root: root,
		Externals: map[string]External{
			"react": {Global: "React"},
			"jq":    {Global: "jQuery", ScriptURL: "https://cdn.example.com/jq.js"},
		},
		Ignores: []*regexp.Regexp{regexp.MustCompile(`^fs$`)},
		Alias: map[string]string{
			"@":            filepath.Join(root, "src"),
			"@components":  filepath.Join(root, "src", "components"),
		},
	})
	importer := filepath.Join(root, "src", "index.js")
	ctx := context.Background()

	res, err := r.Resolve(ctx, importer, "react")
	require.NoError(t, err)
	assert.Equal(t, KindExternal, res.Kind)
	assert.Equal(t, ExternalId("react"), res.Id)
	assert.Equal(t, &graph.ExternalInfo{Global: "React"}, res.External)

	res, err = r.Resolve(ctx, importer, "jq")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/jq.js", res.External.ScriptURL)

	res, err = r.Resolve(ctx, importer, "fs")
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, res.Kind)
	assert.Equal(t, IgnoredId("fs"), res.Id)

	res, err = r.Resolve(ctx, importer, "@components/button")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "components", "button.js"), res.Path)

	res, err = r.Resolve(ctx, importer, "@/components/button")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "components", "button.js"), res.Path)
}

func TestNodeResolver_SideEffects(t *testing.T) {
	root := fixture(t, map[string]string{
		"package.json":                         `{"name": "app"}`,
		"src/index.js":                         "",
		"node_modules/pure/package.json":       `{"sideEffects": false}`,
		"node_modules/pure/index.js":           "",
		"node_modules/impure/package.json":     `{"sideEffects": true}`,
		"node_modules/impure/index.js":         "",
		"node_modules/globbed/package.json":    `{"sideEffects": ["./src/polyfill.js", "*.css"]}`,
		"node_modules/globbed/index.js":        "",
		"node_modules/globbed/src/polyfill.js": "",
		"node_modules/globbed/src/theme/a.css": "",
		"node_modules/single/package.json":     `{"sideEffects": "./setup.js"}`,
		"node_modules/single/index.js":         "",
		"node_modules/single/setup.js":         "",
		"node_modules/bad/package.json":        `{"sideEffects": 3}`,
		"node_modules/bad/index.js":            "",
	})
	r := New(Options{Root: root})
	importer := filepath.Join(root, "src", "index.js")
	ctx := context.Background()

	verdict := func(spec string) *bool {
		res, err := r.Resolve(ctx, importer, spec)
		require.NoError(t, err, spec)
		return res.SideEffects
	}
	ptr := func(b bool) *bool { return &b }

	assert.Equal(t, ptr(false), verdict("pure"))
	assert.Equal(t, ptr(true), verdict("impure"))
	assert.Equal(t, ptr(false), verdict("globbed"))
	assert.Equal(t, ptr(true), verdict("globbed/src/polyfill"))
	assert.Equal(t, ptr(true), verdict("globbed/src/theme/a.css"))
	assert.Equal(t, ptr(true), verdict("single/setup"))
	assert.Equal(t, ptr(false), verdict("single"))
	assert.Nil(t, verdict("./index.js"), "the app package.json declares nothing")

	_, err := r.Resolve(ctx, importer, "bad")
	assert.ErrorIs(t, err, ErrInvalidPackageJSON)
}

func TestNodeResolver_ConcurrentPackageReads(t *testing.T) {
	root := fixture(t, map[string]string{
		"src/index.js":                   "",
		"node_modules/pure/package.json": `{"sideEffects": false, "main": "main.js"}`,
		"node_modules/pure/main.js":      "",
	})
	r := New(Options{Root: root})
	importer := filepath.Join(root, "src", "index.js")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), importer, "pure")
			assert.NoError(t, err)
			assert.Equal(t, filepath.Join(root, "node_modules", "pure", "main.js"), res.Path)
		}()
	}
	wg.Wait()
}

func TestSplitPackage(t *testing.T) {
	tests := []struct {
		in, name, sub string
	}{
		{"a", "a", ""},
		{"a/b/c", "a", "b/c"},
		{"@s/a", "@s/a", ""},
		{"@s/a/b/c", "@s/a", "b/c"},
	}
	for _, tt := range tests {
		name, sub := splitPackage(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.sub, sub, tt.in)
	}
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "**/*.css", normalizePattern("*.css"))
	assert.Equal(t, "src/a.js", normalizePattern("./src/a.js"))
}

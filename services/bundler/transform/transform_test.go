// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

func runPass(t *testing.T, pass Pass, syntax ast.Syntax, code string) *Unit {
	t.Helper()
	u := NewUnit("/src/a.js", syntax, 1, []byte(code))
	require.NoError(t, NewPipeline([]Pass{pass}).Run(context.Background(), u))
	return u
}

func TestDefinePass(t *testing.T) {
	pass := &DefinePass{Defines: map[string]string{
		"process.env.NODE_ENV": `"production"`,
		"__DEV__":              "false",
	}}

	t.Run("member chain and identifier", func(t *testing.T) {
		u := runPass(t, pass, ast.SyntaxJS, "if (process.env.NODE_ENV !== 'x' && __DEV__) {}\n")
		assert.Equal(t, "if (\"production\" !== 'x' && false) {}\n", string(u.Code()))
	})

	t.Run("shorthand property", func(t *testing.T) {
		u := runPass(t, pass, ast.SyntaxJS, "const o = { __DEV__ };\n")
		assert.Equal(t, "const o = { __DEV__: false };\n", string(u.Code()))
	})

	t.Run("shadowed root is kept", func(t *testing.T) {
		code := "function f(process, __DEV__) { return process.env.NODE_ENV + __DEV__; }\n"
		u := runPass(t, pass, ast.SyntaxJS, code)
		assert.Equal(t, code, string(u.Code()))
	})

	t.Run("assignment target is kept", func(t *testing.T) {
		code := "process.env.NODE_ENV = 'test';\n"
		u := runPass(t, pass, ast.SyntaxJS, code)
		assert.Equal(t, code, string(u.Code()))
	})
}

func TestProvidePass(t *testing.T) {
	pass := &ProvidePass{Provides: map[string]Provided{
		"Buffer":  {Source: "buffer", Property: "Buffer"},
		"process": {Source: "process"},
		"unused":  {Source: "nope"},
	}}

	t.Run("esm", func(t *testing.T) {
		u := runPass(t, pass, ast.SyntaxJS, "export const b = Buffer.from(process.argv);\n")
		assert.Equal(t, `import { Buffer } from "buffer";
import process from "process";
export const b = Buffer.from(process.argv);
`, string(u.Code()))
	})

	t.Run("script", func(t *testing.T) {
		u := runPass(t, pass, ast.SyntaxJS, "module.exports = Buffer.alloc(1);\n")
		assert.Equal(t, `var Buffer = require("buffer").Buffer;
module.exports = Buffer.alloc(1);
`, string(u.Code()))
	})

	t.Run("declared names are not shimmed", func(t *testing.T) {
		code := "const Buffer = 1;\nexport default Buffer;\n"
		u := runPass(t, pass, ast.SyntaxJS, code)
		assert.Equal(t, code, string(u.Code()))
	})
}

func TestDynamicImportToRequirePass(t *testing.T) {
	u := runPass(t, DynamicImportToRequirePass{}, ast.SyntaxJS, "const m = import('./lazy');\nimport(name);\n")
	assert.Equal(t, "const m = Promise.resolve().then(() => require('./lazy'));\nimport(name);\n", string(u.Code()))
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func (m *memStore) GetTransform(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if ok {
		m.hits++
	}
	return v, ok
}

func (m *memStore) PutTransform(key string, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = code
}

func TestEsbuildPass(t *testing.T) {
	store := &memStore{data: make(map[string][]byte)}
	pass := &EsbuildPass{Store: store}

	t.Run("typescript is erased and reparsed", func(t *testing.T) {
		u := NewUnit("/src/a.ts", ast.SyntaxTS, 42, []byte("import { x } from './x';\nexport const n: number = x as number;\n"))
		require.NoError(t, NewPipeline([]Pass{pass}).Run(context.Background(), u))
		assert.Equal(t, ast.SyntaxJS, u.Syntax)
		assert.Equal(t, ast.SyntaxTS, u.Origin)
		assert.NotContains(t, string(u.Code()), ": number")

		prog, err := u.Program(context.Background())
		require.NoError(t, err)
		require.NoError(t, prog.Err())
		assert.True(t, prog.HasModuleSyntax())
		assert.Equal(t, []string{"n"}, prog.ExportedNames())
	})

	t.Run("second run hits the store", func(t *testing.T) {
		u := NewUnit("/src/a.ts", ast.SyntaxTS, 42, []byte("import { x } from './x';\nexport const n: number = x as number;\n"))
		require.NoError(t, pass.Run(context.Background(), u))
		assert.Equal(t, 1, store.hits)
	})

	t.Run("jsx", func(t *testing.T) {
		u := NewUnit("/src/a.jsx", ast.SyntaxJSX, 1, []byte("export const el = <div id=\"a\" />;\n"))
		require.NoError(t, pass.Run(context.Background(), u))
		assert.Contains(t, string(u.Code()), "React.createElement")
	})

	t.Run("syntax error", func(t *testing.T) {
		u := NewUnit("/src/bad.ts", ast.SyntaxTS, 2, []byte("const = ;\n"))
		err := NewPipeline([]Pass{pass}).Run(context.Background(), u)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPassFailed)
		assert.ErrorIs(t, err, ErrLowering)

		var lerr *LoweringError
		require.True(t, errors.As(err, &lerr))
		assert.Equal(t, 1, lerr.Line)
	})

	t.Run("javascript untouched", func(t *testing.T) {
		u := NewUnit("/src/a.js", ast.SyntaxJS, 3, []byte("export const a = 1;\n"))
		require.NoError(t, pass.Run(context.Background(), u))
		assert.Equal(t, "export const a = 1;\n", string(u.Code()))
	})
}

func TestPipeline_SkipsProgramPassesOnSyntaxError(t *testing.T) {
	u := NewUnit("/src/a.js", ast.SyntaxJS, 1, []byte("const = ;\n"))
	p := NewPipeline([]Pass{&DefinePass{Defines: map[string]string{"x": "1"}}, nil})
	require.NoError(t, p.Run(context.Background(), u))
	assert.Equal(t, []string{"define"}, p.Passes())

	prog, err := u.Program(context.Background())
	require.NoError(t, err)
	assert.Error(t, prog.Err())
}

func TestPipeline_OrderedPasses(t *testing.T) {
	p := NewPipeline([]Pass{
		&EsbuildPass{},
		&DefinePass{Defines: map[string]string{"__FLAG__": "true"}},
		DynamicImportToRequirePass{},
	})
	u := NewUnit("/src/a.ts", ast.SyntaxTS, 9, []byte("const f: boolean = __FLAG__;\nexport const lazy = () => import('./b');\n"))
	require.NoError(t, p.Run(context.Background(), u))

	code := string(u.Code())
	assert.Contains(t, code, "const f = true;")
	assert.True(t, strings.Contains(code, "require(\"./b\")") || strings.Contains(code, "require('./b')"))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

func TestLRU(t *testing.T) {
	c := NewLRU[string, int](2)
	var evicted []string
	c.OnEvict(func(k string, _ int) { evicted = append(evicted, k) })

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"b"}, evicted)

	c.Set("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	s := c.Stats()
	assert.Equal(t, int64(3), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Evictions)
	assert.Equal(t, 1, s.Size)

	c.Purge()
	assert.Equal(t, LRUStats{}, c.Stats())
}

func TestCache_Programs(t *testing.T) {
	c := New(Config{MemoryEntries: 4})
	defer c.Close()

	p, err := ast.ParseScript(context.Background(), "/a.js", []byte("export const a = 1;\n"), ast.SyntaxJS)
	require.NoError(t, err)

	_, ok := c.GetProgram("/a.js", 1)
	assert.False(t, ok)

	c.PutProgram("/a.js", 1, p)
	got, ok := c.GetProgram("/a.js", 1)
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = c.GetProgram("/a.js", 2)
	assert.False(t, ok, "a new content hash misses")

	c.InvalidatePath("/a.js", 1)
	_, ok = c.GetProgram("/a.js", 1)
	assert.False(t, ok)
}

func TestCache_TransformTier(t *testing.T) {
	store, err := OpenStore(StoreConfig{InMemory: true})
	require.NoError(t, err)
	c := New(Config{Store: store})
	defer func() { require.NoError(t, c.Close()) }()

	_, ok := c.GetTransform("esbuild:/a.ts:1")
	assert.False(t, ok)

	c.PutTransform("esbuild:/a.ts:1", []byte("export const a = 1;"))
	code, ok := c.GetTransform("esbuild:/a.ts:1")
	require.True(t, ok)
	assert.Equal(t, "export const a = 1;", string(code))
}

func TestCache_WithoutStore(t *testing.T) {
	c := New(Config{})
	c.PutTransform("k", []byte("v"))
	_, ok := c.GetTransform("k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(StoreConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s, err = OpenStore(StoreConfig{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, s.DropPrefix([]byte("k")))
	_, ok, err = s.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenStore_RequiresDir(t *testing.T) {
	_, err := OpenStore(StoreConfig{})
	assert.ErrorIs(t, err, ErrNoStoreDir)
}

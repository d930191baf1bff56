// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/compiler"
)

func waitBatch(t *testing.T, ch <-chan []Change) []Change {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
		return nil
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	batches := make(chan []Change, 4)
	w, err := New(root, func(_ context.Context, changes []Change) {
		batches <- changes
	}, Options{Debounce: 150 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.ErrorIs(t, w.Start(ctx), ErrAlreadyStarted)

	p := filepath.Join(root, "index.js")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(p, []byte("console.log(1);"), 0o644))
	}

	batch := waitBatch(t, batches)
	require.Len(t, batch, 1)
	assert.Equal(t, p, batch[0].Path)
}

func TestWatcher_IgnoredPathsProduceNothing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0o755))

	batches := make(chan []Change, 4)
	w, err := New(root, func(_ context.Context, changes []Change) {
		batches <- changes
	}, Options{
		Debounce: 50 * time.Millisecond,
		Ignore:   append([]string{"dist/**"}, DefaultIgnore...),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "out.js"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.js.swp"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src.js"), nil, 0o644))

	batch := waitBatch(t, batches)
	assert.Equal(t, []string{filepath.Join(root, "src.js")}, Paths(batch))
}

func TestWatcher_StopFlushesPending(t *testing.T) {
	root := t.TempDir()
	var mu sync.Mutex
	var got []Change
	w, err := New(root, func(_ context.Context, changes []Change) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, changes...)
	}, Options{Debounce: time.Hour})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	p := filepath.Join(root, "a.js")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	require.Eventually(t, func() bool { return w.Accepted() > 0 }, 5*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, p, got[0].Path)
}

func TestNew_BadIgnorePattern(t *testing.T) {
	_, err := New(t.TempDir(), nil, Options{Ignore: []string{"[a"}})
	assert.Error(t, err)
}

func TestShouldIgnore(t *testing.T) {
	w := &Watcher{root: "/p", ignore: []string{"node_modules", "*.tmp", "build/**"}}
	assert.True(t, w.shouldIgnore("/p/node_modules"))
	assert.True(t, w.shouldIgnore("/p/src/x.tmp"))
	assert.True(t, w.shouldIgnore("/p/build/deep/out.js"))
	assert.False(t, w.shouldIgnore("/p/src/index.js"))
}

func TestDeduplicate(t *testing.T) {
	at := time.Unix(100, 0)
	got := deduplicate([]Change{
		{Path: "/b.js", Op: OpCreate, Time: at},
		{Path: "/a.js", Op: OpWrite, Time: at},
		{Path: "/b.js", Op: OpRemove, Time: at.Add(time.Second)},
	})
	assert.Equal(t, []Change{
		{Path: "/a.js", Op: OpWrite, Time: at},
		{Path: "/b.js", Op: OpRemove, Time: at.Add(time.Second)},
	}, got)
}

func TestConvertOp(t *testing.T) {
	cases := []struct {
		in       fsnotify.Op
		want     Op
		relevant bool
	}{
		{fsnotify.Create, OpCreate, true},
		{fsnotify.Write, OpWrite, true},
		{fsnotify.Write | fsnotify.Chmod, OpWrite, true},
		{fsnotify.Remove, OpRemove, true},
		{fsnotify.Rename, OpRename, true},
		{fsnotify.Chmod, OpWrite, false},
	}
	for _, tc := range cases {
		got, relevant := convertOp(tc.in)
		assert.Equal(t, tc.relevant, relevant, tc.in.String())
		if relevant {
			assert.Equal(t, tc.want, got, tc.in.String())
		}
	}
	assert.Equal(t, "rename", OpRename.String())
}

type fakeRebuilder struct {
	calls chan []string
}

func (f *fakeRebuilder) Rebuild(_ context.Context, paths []string) (*compiler.Result, error) {
	f.calls <- paths
	return &compiler.Result{Unchanged: true}, nil
}

func TestSession_RebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	r := &fakeRebuilder{calls: make(chan []string, 4)}
	results := make(chan *compiler.Result, 4)
	s, err := NewSession(root, r, func(_ []Change, res *compiler.Result, err error) {
		assert.NoError(t, err)
		results <- res
	}, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	p := filepath.Join(root, "index.js")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte("1"), 0o644)
		select {
		case paths := <-r.calls:
			return len(paths) == 1 && paths[0] == p
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case res := <-results:
		assert.True(t, res.Unchanged)
	case <-time.After(5 * time.Second):
		t.Fatal("result callback not invoked")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

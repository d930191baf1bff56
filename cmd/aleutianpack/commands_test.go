// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPack/services/bundler/config"
	"github.com/AleutianAI/AleutianPack/services/bundler/watch"
)

const projectConfig = `entries: [index.js]
side_effects_default: false
workers: 2
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func testApp(t *testing.T, root string) (*app, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(root, config.FileName))
	require.NoError(t, err)

	var out bytes.Buffer
	a, err := newApp(context.Background(), cfg, &out, appOptions{Stderr: io.Discard, NoColor: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

var okProject = map[string]string{
	config.FileName: projectConfig,
	"index.js":      "import { used } from './lib';\nconsole.log(used);",
	"lib.js":        "export const used = 1;\nexport const unused = 2;",
}

func TestRunBuild_Success(t *testing.T) {
	a, out := testApp(t, writeProject(t, okProject))

	require.NoError(t, runBuild(context.Background(), a))
	assert.Contains(t, out.String(), "✓ 1 module in")
	assert.Contains(t, out.String(), "built 2 · ")
	assert.Contains(t, out.String(), "rewritten 1 · concatenated 1")
}

func TestRunBuild_FailurePrintsErrors(t *testing.T) {
	a, out := testApp(t, writeProject(t, map[string]string{
		config.FileName: projectConfig,
		"index.js":      "import './missing';",
	}))

	err := runBuild(context.Background(), a)
	assert.ErrorIs(t, err, errBuildFailed)
	assert.Contains(t, out.String(), "index.js:1:")
	assert.Contains(t, out.String(), "Module not found: Can't resolve './missing'")
	assert.Contains(t, out.String(), "Build failed with 1 error.")
}

func TestRunGraph(t *testing.T) {
	root := writeProject(t, okProject)

	a, out := testApp(t, root)
	require.NoError(t, runGraph(context.Background(), a, false))
	assert.Contains(t, out.String(), "* index.js (script, side-effects)")
	assert.NotContains(t, out.String(), "lib.js")

	raw, rawOut := testApp(t, root)
	require.NoError(t, runGraph(context.Background(), raw, true))
	assert.Contains(t, rawOut.String(), "  lib.js (script)")
	assert.Contains(t, rawOut.String(), "→ lib.js [import \"./lib\"]")
}

func TestNewApp_BadLogLevel(t *testing.T) {
	cfg := config.Default()
	_, err := newApp(context.Background(), &cfg, io.Discard, appOptions{LogLevel: "loud", Stderr: io.Discard})
	assert.Error(t, err)
}

func TestWatchIgnores(t *testing.T) {
	cfg := config.Default()
	cfg.Root = "/proj"
	assert.Equal(t, watch.DefaultIgnore, watchIgnores(&cfg))

	cfg.Cache.Dir = ".cache/pack"
	got := watchIgnores(&cfg)
	assert.Equal(t, []string{".cache/pack", ".cache/pack/**"}, got[len(got)-2:])

	cfg.Cache.Dir = "/tmp/elsewhere"
	assert.Equal(t, watch.DefaultIgnore, watchIgnores(&cfg))
}

func TestRootCommand_Build(t *testing.T) {
	root := writeProject(t, okProject)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--config", filepath.Join(root, config.FileName), "--no-color", "--log-level", "error", "build"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "✓ 1 module in")
}

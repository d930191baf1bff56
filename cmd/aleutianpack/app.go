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
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPack/pkg/logging"
	"github.com/AleutianAI/AleutianPack/services/bundler/config"
	"github.com/AleutianAI/AleutianPack/services/bundler/report"
	"github.com/AleutianAI/AleutianPack/services/bundler/telemetry"
	"github.com/AleutianAI/AleutianPack/services/bundler/watch"
)

// errBuildFailed is returned after the reporter has printed the failure.
var errBuildFailed = errors.New("build failed")

// app is what every command needs: the loaded config, a logger and a
// printer bound to the command's output.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	printer  *report.Printer
	shutdown func(context.Context) error
}

// appOptions are the global flags after parsing.
type appOptions struct {
	LogLevel string
	LogJSON  bool
	LogDir   string
	Trace    bool
	NoColor  bool
	Stderr   io.Writer
}

func globalOptions(cmd *cobra.Command) appOptions {
	return appOptions{
		LogLevel: logLevel,
		LogJSON:  logJSON,
		LogDir:   logDir,
		Trace:    traceSpans,
		NoColor:  noColor,
		Stderr:   cmd.ErrOrStderr(),
	}
}

// setup loads the config file named by --config and builds the app.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, cmd.OutOrStdout(), globalOptions(cmd))
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer, opts appOptions) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	levelName := cfg.Log.Level
	if opts.LogLevel != "" {
		levelName = opts.LogLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  opts.LogDir,
		Service: "aleutianpack",
		JSON:    cfg.Log.JSON || opts.LogJSON,
		Stderr:  opts.Stderr,
	})

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Output = opts.Stderr
	if opts.Trace {
		tcfg.TraceExporter = telemetry.ExporterStdout
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		printer:  report.New(out, report.Options{Root: cfg.Root, NoColor: opts.NoColor}),
		shutdown: shutdown,
	}, nil
}

// Close flushes spans and closes the log file.
func (a *app) Close() error {
	var errs []error
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// watchIgnores extends the default ignore list with the persistent cache
// directory when it lives inside the project root.
func watchIgnores(cfg *config.Config) []string {
	ignores := append([]string(nil), watch.DefaultIgnore...)
	dir := cfg.CacheDir()
	if dir == "" {
		return ignores
	}
	rel, err := filepath.Rel(cfg.Root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ignores
	}
	rel = filepath.ToSlash(rel)
	return append(ignores, rel, rel+"/**")
}

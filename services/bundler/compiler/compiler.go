// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compiler is the top-level bundler instance.
//
// A Compiler owns the cache and two graphs. The build graph is what the
// scheduler writes and is only ever updated by build and rebuild waves.
// The output graph is a fresh copy of the build graph, tree shaken and
// concatenated after every wave, and is what downstream consumers read.
// Keeping them apart lets a rebuild start from unshaken modules.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianPack/services/bundler/build"
	"github.com/AleutianAI/AleutianPack/services/bundler/cache"
	"github.com/AleutianAI/AleutianPack/services/bundler/concatenate"
	"github.com/AleutianAI/AleutianPack/services/bundler/config"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
	"github.com/AleutianAI/AleutianPack/services/bundler/load"
	"github.com/AleutianAI/AleutianPack/services/bundler/resolve"
	"github.com/AleutianAI/AleutianPack/services/bundler/transform"
	"github.com/AleutianAI/AleutianPack/services/bundler/treeshake"
)

var tracer = otel.Tracer("aleutian.bundler.compiler")

var compileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "aleutian",
	Subsystem: "bundler_compiler",
	Name:      "duration_seconds",
	Help:      "Duration of compilations including optimization",
	Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"kind", "outcome"})

// storeGCInterval is how often the persistent cache collects garbage.
const storeGCInterval = 10 * time.Minute

// Options configures a Compiler.
type Options struct {
	// Loader replaces the file system loader.
	Loader load.Loader

	// Resolver replaces the node_modules resolver built from the config.
	Resolver resolve.Resolver

	Logger *slog.Logger
}

// Result describes one compilation.
type Result struct {
	Wave   build.WaveResult
	Shake  treeshake.Result
	Concat concatenate.Result

	// Pruned lists build graph modules dropped because no entry reaches
	// them any more.
	Pruned []graph.ModuleId

	// Graph is the optimized output graph.
	Graph *graph.ModuleGraph

	// Unchanged is set when a rebuild touched no known module.
	Unchanged bool

	Duration time.Duration
}

// Errors returns every module failure of the wave.
func (r *Result) Errors() []*build.ModuleError {
	return r.Wave.Errors
}

// Compiler builds and optimizes a project.
//
// # Thread Safety
//
// Compile and Rebuild are serialized internally. Output may be called at
// any time and returns the graph of the last finished compilation.
type Compiler struct {
	cfg     *config.Config
	cache   *cache.Cache
	built   *graph.ModuleGraph
	builder *build.Builder
	entries []graph.ModuleId
	logger  *slog.Logger

	// mu serializes waves.
	mu       sync.Mutex
	compiled bool
	closed   bool

	outMu  sync.RWMutex
	output *graph.ModuleGraph
}

// New creates a Compiler from a validated configuration.
//
// # Description
//
// Opens the persistent cache when cfg.Cache.Dir is set, then wires the
// resolver, loader and transform pipeline the configuration asks for.
// Passes run in this order: esbuild lowering, define, provide, then the
// dynamic import rewrite.
//
// # Outputs
//
//   - *Compiler: Close it to release the cache.
//   - error: ErrNilConfig, invalid ignore patterns, or a cache open error.
func New(cfg *config.Config, opts Options) (*Compiler, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "compiler"))

	ignores, err := cfg.CompiledIgnores()
	if err != nil {
		return nil, err
	}

	var store *cache.Store
	if dir := cfg.CacheDir(); dir != "" {
		store, err = cache.OpenStore(cache.StoreConfig{
			Dir:        dir,
			GCInterval: storeGCInterval,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open persistent cache: %w", err)
		}
	}
	artifacts := cache.New(cache.Config{
		MemoryEntries: cfg.Cache.MemoryEntries,
		Store:         store,
		Logger:        logger,
	})

	resolver := opts.Resolver
	if resolver == nil {
		resolver = resolve.New(resolve.Options{
			Root:      cfg.Root,
			Externals: cfg.Externals,
			Alias:     cfg.Alias,
			Ignores:   ignores,
			Logger:    logger,
		})
	}
	loader := opts.Loader
	if loader == nil {
		loader = load.NewFileLoader()
	}

	built := graph.New()
	builder, err := build.New(built, build.Options{
		Workers:       cfg.Workers,
		Watch:         cfg.Watch,
		PureByDefault: !cfg.SideEffectsDefault,
		Loader:        loader,
		Resolver:      resolver,
		Pipeline:      newPipeline(cfg, artifacts, logger),
		Cache:         artifacts,
		Logger:        logger,
	})
	if err != nil {
		_ = artifacts.Close()
		return nil, err
	}

	paths := cfg.EntryPaths()
	entries := make([]graph.ModuleId, len(paths))
	for i, p := range paths {
		entries[i] = graph.NewModuleId(p, "")
	}

	return &Compiler{
		cfg:     cfg,
		cache:   artifacts,
		built:   built,
		builder: builder,
		entries: entries,
		logger:  logger,
	}, nil
}

func newPipeline(cfg *config.Config, store transform.Store, logger *slog.Logger) *transform.Pipeline {
	passes := []transform.Pass{
		&transform.EsbuildPass{Store: store},
		&transform.DefinePass{Defines: cfg.Defines()},
	}
	if len(cfg.Provide) > 0 {
		passes = append(passes, &transform.ProvidePass{Provides: cfg.Provide})
	}
	if cfg.DynamicImportToRequire {
		passes = append(passes, transform.DynamicImportToRequirePass{})
	}
	return transform.NewPipeline(passes, transform.WithLogger(logger))
}

// Entries returns the entry module ids.
func (c *Compiler) Entries() []graph.ModuleId {
	return append([]graph.ModuleId(nil), c.entries...)
}

// BuildGraph returns the unoptimized graph written by build waves.
func (c *Compiler) BuildGraph() *graph.ModuleGraph {
	return c.built
}

// Output returns the optimized graph of the last compilation, or nil.
func (c *Compiler) Output() *graph.ModuleGraph {
	c.outMu.RLock()
	defer c.outMu.RUnlock()
	return c.output
}

// CacheStats reports the program cache counters.
func (c *Compiler) CacheStats() cache.LRUStats {
	return c.cache.Stats()
}

// Compile builds every entry and optimizes the result.
//
// # Outputs
//
//   - *Result: Populated whenever the build wave ran.
//   - error: In one-shot mode a *build.BuildAggregateError when any module
//     failed; the output graph is then left unchanged. Also ctx.Err() on
//     cancellation and graph update failures from optimization.
func (c *Compiler) Compile(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	ctx, span := tracer.Start(ctx, "compiler.Compile",
		trace.WithAttributes(attribute.Int("compiler.entries", len(c.entries))),
	)
	defer span.End()
	start := time.Now()

	wr, err := c.builder.Build(ctx, c.entries)
	res := &Result{Wave: wr}
	if err == nil {
		c.compiled = true
		err = c.optimize(ctx, res)
	}
	return c.finish(span, "compile", start, res, err)
}

// Rebuild re-runs the modules backed by the changed files.
//
// # Description
//
// Every module whose path is one of paths is rebuilt. A path the graph
// does not know may be a file that a failed specifier can now resolve to,
// so it also rebuilds every module with missing dependencies. Modules no
// entry reaches after the wave are pruned from the build graph before the
// output graph is recomputed.
//
// # Inputs
//
//   - ctx: Cancellation stops scheduling of new modules.
//   - paths: Absolute file paths.
//
// # Outputs
//
//   - *Result: Unchanged is set when nothing needed rebuilding.
//   - error: ErrNotCompiled before the first successful Compile, or as
//     Compile.
func (c *Compiler) Rebuild(ctx context.Context, paths []string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.compiled {
		return nil, ErrNotCompiled
	}

	changed := c.affected(paths)
	if len(changed) == 0 {
		return &Result{Unchanged: true, Graph: c.Output()}, nil
	}

	ctx, span := tracer.Start(ctx, "compiler.Rebuild",
		trace.WithAttributes(
			attribute.Int("compiler.paths", len(paths)),
			attribute.Int("compiler.changed", len(changed)),
		),
	)
	defer span.End()
	start := time.Now()

	wr, err := c.builder.Rebuild(ctx, changed)
	res := &Result{Wave: wr}
	if err == nil {
		res.Pruned = c.prune()
		err = c.optimize(ctx, res)
	}
	return c.finish(span, "rebuild", start, res, err)
}

// affected maps file paths to build graph modules.
func (c *Compiler) affected(paths []string) []graph.ModuleId {
	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[filepath.ToSlash(filepath.Clean(p))] = true
	}

	var out []graph.ModuleId
	known := make(map[string]bool)
	var withMissing []graph.ModuleId
	for _, m := range c.built.GetModules() {
		p := m.Id.Path()
		if wanted[p] {
			out = append(out, m.Id)
			known[p] = true
		}
		if m.Info != nil && len(m.Info.Missing) > 0 {
			withMissing = append(withMissing, m.Id)
		}
	}
	if len(known) < len(wanted) {
		out = append(out, withMissing...)
	}
	return out
}

// prune removes modules no entry reaches.
func (c *Compiler) prune() []graph.ModuleId {
	reach := c.built.Reachable()
	var removed []graph.ModuleId
	for _, id := range c.built.GetModuleIds() {
		if _, ok := reach[id]; !ok {
			c.built.RemoveModule(id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		c.logger.Debug("pruned unreachable modules", slog.Int("count", len(removed)))
	}
	return removed
}

// optimize derives the output graph from the build graph.
func (c *Compiler) optimize(ctx context.Context, res *Result) error {
	out := c.built.Clone()

	if c.cfg.TreeShaking {
		shaken, err := treeshake.Shake(ctx, out, treeshake.Options{Logger: c.logger})
		if err != nil {
			return fmt.Errorf("tree shaking: %w", err)
		}
		res.Shake = shaken
	}
	if c.cfg.Concatenate {
		merged, err := concatenate.Concatenate(ctx, out, concatenate.Options{Logger: c.logger})
		if err != nil {
			return fmt.Errorf("concatenation: %w", err)
		}
		res.Concat = merged
	}

	c.outMu.Lock()
	c.output = out
	c.outMu.Unlock()
	res.Graph = out
	return nil
}

func (c *Compiler) finish(span trace.Span, kind string, start time.Time, res *Result, err error) (*Result, error) {
	res.Duration = time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, kind+" failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	compileDuration.WithLabelValues(kind, outcome).Observe(res.Duration.Seconds())

	attrs := []any{
		slog.String("wave_id", res.Wave.WaveId),
		slog.Int("built", len(res.Wave.Built)),
		slog.Int("errors", len(res.Wave.Errors)),
		slog.Duration("duration", res.Duration),
	}
	if res.Graph != nil {
		attrs = append(attrs,
			slog.Int("modules", res.Graph.Stats().Modules),
			slog.Int("shaken", len(res.Shake.Removed)),
			slog.Int("concatenated", len(res.Concat.Removed)),
		)
	}
	var agg *build.BuildAggregateError
	switch {
	case err == nil:
		c.logger.Info(kind+" finished", attrs...)
	case errors.As(err, &agg):
		c.logger.Error(kind+" failed", append(attrs, slog.Int("failures", len(agg.Errors)))...)
	default:
		c.logger.Error(kind+" failed", append(attrs, slog.String("error", err.Error()))...)
	}
	return res, err
}

// Close releases the cache. Waves in progress finish first.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.cache.Close()
}

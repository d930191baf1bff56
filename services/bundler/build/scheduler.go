// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package build discovers and builds the module graph.
//
// A wave is driven by one orchestrator goroutine that owns every graph
// mutation, and a fixed pool of workers that run the per-module pipeline
// (Load, Parse, Transform, Analyze, Resolve) without touching the graph.
// Workers pull from an unbounded FIFO and hand results back over a
// buffered channel.
//
// The wave keeps a pending counter: it starts at the number of seeds, is
// decremented per result and incremented per newly discovered module. A
// placeholder and its edge are committed before the discovered module is
// enqueued, so every edge target exists when its result arrives. The wave
// ends when pending reaches zero.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
	"github.com/AleutianAI/AleutianPack/services/bundler/load"
	"github.com/AleutianAI/AleutianPack/services/bundler/resolve"
	"github.com/AleutianAI/AleutianPack/services/bundler/transform"
)

// ErrMissingCollaborator is returned by New when a Loader or Resolver is
// not configured.
var ErrMissingCollaborator = errors.New("builder requires a loader and a resolver")

// ProgramCache stores parsed programs keyed by module id and content hash.
type ProgramCache interface {
	GetProgram(path string, hash uint64) (*ast.Program, bool)
	PutProgram(path string, hash uint64, p *ast.Program)
}

// Options configures a Builder.
type Options struct {
	// Workers is the pool size. Zero means runtime.NumCPU().
	Workers int

	// Watch selects the watch-mode error policy: failures become error
	// modules and missing dependencies are warnings.
	Watch bool

	// PureByDefault marks modules without a package.json sideEffects
	// declaration as side-effect free.
	PureByDefault bool

	Loader   load.Loader
	Resolver resolve.Resolver

	// Pipeline runs before the final parse of script modules. May be nil.
	Pipeline *transform.Pipeline

	// Cache may be nil.
	Cache ProgramCache

	Logger *slog.Logger
}

// WaveResult summarizes one build or rebuild wave.
type WaveResult struct {
	// WaveId identifies the wave in logs and spans.
	WaveId string

	// Built lists every module built during the wave, in completion order.
	Built []graph.ModuleId

	// Added lists modules discovered during the wave.
	Added []graph.ModuleId

	// Removed lists edges dropped by a rebuild.
	Removed []Edge

	// Errors holds every module failure, in both modes.
	Errors []*ModuleError

	// Cancelled is set when scheduling stopped because ctx was done.
	Cancelled bool

	Duration time.Duration
}

// Edge names a dependency edge.
type Edge struct {
	From graph.ModuleId
	To   graph.ModuleId
}

// Builder runs build waves against a module graph.
//
// Thread Safety: Waves must not overlap. Build and Rebuild are not safe to
// call concurrently on the same Builder; readers of the graph may run at
// any time.
type Builder struct {
	g      *graph.ModuleGraph
	opts   Options
	logger *slog.Logger
}

// New creates a Builder for g.
//
// # Outputs
//
//   - *Builder: Ready to run waves.
//   - error: ErrMissingCollaborator when Loader or Resolver is nil.
func New(g *graph.ModuleGraph, opts Options) (*Builder, error) {
	if opts.Loader == nil || opts.Resolver == nil {
		return nil, ErrMissingCollaborator
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{g: g, opts: opts, logger: logger.With(slog.String("component", "build"))}, nil
}

// Graph returns the graph the builder writes to.
func (b *Builder) Graph() *graph.ModuleGraph {
	return b.g
}

// Build seeds the entries and builds everything reachable from them.
//
// # Description
//
// Each entry is inserted as an entry module (or flagged as one if it is
// already present) and built. Dependencies are discovered, resolved and
// built until the wave drains.
//
// # Inputs
//
//   - ctx: Once done, no further modules are scheduled. Tasks already
//     queued still run so the wave can drain.
//   - entries: Module ids of the roots.
//
// # Outputs
//
//   - WaveResult: Always populated.
//   - error: ErrNoEntries, ctx.Err() when scheduling was cut short, or in
//     one-shot mode a *BuildAggregateError listing every failure.
func (b *Builder) Build(ctx context.Context, entries []graph.ModuleId) (WaveResult, error) {
	if len(entries) == 0 {
		return WaveResult{}, ErrNoEntries
	}

	seeds := make([]task, 0, len(entries))
	seen := make(map[graph.ModuleId]struct{}, len(entries))
	for _, id := range entries {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if m, ok := b.g.GetModule(id); ok {
			if !m.IsEntry {
				next := m.Clone()
				next.IsEntry = true
				if err := b.g.ReplaceModule(next); err != nil {
					return WaveResult{}, fmt.Errorf("marking entry %s: %w", id, err)
				}
			}
		} else {
			m := graph.NewPlaceholder(id)
			m.IsEntry = true
			if err := b.g.AddModule(m); err != nil {
				return WaveResult{}, fmt.Errorf("adding entry %s: %w", id, err)
			}
		}
		seeds = append(seeds, fileTask(id, nil))
	}
	return b.runWave(ctx, seeds, false)
}

// Rebuild rebuilds changed modules and anything they newly reference.
//
// Ids not present in the graph are ignored. Each rebuilt module has its
// ModuleInfo replaced and its outgoing edges replaced by the ones the new
// content references.
func (b *Builder) Rebuild(ctx context.Context, changed []graph.ModuleId) (WaveResult, error) {
	seeds := make([]task, 0, len(changed))
	seen := make(map[graph.ModuleId]struct{}, len(changed))
	for _, id := range changed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		m, ok := b.g.GetModule(id)
		if !ok {
			b.logger.Debug("rebuild skipped unknown module", slog.String("module", string(id)))
			continue
		}
		if m.Info != nil && (m.Info.External != nil || m.Info.IsIgnored) {
			continue
		}
		var described *bool
		if m.Info != nil {
			described = m.Info.DescribedSideEffects
		}
		seeds = append(seeds, fileTask(id, described))
	}
	if len(seeds) == 0 {
		return WaveResult{WaveId: uuid.NewString()}, nil
	}
	return b.runWave(ctx, seeds, true)
}

func fileTask(id graph.ModuleId, described *bool) task {
	return task{id: id, res: resolve.Resolution{
		Kind:        resolve.KindResolved,
		Id:          id,
		Path:        id.Path(),
		Query:       id.Query(),
		SideEffects: described,
	}}
}

// runWave is the orchestrator loop.
func (b *Builder) runWave(ctx context.Context, seeds []task, rebuild bool) (WaveResult, error) {
	wr := WaveResult{WaveId: uuid.NewString()}
	ctx, span := tracer.Start(ctx, "build.Builder.wave",
		trace.WithAttributes(
			attribute.String("build.wave_id", wr.WaveId),
			attribute.Int("build.seeds", len(seeds)),
			attribute.Bool("build.rebuild", rebuild),
		),
	)
	defer span.End()
	start := time.Now()

	logger := b.logger.With(slog.String("wave_id", wr.WaveId))
	logger.Info("build wave started", slog.Int("seeds", len(seeds)), slog.Bool("rebuild", rebuild))

	queue := newTaskQueue()
	results := make(chan result, b.opts.Workers)

	// In-flight tasks finish even if ctx is cancelled mid-wave. A worker
	// keeps draining the queue after a task panics and reports the first
	// panic once the queue is closed.
	workCtx := context.WithoutCancel(ctx)
	var workers errgroup.Group
	for i := 0; i < b.opts.Workers; i++ {
		workers.Go(func() error {
			var failed error
			for {
				t, ok := queue.pop()
				if !ok {
					return failed
				}
				r, err := b.safeRunTask(workCtx, t)
				if err != nil && failed == nil {
					failed = err
				}
				results <- r
			}
		})
	}

	pending := len(seeds)
	var skipped []graph.ModuleId
	for _, t := range seeds {
		queue.push(t)
	}

	for pending > 0 {
		r := <-results
		pending--
		recordModule(ctx, &r)

		next, err := b.apply(&r, rebuild, &wr, logger)
		if err != nil {
			// Only reachable if the graph was mutated outside the wave.
			logger.Error("applying build result", slog.String("module", string(r.id)), slog.String("error", err.Error()))
			continue
		}
		for _, t := range next {
			if ctx.Err() != nil {
				wr.Cancelled = true
				skipped = append(skipped, t.id)
				continue
			}
			pending++
			queue.push(t)
		}
	}
	queue.close()
	werr := workers.Wait()
	close(results)
	b.dropUnscheduled(&wr, skipped)

	wr.Duration = time.Since(start)
	recordWave(ctx, wr.Duration, rebuild)
	span.SetAttributes(
		attribute.Int("build.modules_built", len(wr.Built)),
		attribute.Int("build.errors", len(wr.Errors)),
	)

	logger.Info("build wave finished",
		slog.Int("built", len(wr.Built)),
		slog.Int("added", len(wr.Added)),
		slog.Int("errors", len(wr.Errors)),
		slog.Duration("duration", wr.Duration),
	)

	if werr != nil {
		span.RecordError(werr)
		span.SetStatus(codes.Error, "worker failed")
		return wr, werr
	}
	if wr.Cancelled {
		span.SetStatus(codes.Error, "scheduling cancelled")
		return wr, ctx.Err()
	}
	if !b.opts.Watch && len(wr.Errors) > 0 {
		agg := &BuildAggregateError{Errors: make([]error, len(wr.Errors))}
		for i, e := range wr.Errors {
			agg.Errors[i] = e
		}
		span.RecordError(agg)
		span.SetStatus(codes.Error, "build failed")
		return wr, agg
	}
	span.SetStatus(codes.Ok, "")
	return wr, nil
}

// safeRunTask runs t, turning a panic into a fatal module error so the
// orchestrator still receives a result for the task.
func (b *Builder) safeRunTask(ctx context.Context, t task) (r result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: building %s: panic: %v", ErrWorker, t.id, p)
			merr := &ModuleError{Kind: TransformError, ModuleId: t.id, Err: err}
			r = result{
				id:     t.id,
				module: &graph.Module{Id: t.id, SideEffects: true, Kind: graph.KindScript, Info: &graph.ModuleInfo{IsErrorModule: true}},
				fatal:  merr,
			}
		}
	}()
	return b.runTask(ctx, t), nil
}

// dropUnscheduled removes the placeholders of dependencies that were never
// scheduled because ctx was cancelled, together with their edges.
func (b *Builder) dropUnscheduled(wr *WaveResult, skipped []graph.ModuleId) {
	if len(skipped) == 0 {
		return
	}
	drop := make(map[graph.ModuleId]struct{}, len(skipped))
	for _, id := range skipped {
		if m, ok := b.g.GetModule(id); ok && m.IsPlaceholder() {
			b.g.RemoveModule(id)
			drop[id] = struct{}{}
		}
	}
	added := wr.Added[:0]
	for _, id := range wr.Added {
		if _, ok := drop[id]; !ok {
			added = append(added, id)
		}
	}
	wr.Added = added
}

// apply folds one result into the graph and returns the tasks for newly
// discovered dependencies. Only the orchestrator calls it.
func (b *Builder) apply(r *result, rebuild bool, wr *WaveResult, logger *slog.Logger) ([]task, error) {
	m := r.module
	wr.Built = append(wr.Built, r.id)

	if r.fatal != nil {
		wr.Errors = append(wr.Errors, r.fatal)
		logger.Warn("module build failed",
			slog.String("module", string(r.id)),
			slog.String("stage", r.fatal.Kind.String()),
			slog.String("error", r.fatal.Error()),
		)
	}
	for _, u := range r.unresolved {
		wr.Errors = append(wr.Errors, u)
		logger.Warn(MissingMessage(u.Source),
			slog.String("module", string(r.id)),
			slog.String("error", u.Err.Error()),
		)
	}

	if err := b.g.SetInfo(r.id, m.Info, m.Kind, m.SideEffects); err != nil {
		return nil, err
	}

	var previous []graph.ModuleId
	if rebuild {
		previous = b.g.GetDependencyIds(r.id)
		for _, to := range previous {
			b.g.RemoveDependency(r.id, to)
		}
	}

	var next []task
	current := make(map[graph.ModuleId]struct{}, len(m.Info.Deps))
	for _, dep := range m.Info.Deps {
		target, ok := m.Info.Resolved[dep.Source]
		if !ok {
			continue
		}
		if !b.g.HasModule(target.Id) {
			if err := b.g.AddModule(graph.NewPlaceholder(target.Id)); err != nil {
				return next, err
			}
			wr.Added = append(wr.Added, target.Id)
			next = append(next, task{id: target.Id, res: r.resolutions[dep.Source]})
		}
		if err := b.g.AddDependency(r.id, target.Id, dep); err != nil {
			return next, err
		}
		current[target.Id] = struct{}{}
	}

	for _, to := range previous {
		if _, still := current[to]; !still {
			wr.Removed = append(wr.Removed, Edge{From: r.id, To: to})
		}
	}
	logger.Debug("module built",
		slog.String("module", string(r.id)),
		slog.Int("deps", len(m.Info.Deps)),
		slog.Int("new", len(next)),
		slog.Duration("duration", r.duration),
	)
	return next, nil
}

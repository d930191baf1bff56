// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package treeshake removes unused statements and modules from a built
// module graph.
//
// # Phases
//
//  1. Topological sort. Entries and cycle members are side-effectful and
//     fully used; cycle members are never rewritten.
//  2. Side-effect facts bubble from dependencies to dependents. The
//     import or re-export of a side-effectful module becomes a
//     self-executing statement of the importer.
//  3. Used exports propagate from dependents to dependencies until no set
//     changes. Modules are revisited in topological order.
//  4. Each ES module is rewritten to its live statements. Modules nothing
//     uses are removed, as are modules no longer reachable from an entry.
//
// CommonJS, mixed and non-script modules are never rewritten; everything
// they depend on is fully used.
package treeshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// ErrRewrite is returned when a shaken module no longer parses.
var ErrRewrite = errors.New("tree shaking produced invalid code")

// Options configures Shake.
type Options struct {
	Logger *slog.Logger
}

// Result reports what Shake changed.
type Result struct {
	// Removed lists deleted modules, sorted.
	Removed []graph.ModuleId

	// Rewritten lists modules whose code changed, sorted.
	Rewritten []graph.ModuleId

	// Cycles are the cycle groups found by the topological sort.
	Cycles [][]graph.ModuleId

	// Passes counts module analyses run until the fixed point.
	Passes int
}

// engine holds the state of one Shake run.
type engine struct {
	g      *graph.ModuleGraph
	logger *slog.Logger

	order   []*shakeModule
	modules map[graph.ModuleId]*shakeModule

	exportCache map[graph.ModuleId]exportList
}

// Shake tree-shakes g in place.
//
// # Inputs
//
//   - ctx: Used for tracing and reparsing.
//   - g: A completed graph. No build wave may run concurrently.
//
// # Outputs
//
//   - Result: What changed.
//   - error: ErrRewrite if a rewritten module fails to parse. The graph
//     may be partially rewritten in that case.
//
// # Thread Safety
//
// Must not run concurrently with other mutations of g.
func Shake(ctx context.Context, g *graph.ModuleGraph, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "treeshake.Shake")
	defer span.End()
	start := time.Now()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &engine{
		g:           g,
		logger:      logger.With(slog.String("component", "treeshake")),
		modules:     make(map[graph.ModuleId]*shakeModule),
		exportCache: make(map[graph.ModuleId]exportList),
	}

	sorted, cycles := g.Toposort(ctx)
	res := Result{Cycles: cycles}
	inCycle := graph.CycleMembers(cycles)

	e.order = make([]*shakeModule, 0, len(sorted))
	for i, id := range sorted {
		m, ok := g.GetModule(id)
		if !ok {
			continue
		}
		sm := newShakeModule(m, i)
		if m.IsEntry {
			sm.used.UseAll()
		}
		if _, ok := inCycle[id]; ok {
			sm.used.UseAll()
			sm.intact = true
		}
		e.order = append(e.order, sm)
		e.modules[id] = sm
	}
	for i, sm := range e.order {
		sm.order = i
	}

	e.bubbleSideEffects(inCycle)
	res.Passes = e.propagate()

	rewritten, removed, err := e.strip(ctx)
	res.Rewritten = rewritten
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		return res, err
	}

	reach := g.Reachable()
	for _, id := range g.GetModuleIds() {
		if _, ok := reach[id]; !ok {
			g.RemoveModule(id)
			removed = append(removed, id)
		}
	}
	sortIds(removed)
	res.Removed = removed

	for _, sm := range e.order {
		if g.HasModule(sm.id) {
			_ = g.SetSideEffects(sm.id, sm.sideEffects)
		}
	}

	duration := time.Since(start)
	recordShake(ctx, duration, len(res.Removed), len(res.Rewritten))
	span.SetAttributes(
		attribute.Int("treeshake.modules", len(e.order)),
		attribute.Int("treeshake.removed", len(res.Removed)),
		attribute.Int("treeshake.rewritten", len(res.Rewritten)),
		attribute.Int("treeshake.passes", res.Passes),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.Info("tree shaking finished",
		slog.Int("modules", len(e.order)),
		slog.Int("removed", len(res.Removed)),
		slog.Int("rewritten", len(res.Rewritten)),
		slog.Int("passes", res.Passes),
		slog.Duration("duration", duration),
	)
	return res, nil
}

// target returns the shake view of the module source resolves to from sm.
func (e *engine) target(sm *shakeModule, source string) *shakeModule {
	if sm.module.Info == nil {
		return nil
	}
	t, ok := sm.module.Info.Resolved[source]
	if !ok {
		return nil
	}
	return e.modules[t.Id]
}

// bubbleSideEffects computes the side-effect verdict of every module and
// pushes it to dependents until stable.
func (e *engine) bubbleSideEffects(inCycle map[graph.ModuleId]struct{}) {
	var queue []*shakeModule
	for i := len(e.order) - 1; i >= 0; i-- {
		sm := e.order[i]
		sm.sideEffects = sm.baseSideEffects()
		if sm.module.IsEntry {
			sm.sideEffects = true
		}
		if _, ok := inCycle[sm.id]; ok {
			sm.sideEffects = true
		}
	}

	// Script dependencies of non-script modules are side-effectful.
	for _, sm := range e.order {
		if sm.module.Info == nil || sm.module.Kind == graph.KindScript {
			continue
		}
		for _, dep := range e.g.GetDependencyIds(sm.id) {
			if d := e.modules[dep]; d != nil && d.module.Kind == graph.KindScript {
				d.sideEffects = true
			}
		}
	}

	for i := len(e.order) - 1; i >= 0; i-- {
		if e.order[i].sideEffects {
			queue = append(queue, e.order[i])
		}
	}
	for len(queue) > 0 {
		sm := queue[0]
		queue = queue[1:]
		for _, ref := range e.g.GetDependents(sm.id) {
			if !isStaticESM(ref.Dependency.ResolveType) {
				continue
			}
			d := e.modules[ref.Id]
			if d == nil {
				continue
			}
			if d.markSideEffectSource(ref.Dependency.Source) {
				queue = append(queue, d)
			}
		}
	}
}

func isStaticESM(rt graph.ResolveType) bool {
	switch rt {
	case graph.ResolveImport, graph.ResolveExportNamed, graph.ResolveExportAll:
		return true
	default:
		return false
	}
}

// propagate runs statement analysis to a fixed point and returns the
// number of module analyses performed.
func (e *engine) propagate() int {
	dirty := make([]bool, len(e.order))
	for i := range dirty {
		dirty[i] = true
	}

	passes := 0
	i := 0
	for i < len(e.order) {
		if !dirty[i] {
			i++
			continue
		}
		dirty[i] = false
		passes++

		next := i + 1
		for _, changed := range e.analyze(e.order[i]) {
			dirty[changed.order] = true
			if changed.order < next {
				next = changed.order
			}
		}
		i = next
	}
	return passes
}

// analyze pushes the usage facts of one module to its dependencies and
// returns those whose state changed.
func (e *engine) analyze(sm *shakeModule) []*shakeModule {
	var changed []*shakeModule
	touch := func(t *shakeModule, did bool) {
		if did {
			changed = append(changed, t)
		}
	}

	// Untracked modules pass All to every dependency. Lazy dependencies are
	// handled below for both kinds.
	if !sm.tracked {
		if sm.module.Info != nil {
			for _, dep := range e.g.GetDependencyIds(sm.id) {
				if t := e.modules[dep]; t != nil {
					touch(t, t.used.UseAll())
				}
			}
		}
	} else if !sm.used.IsEmpty() {
		live := e.liveStatements(sm)
		for _, i := range sortedKeys(live.stmts) {
			s := sm.prog.Statements[i]
			t := e.target(sm, stmtSource(s))
			if t == nil {
				continue
			}
			switch {
			case s.Kind == ast.StmtImport:
				touch(t, useImport(t, s.Import, live))
			case s.Kind == ast.StmtExportAll:
				switch {
				case live.starAll[i]:
					touch(t, t.used.UseAll())
				case len(live.starNames[i]) > 0:
					for _, name := range live.starNames[i] {
						touch(t, t.used.Add(name))
					}
				default:
					touch(t, t.used.Refer())
				}
			case s.Export.HasSource():
				touch(t, useReexport(t, s, live.specs[i]))
			}
		}
	}

	for _, ref := range e.g.GetDependencies(sm.id) {
		t := e.modules[ref.Id]
		if t == nil {
			continue
		}
		switch ref.Dependency.ResolveType {
		case graph.ResolveDynamicImport, graph.ResolveWorker:
			did := t.used.UseAll()
			if !t.sideEffects {
				t.sideEffects = true
				did = true
			}
			touch(t, did)
		case graph.ResolveRequire:
			touch(t, t.used.UseAll())
		}
	}
	return changed
}

func useImport(t *shakeModule, imp *ast.ImportInfo, live *liveSet) bool {
	did := false
	kept := 0
	for _, spec := range imp.Specifiers {
		if !live.names[spec.Local] {
			continue
		}
		kept++
		switch spec.Kind {
		case ast.SpecNamespace:
			did = t.used.UseAll() || did
		case ast.SpecDefault:
			did = t.used.Add("default") || did
		default:
			did = t.used.Add(spec.Imported) || did
		}
	}
	if kept == 0 {
		did = t.used.Refer() || did
	}
	return did
}

func useReexport(t *shakeModule, s *ast.Statement, kept map[int]bool) bool {
	did := false
	for j, spec := range s.Export.Specifiers {
		if !kept[j] {
			continue
		}
		if spec.Kind == ast.SpecNamespace {
			did = t.used.UseAll() || did
			continue
		}
		did = t.used.Add(spec.Local) || did
	}
	if len(kept) == 0 {
		did = t.used.Refer() || did
	}
	return did
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func sortedSites(m map[string]exportSite) []exportSite {
	out := make([]exportSite, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].stmt != out[j].stmt {
			return out[i].stmt < out[j].stmt
		}
		return out[i].spec < out[j].spec
	})
	return out
}

func sortIds(ids []graph.ModuleId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// strip rewrites every tracked module to its live statements and removes
// unused ones.
func (e *engine) strip(ctx context.Context) (rewritten, removed []graph.ModuleId, err error) {
	for _, sm := range e.order {
		if !sm.tracked {
			continue
		}
		if sm.used.IsEmpty() {
			e.g.RemoveModule(sm.id)
			removed = append(removed, sm.id)
			e.logger.Debug("module removed", slog.String("module", string(sm.id)))
			continue
		}
		if sm.intact {
			continue
		}

		code, changed, rerr := e.render(sm, e.liveStatements(sm))
		if rerr != nil {
			return rewritten, removed, fmt.Errorf("%s: %w", sm.id, rerr)
		}
		if !changed {
			continue
		}
		if err := e.replaceProgram(ctx, sm, code); err != nil {
			return rewritten, removed, err
		}
		rewritten = append(rewritten, sm.id)
	}
	sortIds(rewritten)
	return rewritten, removed, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// topoFrame is one module on the explicit DFS stack.
type topoFrame struct {
	id   ModuleId
	deps []ModuleId
	next int
}

// Toposort orders the modules reachable from the entries so that every
// module appears before its dependencies, and reports each back edge found
// during the walk as a cycle.
//
// # Description
//
// Entries are visited in sorted id order and dependencies in reference
// ordinal order, so the result is deterministic for a given graph. The
// walk is a depth-first search on an explicit stack. When a dependency is
// already on the stack, the stack slice from that dependency to the top is
// recorded as a cycle. Post-order completion is collected across all
// entries and reversed at the end.
//
// Modules not reachable from any entry are absent from the order.
//
// # Outputs
//
//   - []ModuleId: Dependents before dependencies.
//   - [][]ModuleId: One group per back edge, in discovery order. A module
//     may appear in several groups.
//
// # Thread Safety
//
// Takes the read lock for the whole walk.
func (g *ModuleGraph) Toposort(ctx context.Context) ([]ModuleId, [][]ModuleId) {
	_, span := tracer.Start(ctx, "ModuleGraph.Toposort")
	defer span.End()
	start := time.Now()

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[ModuleId]struct{}, len(g.modules))
	onStack := make(map[ModuleId]int)
	var (
		path   []ModuleId
		frames []topoFrame
		order  []ModuleId
		cycles [][]ModuleId
	)

	push := func(id ModuleId) {
		visited[id] = struct{}{}
		onStack[id] = len(path)
		path = append(path, id)
		frames = append(frames, topoFrame{id: id, deps: g.distinctTargetsLocked(id)})
	}

	for _, entry := range g.entriesLocked() {
		if _, ok := visited[entry]; ok {
			continue
		}
		push(entry)

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.next < len(f.deps) {
				dep := f.deps[f.next]
				f.next++
				if pos, ok := onStack[dep]; ok {
					cycles = append(cycles, append([]ModuleId(nil), path[pos:]...))
					continue
				}
				if _, ok := visited[dep]; ok {
					continue
				}
				push(dep)
				continue
			}

			delete(onStack, f.id)
			path = path[:len(path)-1]
			order = append(order, f.id)
			frames = frames[:len(frames)-1]
		}
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	span.SetAttributes(
		attribute.Int("graph.toposort.modules", len(order)),
		attribute.Int("graph.toposort.cycles", len(cycles)),
	)
	recordToposortMetrics(ctx, time.Since(start), len(order), len(cycles))
	return order, cycles
}

// distinctTargetsLocked returns the targets of id in first reference order.
func (g *ModuleGraph) distinctTargetsLocked(id ModuleId) []ModuleId {
	refs := g.dependenciesLocked(id)
	seen := make(map[ModuleId]struct{}, len(refs))
	ids := make([]ModuleId, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r.Id]; ok {
			continue
		}
		seen[r.Id] = struct{}{}
		ids = append(ids, r.Id)
	}
	return ids
}

// CycleMembers flattens cycle groups into a set.
func CycleMembers(cycles [][]ModuleId) map[ModuleId]struct{} {
	set := make(map[ModuleId]struct{})
	for _, c := range cycles {
		for _, id := range c {
			set[id] = struct{}{}
		}
	}
	return set
}

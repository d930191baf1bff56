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
	"fmt"
	"sort"
	"sync"
)

// ModuleGraph is the directed dependency graph of modules.
//
// Between any ordered pair of modules there is at most one edge; the edge
// carries every dependency reference from the source to the target (a
// module may import and re-export from the same target).
//
// Thread Safety: Safe for concurrent use.
type ModuleGraph struct {
	mu sync.RWMutex

	modules map[ModuleId]*Module

	// out maps from -> to -> references. in mirrors it for dependents.
	out map[ModuleId]map[ModuleId][]Dependency
	in  map[ModuleId]map[ModuleId]struct{}

	entries map[ModuleId]struct{}
}

// New creates an empty module graph.
func New() *ModuleGraph {
	return &ModuleGraph{
		modules: make(map[ModuleId]*Module),
		out:     make(map[ModuleId]map[ModuleId][]Dependency),
		in:      make(map[ModuleId]map[ModuleId]struct{}),
		entries: make(map[ModuleId]struct{}),
	}
}

// AddModule inserts a module.
//
// # Inputs
//
//   - m: The module. Must be non-nil with a non-empty Id.
//
// # Outputs
//
//   - error: ErrInvalidModule, or ErrDuplicateModule if the id exists.
func (g *ModuleGraph) AddModule(m *Module) error {
	if m == nil || m.Id == "" {
		return ErrInvalidModule
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.modules[m.Id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, m.Id)
	}
	g.modules[m.Id] = m
	if m.IsEntry {
		g.entries[m.Id] = struct{}{}
	}
	return nil
}

// ReplaceModule swaps the node stored under m.Id, keeping its edges.
func (g *ModuleGraph) ReplaceModule(m *Module) error {
	if m == nil || m.Id == "" {
		return ErrInvalidModule
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.modules[m.Id]; !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, m.Id)
	}
	g.modules[m.Id] = m
	if m.IsEntry {
		g.entries[m.Id] = struct{}{}
	} else {
		delete(g.entries, m.Id)
	}
	return nil
}

// SetInfo replaces the build result of a module. A copy of the node is
// stored so that readers holding the previous *Module see a stable value.
func (g *ModuleGraph) SetInfo(id ModuleId, info *ModuleInfo, kind ModuleKind, sideEffects bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.modules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	next := m.Clone()
	next.Info = info
	next.Kind = kind
	next.SideEffects = sideEffects
	g.modules[id] = next
	return nil
}

// SetSideEffects updates the side-effects marker of a module.
func (g *ModuleGraph) SetSideEffects(id ModuleId, sideEffects bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.modules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if m.SideEffects == sideEffects {
		return nil
	}
	next := m.Clone()
	next.SideEffects = sideEffects
	g.modules[id] = next
	return nil
}

// AddDependency records a reference from one module to another. Both
// endpoints must exist. Re-adding an identical reference is a no-op.
func (g *ModuleGraph) AddDependency(from, to ModuleId, dep Dependency) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.modules[from]; !ok {
		return fmt.Errorf("%w: source %s", ErrModuleNotFound, from)
	}
	if _, ok := g.modules[to]; !ok {
		return fmt.Errorf("%w: target %s", ErrModuleNotFound, to)
	}

	targets, ok := g.out[from]
	if !ok {
		targets = make(map[ModuleId][]Dependency)
		g.out[from] = targets
	}
	for _, existing := range targets[to] {
		if existing == dep {
			return nil
		}
	}
	targets[to] = append(targets[to], dep)

	sources, ok := g.in[to]
	if !ok {
		sources = make(map[ModuleId]struct{})
		g.in[to] = sources
	}
	sources[from] = struct{}{}
	return nil
}

// RemoveDependency deletes the edge between two modules together with all
// of its references. Removing a missing edge is a no-op.
func (g *ModuleGraph) RemoveDependency(from, to ModuleId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeEdgeLocked(from, to)
}

func (g *ModuleGraph) removeEdgeLocked(from, to ModuleId) {
	if targets, ok := g.out[from]; ok {
		delete(targets, to)
		if len(targets) == 0 {
			delete(g.out, from)
		}
	}
	if sources, ok := g.in[to]; ok {
		delete(sources, from)
		if len(sources) == 0 {
			delete(g.in, to)
		}
	}
}

// HasDependency reports whether an edge exists from one module to another.
func (g *ModuleGraph) HasDependency(from, to ModuleId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.out[from][to]
	return ok
}

// GetDependencies returns every outgoing reference of a module, one entry
// per (target, reference) pair, ordered by reference ordinal. Ties are
// broken by target id.
func (g *ModuleGraph) GetDependencies(id ModuleId) []DependencyRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependenciesLocked(id)
}

func (g *ModuleGraph) dependenciesLocked(id ModuleId) []DependencyRef {
	targets := g.out[id]
	refs := make([]DependencyRef, 0, len(targets))
	for to, deps := range targets {
		for _, d := range deps {
			refs = append(refs, DependencyRef{Id: to, Dependency: d})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Dependency.Order != refs[j].Dependency.Order {
			return refs[i].Dependency.Order < refs[j].Dependency.Order
		}
		if refs[i].Id != refs[j].Id {
			return refs[i].Id < refs[j].Id
		}
		return refs[i].Dependency.ResolveType < refs[j].Dependency.ResolveType
	})
	return refs
}

// GetDependencyIds returns the distinct targets of a module in first
// reference order.
func (g *ModuleGraph) GetDependencyIds(id ModuleId) []ModuleId {
	refs := g.GetDependencies(id)
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

// GetEdge returns the references carried by the edge from one module to
// another, ordered by ordinal.
func (g *ModuleGraph) GetEdge(from, to ModuleId) []Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	deps := append([]Dependency(nil), g.out[from][to]...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Order < deps[j].Order })
	return deps
}

// GetDependents returns every incoming reference of a module, ordered by
// dependent id and then ordinal.
func (g *ModuleGraph) GetDependents(id ModuleId) []DependencyRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var refs []DependencyRef
	for from := range g.in[id] {
		for _, d := range g.out[from][id] {
			refs = append(refs, DependencyRef{Id: from, Dependency: d})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Id != refs[j].Id {
			return refs[i].Id < refs[j].Id
		}
		return refs[i].Dependency.Order < refs[j].Dependency.Order
	})
	return refs
}

// GetDependentIds returns the distinct modules with an edge into id, sorted.
func (g *ModuleGraph) GetDependentIds(id ModuleId) []ModuleId {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]ModuleId, 0, len(g.in[id]))
	for from := range g.in[id] {
		ids = append(ids, from)
	}
	sortIds(ids)
	return ids
}

// RemoveModule deletes a module and every edge touching it. Removing a
// missing module is a no-op.
func (g *ModuleGraph) RemoveModule(id ModuleId) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.modules[id]; !ok {
		return
	}
	for to := range g.out[id] {
		g.removeEdgeLocked(id, to)
	}
	for from := range g.in[id] {
		g.removeEdgeLocked(from, id)
	}
	delete(g.modules, id)
	delete(g.entries, id)
}

// HasModule reports whether id is in the graph.
func (g *ModuleGraph) HasModule(id ModuleId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.modules[id]
	return ok
}

// GetModule returns the module stored under id.
func (g *ModuleGraph) GetModule(id ModuleId) (*Module, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.modules[id]
	return m, ok
}

// GetModules returns every module ordered by id.
func (g *ModuleGraph) GetModules() []*Module {
	g.mu.RLock()
	defer g.mu.RUnlock()

	mods := make([]*Module, 0, len(g.modules))
	for _, m := range g.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Id < mods[j].Id })
	return mods
}

// GetModuleIds returns every module id, sorted.
func (g *ModuleGraph) GetModuleIds() []ModuleId {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]ModuleId, 0, len(g.modules))
	for id := range g.modules {
		ids = append(ids, id)
	}
	sortIds(ids)
	return ids
}

// GetEntryModules returns the entry ids, sorted.
func (g *ModuleGraph) GetEntryModules() []ModuleId {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entriesLocked()
}

func (g *ModuleGraph) entriesLocked() []ModuleId {
	ids := make([]ModuleId, 0, len(g.entries))
	for id := range g.entries {
		ids = append(ids, id)
	}
	sortIds(ids)
	return ids
}

// Reachable returns the set of modules reachable from the entries.
func (g *ModuleGraph) Reachable() map[ModuleId]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[ModuleId]struct{}, len(g.modules))
	stack := g.entriesLocked()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		for to := range g.out[id] {
			if _, ok := seen[to]; !ok {
				stack = append(stack, to)
			}
		}
	}
	return seen
}

// Clone returns an independent graph with the same nodes and edges.
//
// Nodes are shared: graph mutations replace nodes rather than editing
// them, so later writes to either graph are invisible to the other.
func (g *ModuleGraph) Clone() *ModuleGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := New()
	for id, m := range g.modules {
		c.modules[id] = m
	}
	for from, targets := range g.out {
		copied := make(map[ModuleId][]Dependency, len(targets))
		for to, deps := range targets {
			copied[to] = append([]Dependency(nil), deps...)
		}
		c.out[from] = copied
	}
	for to, sources := range g.in {
		copied := make(map[ModuleId]struct{}, len(sources))
		for from := range sources {
			copied[from] = struct{}{}
		}
		c.in[to] = copied
	}
	for id := range g.entries {
		c.entries[id] = struct{}{}
	}
	return c
}

// Stats returns size counters.
func (g *ModuleGraph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{Modules: len(g.modules), Entries: len(g.entries)}
	for _, targets := range g.out {
		s.Edges += len(targets)
	}
	for _, m := range g.modules {
		if m.IsPlaceholder() {
			s.Placeholders++
		}
	}
	return s
}

func sortIds(ids []ModuleId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

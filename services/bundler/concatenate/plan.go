// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concatenate

import (
	"sort"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
	"github.com/AleutianAI/AleutianPack/services/bundler/treeshake"
)

// Config is one concatenation: a root and the inner modules merged into it.
type Config struct {
	Root graph.ModuleId

	// Inners in inlining order, dependencies first.
	Inners []graph.ModuleId

	// Externals are modules referenced from the config but kept separate.
	Externals []graph.ModuleId
}

// role is the eligibility of one module.
type role struct {
	root  bool
	inner bool
}

// planner chooses concatenation configs over a graph snapshot.
type planner struct {
	g     *graph.ModuleGraph
	order map[graph.ModuleId]int
	roles map[graph.ModuleId]role
}

func newPlanner(g *graph.ModuleGraph, sorted []graph.ModuleId, cycles [][]graph.ModuleId) *planner {
	p := &planner{
		g:     g,
		order: make(map[graph.ModuleId]int, len(sorted)),
		roles: make(map[graph.ModuleId]role, len(sorted)),
	}
	inCycle := graph.CycleMembers(cycles)
	for i, id := range sorted {
		p.order[id] = i
		if _, ok := inCycle[id]; ok {
			continue
		}
		m, ok := g.GetModule(id)
		if !ok {
			continue
		}
		p.roles[id] = p.classify(m)
	}
	return p
}

// classify applies the per-module eligibility rules.
func (p *planner) classify(m *graph.Module) role {
	if m.Info == nil || m.Info.External != nil || m.Info.IsIgnored || m.Info.IsErrorModule {
		return role{}
	}
	if treeshake.SystemOf(m) != treeshake.ESModule {
		return role{}
	}
	for _, ref := range p.g.GetDependencies(m.Id) {
		switch ref.Dependency.ResolveType {
		case graph.ResolveDynamicImport, graph.ResolveWorker:
			return role{}
		}
	}

	r := role{root: true, inner: !m.IsEntry}
	if r.inner {
		r.inner = supportedShape(m.Info.Program())
	}
	if r.inner {
		for _, ref := range p.g.GetDependents(m.Id) {
			rt := ref.Dependency.ResolveType
			if rt != graph.ResolveImport && rt != graph.ResolveExportNamed {
				r.inner = false
				break
			}
			if namespaceConsumer(p.g, ref.Id, ref.Dependency.Source) {
				r.inner = false
				break
			}
		}
	}
	return r
}

// supportedShape reports whether every export of prog can be expressed as
// a plain binding of the shared scope.
func supportedShape(prog *ast.Program) bool {
	for _, s := range prog.Statements {
		switch s.Kind {
		case ast.StmtExportAll:
			return false
		case ast.StmtExportNamed:
			if s.Export.HasSource() {
				return false
			}
			for _, spec := range s.Export.Specifiers {
				if spec.Local == "" || prog.Scope.TopLevel[spec.Local] == nil {
					return false
				}
			}
		case ast.StmtExportDefault:
			if len(s.Export.Specifiers) != 1 {
				return false
			}
		}
	}
	return true
}

// namespaceConsumer reports whether dependent reads source as a namespace
// object.
func namespaceConsumer(g *graph.ModuleGraph, dependent graph.ModuleId, source string) bool {
	m, ok := g.GetModule(dependent)
	if !ok {
		return true
	}
	prog := m.Info.Program()
	if prog == nil {
		return true
	}
	for _, s := range prog.Statements {
		switch {
		case s.Import != nil && s.Import.Source == source:
			for _, spec := range s.Import.Specifiers {
				if spec.Kind == ast.SpecNamespace {
					return true
				}
			}
		case s.Export != nil && s.Export.Source == source:
			if s.Export.All {
				return true
			}
			for _, spec := range s.Export.Specifiers {
				if spec.Kind == ast.SpecNamespace {
					return true
				}
			}
		}
	}
	return false
}

// plan returns the configs in root order. A module belongs to at most one
// config.
func (p *planner) plan() []Config {
	roots := make([]graph.ModuleId, 0, len(p.roles))
	for id, r := range p.roles {
		if r.root {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return p.order[roots[i]] < p.order[roots[j]] })

	used := make(map[graph.ModuleId]bool)
	var configs []Config
	for _, root := range roots {
		if used[root] {
			continue
		}
		members := p.collect(root, used)
		if len(members) == 0 {
			continue
		}
		used[root] = true
		for id := range members {
			used[id] = true
		}
		configs = append(configs, p.config(root, members))
	}
	return configs
}

// collect gathers the inner modules of root and demotes every inner that
// is imported, or reachable, from outside the config.
func (p *planner) collect(root graph.ModuleId, used map[graph.ModuleId]bool) map[graph.ModuleId]bool {
	members := make(map[graph.ModuleId]bool)
	queue := []graph.ModuleId{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range p.g.GetDependencies(cur) {
			rt := ref.Dependency.ResolveType
			if rt != graph.ResolveImport && rt != graph.ResolveExportNamed {
				continue
			}
			id := ref.Id
			if id == root || members[id] || used[id] || !p.roles[id].inner {
				continue
			}
			members[id] = true
			queue = append(queue, id)
		}
	}

	inConfig := func(id graph.ModuleId) bool { return id == root || members[id] }
	for changed := true; changed; {
		changed = false
		for _, id := range sortedMembers(members) {
			for _, dep := range p.g.GetDependentIds(id) {
				if !inConfig(dep) {
					delete(members, id)
					changed = true
					break
				}
			}
		}

		var external []graph.ModuleId
		for _, id := range append([]graph.ModuleId{root}, sortedMembers(members)...) {
			for _, dep := range p.g.GetDependencyIds(id) {
				if !inConfig(dep) {
					external = append(external, dep)
				}
			}
		}
		for id := range p.reachable(external) {
			if members[id] {
				delete(members, id)
				changed = true
			}
		}
	}
	return members
}

// reachable returns every module reachable from the given starts.
func (p *planner) reachable(starts []graph.ModuleId) map[graph.ModuleId]bool {
	seen := make(map[graph.ModuleId]bool)
	stack := append([]graph.ModuleId(nil), starts...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, p.g.GetDependencyIds(id)...)
	}
	return seen
}

func (p *planner) config(root graph.ModuleId, members map[graph.ModuleId]bool) Config {
	c := Config{Root: root}
	// Dependents come first in the topological order.
	c.Inners = sortedMembers(members)
	sort.SliceStable(c.Inners, func(i, j int) bool { return p.order[c.Inners[i]] > p.order[c.Inners[j]] })

	ext := make(map[graph.ModuleId]bool)
	for _, id := range append([]graph.ModuleId{root}, c.Inners...) {
		for _, dep := range p.g.GetDependencyIds(id) {
			if dep != root && !members[dep] {
				ext[dep] = true
			}
		}
	}
	c.Externals = sortedMembers(ext)
	return c
}

func sortedMembers(set map[graph.ModuleId]bool) []graph.ModuleId {
	out := make([]graph.ModuleId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

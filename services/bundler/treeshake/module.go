// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package treeshake

import (
	"sort"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// ModuleSystem is how a script module exchanges bindings.
type ModuleSystem int

const (
	// ESModule uses only import/export syntax.
	ESModule ModuleSystem = iota

	// CommonJS has no module syntax.
	CommonJS

	// Unknown mixes both, or is not a script.
	Unknown
)

// String returns the system name.
func (s ModuleSystem) String() string {
	switch s {
	case ESModule:
		return "esm"
	case CommonJS:
		return "commonjs"
	default:
		return "unknown"
	}
}

// SystemOf classifies a built module.
func SystemOf(m *graph.Module) ModuleSystem {
	if m == nil || m.Kind != graph.KindScript {
		return Unknown
	}
	p := m.Info.Program()
	if p == nil {
		return Unknown
	}
	esm := p.HasModuleSyntax()
	switch {
	case esm && p.UsesCommonJS():
		return Unknown
	case esm:
		return ESModule
	default:
		return CommonJS
	}
}

// UsedExports is the set of export names some live statement needs.
//
// The zero value is empty. Referred marks a module that is needed for its
// evaluation (a bare import) even though no name is used. All is the
// "every export, including ones not statically known" sentinel.
type UsedExports struct {
	all      bool
	referred bool
	names    map[string]struct{}
}

// UseAll switches to the All sentinel. Reports whether it changed.
func (u *UsedExports) UseAll() bool {
	if u.all {
		return false
	}
	u.all = true
	return true
}

// Add records one used export name. Reports whether it changed.
func (u *UsedExports) Add(name string) bool {
	if u.all {
		return false
	}
	if _, ok := u.names[name]; ok {
		return false
	}
	if u.names == nil {
		u.names = make(map[string]struct{})
	}
	u.names[name] = struct{}{}
	return true
}

// Refer records that the module is evaluated. Reports whether it changed.
func (u *UsedExports) Refer() bool {
	if u.all || u.referred {
		return false
	}
	u.referred = true
	return true
}

// IsAll reports the All sentinel.
func (u *UsedExports) IsAll() bool {
	return u.all
}

// IsEmpty reports whether nothing needs the module.
func (u *UsedExports) IsEmpty() bool {
	return !u.all && !u.referred && len(u.names) == 0
}

// Has reports whether name is used.
func (u *UsedExports) Has(name string) bool {
	if u.all {
		return true
	}
	_, ok := u.names[name]
	return ok
}

// Names returns the used names, sorted. Empty for All.
func (u *UsedExports) Names() []string {
	out := make([]string, 0, len(u.names))
	for n := range u.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// exportSite locates an explicit export: a statement and, for export
// clauses, the specifier index.
type exportSite struct {
	stmt int
	spec int
}

// shakeModule is the per-run view of one module.
type shakeModule struct {
	id    graph.ModuleId
	order int

	module *graph.Module
	prog   *ast.Program
	system ModuleSystem

	// tracked is true for ESM script modules whose statements may be
	// stripped. Everything else is kept as is.
	tracked bool

	// intact modules (cycle members) are never rewritten.
	intact bool

	sideEffects bool
	described   *bool

	used UsedExports

	selfExec          []bool
	sideEffectSources map[string]struct{}

	exports map[string]exportSite
	stars   []int
}

func newShakeModule(m *graph.Module, order int) *shakeModule {
	sm := &shakeModule{
		id:                m.Id,
		order:             order,
		module:            m,
		system:            SystemOf(m),
		sideEffectSources: make(map[string]struct{}),
	}
	if m.Info != nil {
		sm.described = m.Info.DescribedSideEffects
	}

	if m.Info == nil || m.Info.External != nil || m.Info.IsIgnored || m.Info.IsErrorModule {
		return sm
	}
	if sm.system != ESModule {
		return sm
	}

	sm.prog = m.Info.Program()
	sm.tracked = true
	sm.selfExec = make([]bool, len(sm.prog.Statements))
	sm.exports = make(map[string]exportSite)
	for i, s := range sm.prog.Statements {
		sm.selfExec[i] = selfExecuting(sm.prog, s)
		switch s.Kind {
		case ast.StmtExportAll:
			sm.stars = append(sm.stars, i)
		case ast.StmtExportDecl, ast.StmtExportDefault, ast.StmtExportNamed:
			for j, spec := range s.Export.Specifiers {
				if _, dup := sm.exports[spec.Exported]; !dup {
					sm.exports[spec.Exported] = exportSite{stmt: i, spec: j}
				}
			}
		}
	}
	return sm
}

// baseSideEffects is the verdict before dependency facts bubble up.
func (sm *shakeModule) baseSideEffects() bool {
	m := sm.module
	switch {
	case m.Info == nil:
		return true
	case m.Kind != graph.KindScript:
		return true
	case m.Info.IsIgnored:
		return false
	case m.Info.External != nil, m.Info.IsErrorModule:
		return true
	case sm.described != nil && !*sm.described:
		return false
	case !sm.tracked:
		return true
	}
	for _, se := range sm.selfExec {
		if se {
			return true
		}
	}
	return false
}

// declaredPure reports a package.json sideEffects: false verdict.
func (sm *shakeModule) declaredPure() bool {
	return sm.described != nil && !*sm.described
}

// markSideEffectSource flags the statements importing from source as
// effectful. Reports whether the module itself turned side-effectful.
func (sm *shakeModule) markSideEffectSource(source string) bool {
	if _, ok := sm.sideEffectSources[source]; ok {
		return false
	}
	sm.sideEffectSources[source] = struct{}{}

	if sm.tracked {
		for i, s := range sm.prog.Statements {
			if stmtSource(s) == source {
				sm.selfExec[i] = true
			}
		}
	}
	if sm.sideEffects || sm.declaredPure() {
		return false
	}
	sm.sideEffects = true
	return true
}

// stmtSource returns the module specifier of an import or re-export.
func stmtSource(s *ast.Statement) string {
	switch {
	case s.Import != nil:
		return s.Import.Source
	case s.Export != nil:
		return s.Export.Source
	default:
		return ""
	}
}

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
	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// liveSet is the result of statement analysis for one module.
type liveSet struct {
	// stmts holds the indices of kept statements.
	stmts map[int]bool

	// names are module-scope bindings referenced by kept statements.
	names map[string]bool

	// keyword marks export declarations whose export is still needed.
	keyword map[int]bool

	// specs holds kept specifier indices per export clause.
	specs map[int]map[int]bool

	// starAll marks `export *` statements forwarding every name; starNames
	// lists the names forwarded otherwise.
	starAll   map[int]bool
	starNames map[int][]string
}

func newLiveSet() *liveSet {
	return &liveSet{
		stmts:     make(map[int]bool),
		names:     make(map[string]bool),
		keyword:   make(map[int]bool),
		specs:     make(map[int]map[int]bool),
		starAll:   make(map[int]bool),
		starNames: make(map[int][]string),
	}
}

func (l *liveSet) keepSpec(stmt, spec int) {
	set, ok := l.specs[stmt]
	if !ok {
		set = make(map[int]bool)
		l.specs[stmt] = set
	}
	set[spec] = true
}

// liveStatements computes which statements of sm survive given its
// current used exports.
//
// # Description
//
// Seeds are the self-executing statements (every statement for
// side-effectful modules) and the statements exporting a used name. The
// closure follows module-scope references from kept statements to the
// statements declaring them. Import statements are kept when one of their
// bindings is referenced or when they are self-executing. Names reached
// through `export *` are forwarded to the star targets that statically
// export them.
func (e *engine) liveStatements(sm *shakeModule) *liveSet {
	live := newLiveSet()
	stmts := sm.prog.Statements
	var work []int

	mark := func(i int) {
		if !live.stmts[i] {
			live.stmts[i] = true
			work = append(work, i)
		}
	}
	want := func(name string) {
		if live.names[name] {
			return
		}
		live.names[name] = true
		if b := sm.prog.Scope.TopLevel[name]; b != nil {
			for _, idx := range b.Stmts {
				mark(idx)
			}
		}
	}
	keepExport := func(site exportSite) {
		s := stmts[site.stmt]
		mark(site.stmt)
		switch s.Kind {
		case ast.StmtExportDecl, ast.StmtExportDefault:
			live.keyword[site.stmt] = true
		case ast.StmtExportNamed:
			live.keepSpec(site.stmt, site.spec)
			spec := s.Export.Specifiers[site.spec]
			if !s.Export.HasSource() && spec.Local != "" {
				want(spec.Local)
			}
		}
	}

	keepAll := sm.intact || sm.sideEffects
	for i, s := range stmts {
		switch {
		case s.Kind == ast.StmtComment:
		case sm.intact:
			mark(i)
		case keepAll && s.Kind != ast.StmtImport:
			mark(i)
		case sm.selfExec[i]:
			mark(i)
		}
	}

	if keepAll || sm.used.IsAll() {
		for _, site := range sortedSites(sm.exports) {
			keepExport(site)
		}
		for _, i := range sm.stars {
			mark(i)
			live.starAll[i] = true
		}
	} else {
		for _, name := range sm.used.Names() {
			if site, ok := sm.exports[name]; ok {
				keepExport(site)
				continue
			}
			for _, i := range e.starsProviding(sm, name) {
				mark(i)
				live.starNames[i] = append(live.starNames[i], name)
			}
		}
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		// A local export clause lists every specifier's binding in Used;
		// keepExport wants the kept ones.
		if s := stmts[i]; s.Kind == ast.StmtExportNamed && !s.Export.HasSource() && !keepAll {
			continue
		}
		for _, name := range stmts[i].Used {
			want(name)
		}
	}

	if sm.intact {
		for _, s := range stmts {
			if s.Import != nil {
				for _, spec := range s.Import.Specifiers {
					live.names[spec.Local] = true
				}
			}
		}
	}

	return live
}

// starsProviding returns the `export *` statements of sm through which
// name is reachable. When no star target lists it statically, every star
// target whose exports are not statically known is returned.
func (e *engine) starsProviding(sm *shakeModule, name string) []int {
	if name == "default" {
		return nil
	}
	var exact, ambiguous []int
	for _, i := range sm.stars {
		target := e.target(sm, stmtSource(sm.prog.Statements[i]))
		if target == nil {
			continue
		}
		names, amb := e.staticExports(target)
		if _, ok := names[name]; ok {
			exact = append(exact, i)
		} else if amb {
			ambiguous = append(ambiguous, i)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return ambiguous
}

// staticExports returns every name sm exports, following `export *`
// recursively. ambiguous is true when some reachable module's exports
// cannot be listed.
func (e *engine) staticExports(sm *shakeModule) (map[string]struct{}, bool) {
	if c, ok := e.exportCache[sm.id]; ok {
		return c.names, c.ambiguous
	}
	names := make(map[string]struct{})
	ambiguous := e.collectExports(sm, names, make(map[*shakeModule]bool))
	e.exportCache[sm.id] = exportList{names: names, ambiguous: ambiguous}
	return names, ambiguous
}

func (e *engine) collectExports(sm *shakeModule, names map[string]struct{}, visited map[*shakeModule]bool) bool {
	if visited[sm] {
		return false
	}
	visited[sm] = true
	if !sm.tracked {
		return true
	}
	ambiguous := false
	for name := range sm.exports {
		names[name] = struct{}{}
	}
	for _, i := range sm.stars {
		target := e.target(sm, stmtSource(sm.prog.Statements[i]))
		if target == nil {
			ambiguous = true
			continue
		}
		sub := make(map[string]struct{})
		if e.collectExports(target, sub, visited) {
			ambiguous = true
		}
		for name := range sub {
			if name != "default" {
				names[name] = struct{}{}
			}
		}
	}
	return ambiguous
}

type exportList struct {
	names     map[string]struct{}
	ambiguous bool
}

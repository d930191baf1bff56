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
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// scope is the shared top-level namespace of one config.
type scope struct {
	taken map[string]bool
}

// claim reserves name, or the first free `name_N`.
func (s *scope) claim(name string) string {
	if !s.taken[name] {
		s.taken[name] = true
		return name
	}
	return s.claimIndexed(name)
}

// claimIndexed reserves the first free `base_N`.
func (s *scope) claimIndexed(base string) string {
	for i := 0; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !s.taken[candidate] {
			s.taken[candidate] = true
			return candidate
		}
	}
}

// hoistKey identifies one binding imported from an external module.
type hoistKey struct {
	target   graph.ModuleId
	kind     ast.SpecifierKind
	imported string
}

// merger renders one config into the root's new source.
type merger struct {
	g      *graph.ModuleGraph
	config Config

	scope *scope

	// exports maps inner module -> exported name -> hoisted identifier.
	exports map[graph.ModuleId]map[string]string

	hoisted      map[hoistKey]string
	hoistedBare  map[graph.ModuleId]bool
	hoistOrder   []string
	hoistTargets map[string]graph.ResolvedTarget

	inner map[graph.ModuleId]bool
}

// module is a config member with its parsed program.
type module struct {
	id   graph.ModuleId
	info *graph.ModuleInfo
	prog *ast.Program
}

func newMerger(g *graph.ModuleGraph, c Config) (*merger, []module, error) {
	mg := &merger{
		g:            g,
		config:       c,
		scope:        &scope{taken: make(map[string]bool)},
		exports:      make(map[graph.ModuleId]map[string]string),
		hoisted:      make(map[hoistKey]string),
		hoistedBare:  make(map[graph.ModuleId]bool),
		hoistTargets: make(map[string]graph.ResolvedTarget),
		inner:        make(map[graph.ModuleId]bool, len(c.Inners)),
	}
	for _, id := range c.Inners {
		mg.inner[id] = true
	}

	ids := append([]graph.ModuleId{c.Root}, c.Inners...)
	mods := make([]module, 0, len(ids))
	for _, id := range ids {
		m, ok := g.GetModule(id)
		if !ok || m.Info.Program() == nil {
			return nil, nil, fmt.Errorf("%s: %w", id, ErrUnsupported)
		}
		mods = append(mods, module{id: id, info: m.Info, prog: m.Info.Program()})
	}

	for _, m := range mods {
		for name := range m.prog.Scope.FreeNames {
			mg.scope.taken[name] = true
		}
		for name := range m.prog.Scope.NestedNames {
			mg.scope.taken[name] = true
		}
	}
	root := mods[0]
	for name, b := range root.prog.Scope.TopLevel {
		if b.Kind == ast.BindImport && mg.importsInner(root, name) {
			continue
		}
		mg.scope.taken[name] = true
	}
	return mg, mods, nil
}

// importsInner reports whether the import binding name of m comes from a
// module of the config.
func (mg *merger) importsInner(m module, name string) bool {
	for _, s := range m.prog.Statements {
		if s.Import == nil {
			continue
		}
		for _, spec := range s.Import.Specifiers {
			if spec.Local == name {
				t, ok := m.info.Resolved[s.Import.Source]
				return ok && mg.inner[t.Id]
			}
		}
	}
	return false
}

// bindImports maps every import binding of m to a shared-scope identifier.
// Imports of inner modules use their hoisted export; imports of other
// modules are hoisted into the root.
func (mg *merger) bindImports(m module, names map[string]string, hoistAll bool) error {
	for _, s := range m.prog.Statements {
		if s.Import == nil {
			continue
		}
		t, ok := m.info.Resolved[s.Import.Source]
		if !ok {
			return fmt.Errorf("%s: unresolved import %q: %w", m.id, s.Import.Source, ErrUnsupported)
		}
		if mg.inner[t.Id] {
			exp := mg.exports[t.Id]
			for _, spec := range s.Import.Specifiers {
				name := spec.Imported
				if spec.Kind == ast.SpecDefault {
					name = "default"
				}
				hoisted, ok := exp[name]
				if !ok {
					return fmt.Errorf("%s: %q is not exported by %s: %w", m.id, name, t.Id, ErrUnsupported)
				}
				names[spec.Local] = hoisted
			}
			continue
		}
		if !hoistAll {
			continue
		}
		if len(s.Import.Specifiers) == 0 {
			mg.hoistBare(t)
			continue
		}
		for _, spec := range s.Import.Specifiers {
			names[spec.Local] = mg.hoist(t, spec)
		}
	}
	return nil
}

func (mg *merger) hoist(t graph.ResolvedTarget, spec ast.ImportSpecifier) string {
	key := hoistKey{target: t.Id, kind: spec.Kind, imported: spec.Imported}
	if name, ok := mg.hoisted[key]; ok {
		return name
	}
	name := mg.scope.claim(spec.Local)
	mg.hoisted[key] = name
	spec.Local = name
	src := string(t.Id)
	mg.hoistTargets[src] = t
	mg.hoistOrder = append(mg.hoistOrder, ast.RenderImport(&ast.ImportInfo{
		Source:     src,
		Specifiers: []ast.ImportSpecifier{spec},
	}))
	return name
}

func (mg *merger) hoistBare(t graph.ResolvedTarget) {
	if mg.hoistedBare[t.Id] {
		return
	}
	mg.hoistedBare[t.Id] = true
	src := string(t.Id)
	mg.hoistTargets[src] = t
	mg.hoistOrder = append(mg.hoistOrder, ast.RenderImport(&ast.ImportInfo{Source: src}))
}

// renameEdits returns the edits that rebind every name of m found in names.
func renameEdits(m module, names map[string]string) []ast.Edit {
	var edits []ast.Edit
	for name, b := range m.prog.Scope.TopLevel {
		to, ok := names[name]
		if !ok || to == name {
			continue
		}
		if b.Kind != ast.BindImport {
			for _, occ := range b.Decls {
				text := to
				if occ.Shorthand {
					text = name + ": " + to
				}
				edits = append(edits, ast.Edit{Start: occ.Start, End: occ.End, Text: text})
			}
		}
		for _, ref := range m.prog.Scope.ReferencesTo(b) {
			switch ref.Kind {
			case ast.RefShorthand:
				edits = append(edits, ast.Edit{Start: ref.Start, End: ref.End, Text: name + ": " + to})
			case ast.RefPlain:
				edits = append(edits, ast.Edit{Start: ref.Start, End: ref.End, Text: to})
			}
		}
	}
	return edits
}

// rangeText returns src[start:end] with the edits inside the range applied.
func rangeText(src []byte, start, end uint32, edits []ast.Edit) (string, error) {
	var local []ast.Edit
	for _, e := range edits {
		if e.Start >= start && e.End <= end {
			local = append(local, ast.Edit{Start: e.Start - start, End: e.End - start, Text: e.Text})
		}
	}
	out, err := ast.ApplyEdits(src[start:end], local)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// inline renders an inner module as plain statements of the shared scope
// and records its exports.
func (mg *merger) inline(m module) ([]string, error) {
	names := make(map[string]string)
	if err := mg.bindImports(m, names, true); err != nil {
		return nil, err
	}
	for _, name := range m.prog.Scope.Order {
		if m.prog.Scope.TopLevel[name].Kind == ast.BindImport {
			continue
		}
		names[name] = mg.scope.claim(name)
	}

	exports := make(map[string]string)
	var defaultName string
	for _, s := range m.prog.Statements {
		if s.Export == nil {
			continue
		}
		for _, spec := range s.Export.Specifiers {
			switch {
			case spec.Local != "":
				exports[spec.Exported] = names[spec.Local]
			case s.Kind == ast.StmtExportDefault:
				defaultName = mg.scope.claimIndexed(modulePrefix(m.id))
				exports["default"] = defaultName
			default:
				return nil, fmt.Errorf("%s: export %q: %w", m.id, spec.Exported, ErrUnsupported)
			}
		}
	}

	edits := renameEdits(m, names)
	src := m.prog.Source
	parts := make([]string, 0, len(m.prog.Statements))
	for _, s := range m.prog.Statements {
		var text string
		var err error
		switch s.Kind {
		case ast.StmtImport, ast.StmtExportNamed, ast.StmtExportAll:
			continue
		case ast.StmtExportDecl:
			text, err = rangeText(src, s.Export.BodyStart, s.Export.BodyEnd, edits)
		case ast.StmtExportDefault:
			text, err = rangeText(src, s.Export.BodyStart, s.Export.BodyEnd, edits)
			if err == nil && s.Export.Specifiers[0].Local == "" {
				text = "const " + defaultName + " = " + strings.TrimSuffix(strings.TrimSpace(text), ";") + ";"
			}
		default:
			text, err = m.prog.StatementText(s, edits)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.id, err)
		}
		parts = append(parts, text)
	}

	mg.exports[m.id] = exports
	return parts, nil
}

// rootStatements renders the root with imports of inner modules removed
// and their bindings redirected to the hoisted identifiers.
func (mg *merger) rootStatements(m module) ([]string, error) {
	names := make(map[string]string)
	if err := mg.bindImports(m, names, false); err != nil {
		return nil, err
	}

	edits := renameEdits(m, names)
	parts := make([]string, 0, len(m.prog.Statements))
	for _, s := range m.prog.Statements {
		source := ""
		switch {
		case s.Import != nil:
			source = s.Import.Source
		case s.Export != nil:
			source = s.Export.Source
		}
		var target graph.ResolvedTarget
		fromInner := false
		if source != "" {
			var ok bool
			target, ok = m.info.Resolved[source]
			fromInner = ok && mg.inner[target.Id]
		}

		switch {
		case s.Kind == ast.StmtImport && fromInner:
			continue

		case s.Kind == ast.StmtExportNamed && fromInner:
			exp := mg.exports[target.Id]
			specs := make([]ast.ExportSpecifier, 0, len(s.Export.Specifiers))
			for _, spec := range s.Export.Specifiers {
				hoisted, ok := exp[spec.Local]
				if !ok {
					return nil, fmt.Errorf("%s: %q is not exported by %s: %w", m.id, spec.Local, target.Id, ErrUnsupported)
				}
				specs = append(specs, ast.ExportSpecifier{Kind: spec.Kind, Local: hoisted, Exported: spec.Exported})
			}
			parts = append(parts, ast.RenderExportClause(specs, ""))

		case s.Kind == ast.StmtExportNamed && source == "":
			specs := make([]ast.ExportSpecifier, 0, len(s.Export.Specifiers))
			for _, spec := range s.Export.Specifiers {
				if to, ok := names[spec.Local]; ok {
					spec.Local = to
				}
				specs = append(specs, spec)
			}
			parts = append(parts, ast.RenderExportClause(specs, ""))

		default:
			text, err := m.prog.StatementText(s, edits)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.id, err)
			}
			parts = append(parts, text)
		}
	}
	return parts, nil
}

// render produces the merged root source.
func (mg *merger) render(mods []module) ([]byte, error) {
	var body []string
	for _, m := range mods[1:] {
		parts, err := mg.inline(m)
		if err != nil {
			return nil, err
		}
		body = append(body, parts...)
	}
	rootParts, err := mg.rootStatements(mods[0])
	if err != nil {
		return nil, err
	}

	all := make([]string, 0, len(mg.hoistOrder)+len(body)+len(rootParts))
	all = append(all, mg.hoistOrder...)
	all = append(all, body...)
	all = append(all, rootParts...)
	return ast.JoinStatements(all), nil
}

// modulePrefix derives an identifier from the module file name.
func modulePrefix(id graph.ModuleId) string {
	base := path.Base(id.Path())
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	var b strings.Builder
	for i, r := range base {
		switch {
		case r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "module"
	}
	return b.String()
}

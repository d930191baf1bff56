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
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianPack/services/bundler/analyze"
	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// render prints the live statements of sm. changed is false when the
// output would equal the input.
func (e *engine) render(sm *shakeModule, live *liveSet) ([]byte, bool, error) {
	src := sm.prog.Source
	stmts := sm.prog.Statements
	parts := make([]string, 0, len(stmts))
	changed := false

	for i, s := range stmts {
		full := string(src[s.Start:s.End])
		if s.Kind == ast.StmtComment {
			parts = append(parts, full)
			continue
		}
		if !live.stmts[i] {
			changed = true
			continue
		}

		text := full
		switch s.Kind {
		case ast.StmtImport:
			text = renderImport(s.Import, live, full)
		case ast.StmtExportDecl:
			if !live.keyword[i] {
				text = string(src[s.Export.BodyStart:s.Export.BodyEnd])
			}
		case ast.StmtExportDefault:
			if !live.keyword[i] && s.Export.Specifiers[0].Local != "" {
				text = string(src[s.Export.BodyStart:s.Export.BodyEnd])
			}
		case ast.StmtExportNamed:
			text = renderExportNamed(s, live.specs[i], full)
		}
		if text != full {
			changed = true
		}
		parts = append(parts, text)
	}

	if !changed {
		return nil, false, nil
	}
	return ast.JoinStatements(parts), true, nil
}

// renderImport returns full unchanged when every specifier is kept.
func renderImport(imp *ast.ImportInfo, live *liveSet, full string) string {
	kept := make([]ast.ImportSpecifier, 0, len(imp.Specifiers))
	for _, spec := range imp.Specifiers {
		if live.names[spec.Local] {
			kept = append(kept, spec)
		}
	}
	if len(kept) == len(imp.Specifiers) {
		return full
	}
	return ast.RenderImport(&ast.ImportInfo{Source: imp.Source, Specifiers: kept})
}

func renderExportNamed(s *ast.Statement, keep map[int]bool, full string) string {
	specs := s.Export.Specifiers
	if len(keep) == len(specs) {
		return full
	}
	if len(keep) == 0 {
		if s.Export.HasSource() {
			// Kept only for the evaluation of its source.
			return ast.RenderImport(&ast.ImportInfo{Source: s.Export.Source})
		}
		return ""
	}
	kept := make([]ast.ExportSpecifier, 0, len(keep))
	for j, spec := range specs {
		if keep[j] {
			kept = append(kept, spec)
		}
	}
	return ast.RenderExportClause(kept, s.Export.Source)
}

// replaceProgram parses code, swaps the module info wholesale and rebuilds
// the module's outgoing edges from the new dependency list.
func (e *engine) replaceProgram(ctx context.Context, sm *shakeModule, code []byte) error {
	prog, err := ast.ParseScript(ctx, sm.prog.Path, code, ast.SyntaxJS)
	if err != nil {
		return fmt.Errorf("%s: %w", sm.id, err)
	}
	if serr := prog.Err(); serr != nil {
		return fmt.Errorf("%s: %w: %w", sm.id, ErrRewrite, serr)
	}

	old := sm.module.Info
	info := *old
	info.AST = prog
	info.Deps = analyze.AnalyzeScript(prog)
	info.Resolved = make(map[string]graph.ResolvedTarget, len(info.Deps))
	for _, d := range info.Deps {
		if t, ok := old.Resolved[d.Source]; ok {
			info.Resolved[d.Source] = t
		}
	}

	return ReplaceInfo(e.g, sm.id, &info, sm.module.Kind, sm.sideEffects)
}

// ReplaceInfo stores info for id and replaces its outgoing edges with the
// ones info.Deps resolves to.
func ReplaceInfo(g *graph.ModuleGraph, id graph.ModuleId, info *graph.ModuleInfo, kind graph.ModuleKind, sideEffects bool) error {
	if err := g.SetInfo(id, info, kind, sideEffects); err != nil {
		return err
	}
	for _, to := range g.GetDependencyIds(id) {
		g.RemoveDependency(id, to)
	}
	for _, d := range info.Deps {
		t, ok := info.Resolved[d.Source]
		if !ok || !g.HasModule(t.Id) {
			continue
		}
		if err := g.AddDependency(id, t.Id, d); err != nil {
			return err
		}
	}
	return nil
}

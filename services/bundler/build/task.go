// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianPack/services/bundler/analyze"
	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
	"github.com/AleutianAI/AleutianPack/services/bundler/load"
	"github.com/AleutianAI/AleutianPack/services/bundler/resolve"
	"github.com/AleutianAI/AleutianPack/services/bundler/transform"
)

// task is one module to build.
type task struct {
	id  graph.ModuleId
	res resolve.Resolution
}

// result is what a worker hands back to the orchestrator. Ownership of
// the module (and its AST) moves with it.
type result struct {
	id          graph.ModuleId
	module      *graph.Module
	resolutions map[string]resolve.Resolution

	// fatal is set when the module itself failed; module is then an error
	// module.
	fatal *ModuleError

	// unresolved lists dependencies that could not be resolved.
	unresolved []*ModuleError

	duration time.Duration
}

// runTask executes Load, Parse, Transform, Analyze and Resolve for one
// module. It touches no shared state besides the cache.
func (b *Builder) runTask(ctx context.Context, t task) result {
	start := time.Now()
	r := result{id: t.id, resolutions: make(map[string]resolve.Resolution)}

	m := &graph.Module{Id: t.id, SideEffects: true}
	info, kind, err := b.buildInfo(ctx, t)
	if err != nil {
		r.fatal = err
		info = b.errorInfo(ctx, t.id, err)
		kind = graph.KindScript
	}
	m.Info = info
	m.Kind = kind
	if err == nil {
		m.SideEffects = b.sideEffectsFor(t, info)
	}

	if err == nil {
		b.resolveDeps(ctx, t, info, &r)
	}

	r.module = m
	r.duration = time.Since(start)
	return r
}

func (b *Builder) sideEffectsFor(t task, info *graph.ModuleInfo) bool {
	switch {
	case info.IsIgnored:
		return false
	case info.External != nil:
		return true
	case info.DescribedSideEffects != nil:
		return *info.DescribedSideEffects
	default:
		return !b.opts.PureByDefault
	}
}

func (b *Builder) buildInfo(ctx context.Context, t task) (*graph.ModuleInfo, graph.ModuleKind, *ModuleError) {
	switch t.res.Kind {
	case resolve.KindExternal:
		prog, err := ast.ParseScript(ctx, string(t.id), []byte(ExternalSource(t.res.External)), ast.SyntaxJS)
		if err != nil {
			return nil, 0, &ModuleError{Kind: ParseError, ModuleId: t.id, Err: err}
		}
		return &graph.ModuleInfo{AST: prog, External: t.res.External}, graph.KindScript, nil
	case resolve.KindIgnored:
		prog, err := ast.ParseScript(ctx, string(t.id), []byte(IgnoredSource), ast.SyntaxJS)
		if err != nil {
			return nil, 0, &ModuleError{Kind: ParseError, ModuleId: t.id, Err: err}
		}
		return &graph.ModuleInfo{AST: prog, IsIgnored: true}, graph.KindScript, nil
	}

	content, err := b.opts.Loader.Load(ctx, load.Request{Path: t.id.Path(), Query: t.id.Query()})
	if err != nil {
		return nil, 0, &ModuleError{Kind: LoadError, ModuleId: t.id, Err: err}
	}

	info := &graph.ModuleInfo{RawHash: content.Hash, DescribedSideEffects: t.res.SideEffects}
	switch {
	case content.Kind == load.KindCSS:
		sheet, err := ast.ParseStylesheet(ctx, content.Path, content.Data)
		if err != nil {
			return nil, 0, &ModuleError{Kind: ParseError, ModuleId: t.id, Err: err}
		}
		info.AST = sheet
		info.Deps = analyze.AnalyzeStylesheet(sheet)
		return info, graph.KindStyle, nil
	case content.Kind == load.KindAsset:
		info.AST = &ast.Raw{Path: content.Path, Data: content.Data}
		return info, graph.KindOther, nil
	}

	prog, merr := b.parseScript(ctx, t.id, content)
	if merr != nil {
		return nil, 0, merr
	}
	info.AST = prog
	info.Deps = analyze.AnalyzeScript(prog)
	return info, graph.KindScript, nil
}

// parseScript runs the transform pipeline and final parse, consulting the
// program cache first.
func (b *Builder) parseScript(ctx context.Context, id graph.ModuleId, content *load.Content) (*ast.Program, *ModuleError) {
	if b.opts.Cache != nil {
		if prog, ok := b.opts.Cache.GetProgram(string(id), content.Hash); ok {
			return prog, nil
		}
	}

	unit := transform.NewUnit(content.Path, content.Kind.Syntax(), content.Hash, content.Data)
	if b.opts.Pipeline != nil {
		if err := b.opts.Pipeline.Run(ctx, unit); err != nil {
			var lerr *transform.LoweringError
			if errors.As(err, &lerr) {
				return nil, &ModuleError{Kind: ParseError, ModuleId: id, Span: graph.Span{Line: lerr.Line, Column: lerr.Column}, Err: err}
			}
			return nil, &ModuleError{Kind: TransformError, ModuleId: id, Err: err}
		}
	}

	prog, err := unit.Program(ctx)
	if err != nil {
		return nil, &ModuleError{Kind: ParseError, ModuleId: id, Err: err}
	}
	if serr := prog.SyntaxErr; serr != nil {
		return nil, &ModuleError{Kind: ParseError, ModuleId: id, Span: graph.Span{Line: serr.Line, Column: serr.Column}, Err: serr}
	}

	if b.opts.Cache != nil {
		b.opts.Cache.PutProgram(string(id), content.Hash, prog)
	}
	return prog, nil
}

// errorInfo synthesizes a module that throws the failure at runtime.
func (b *Builder) errorInfo(ctx context.Context, id graph.ModuleId, merr *ModuleError) *graph.ModuleInfo {
	prog, err := ast.ParseScript(ctx, string(id), []byte(ErrorModuleSource(merr.Err)), ast.SyntaxJS)
	info := &graph.ModuleInfo{IsErrorModule: true}
	if err == nil {
		info.AST = prog
	}
	return info
}

// resolveDeps resolves each distinct specifier once.
func (b *Builder) resolveDeps(ctx context.Context, t task, info *graph.ModuleInfo, r *result) {
	if len(info.Deps) == 0 {
		return
	}
	info.Resolved = make(map[string]graph.ResolvedTarget)
	importer := t.id.Path()

	for _, dep := range info.Deps {
		if _, done := info.Resolved[dep.Source]; done {
			continue
		}
		if _, failed := info.Missing[dep.Source]; failed {
			continue
		}

		var res resolve.Resolution
		var err error
		if IsLoaderSyntax(dep.Source) {
			err = ErrLoaderSyntax
		} else {
			res, err = b.opts.Resolver.Resolve(ctx, importer, dep.Source)
		}
		if err != nil {
			if info.Missing == nil {
				info.Missing = make(map[string]string)
			}
			info.Missing[dep.Source] = MissingMessage(dep.Source)
			r.unresolved = append(r.unresolved, &ModuleError{
				Kind:     ResolveError,
				ModuleId: t.id,
				Source:   dep.Source,
				Span:     dep.Span,
				Err:      err,
			})
			continue
		}

		info.Resolved[dep.Source] = graph.ResolvedTarget{
			Id:       res.Id,
			External: res.Kind == resolve.KindExternal,
			Ignored:  res.Kind == resolve.KindIgnored,
		}
		r.resolutions[dep.Source] = res
	}
}

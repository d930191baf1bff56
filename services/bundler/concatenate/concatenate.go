// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package concatenate merges single-consumer ES modules into the scope of
// the module that imports them (scope hoisting).
//
// A config is a root plus the inner modules merged into it. Roots are ES
// modules outside any cycle without dynamic or worker dependencies. Inner
// modules must also be imported only through named or default imports
// from modules of the same config, must not be entries and must not be
// reachable from any module outside the config.
//
// Inner modules are inlined dependencies first. Their top-level names are
// renamed on collision with `name_N`, import and export syntax is removed
// and anonymous default exports are bound to `<file>_N`. Imports of modules
// outside the config are hoisted into the root with the target id as the
// specifier.
package concatenate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPack/services/bundler/analyze"
	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
	"github.com/AleutianAI/AleutianPack/services/bundler/treeshake"
)

// Options configures Concatenate.
type Options struct {
	Logger *slog.Logger
}

// Result reports the applied configs.
type Result struct {
	// Configs are the merged configs in root order.
	Configs []Config

	// Skipped lists roots whose config could not be merged.
	Skipped []graph.ModuleId

	// Removed lists the inner modules deleted from the graph.
	Removed []graph.ModuleId
}

// Concatenate merges every eligible config of g in place.
//
// # Inputs
//
//   - ctx: Used for tracing and reparsing.
//   - g: A shaken graph. No build wave may run concurrently.
//
// # Outputs
//
//   - Result: The merged configs.
//   - error: Non-nil only when the graph rejects an update. Shapes the
//     merger cannot handle skip the config instead.
//
// # Thread Safety
//
// Must not run concurrently with other mutations of g.
func Concatenate(ctx context.Context, g *graph.ModuleGraph, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "concatenate.Concatenate")
	defer span.End()
	start := time.Now()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "concatenate"))

	sorted, cycles := g.Toposort(ctx)
	configs := newPlanner(g, sorted, cycles).plan()

	var res Result
	for _, c := range configs {
		err := apply(ctx, g, c)
		switch {
		case err == nil:
			res.Configs = append(res.Configs, c)
			res.Removed = append(res.Removed, c.Inners...)
			recordConfig(ctx, "merged", len(c.Inners))
			logger.Debug("modules concatenated",
				slog.String("root", string(c.Root)),
				slog.Int("inners", len(c.Inners)),
			)
		case errors.Is(err, ErrUnsupported):
			res.Skipped = append(res.Skipped, c.Root)
			recordConfig(ctx, "skipped", len(c.Inners))
			logger.Debug("concatenation skipped",
				slog.String("root", string(c.Root)),
				slog.String("reason", err.Error()),
			)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "graph update failed")
			return res, err
		}
	}

	span.SetAttributes(
		attribute.Int("concatenate.configs", len(res.Configs)),
		attribute.Int("concatenate.removed", len(res.Removed)),
		attribute.Int("concatenate.skipped", len(res.Skipped)),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("concatenation finished",
		slog.Int("configs", len(res.Configs)),
		slog.Int("removed", len(res.Removed)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// apply merges one config. The graph is untouched unless the merged code
// parses.
func apply(ctx context.Context, g *graph.ModuleGraph, c Config) error {
	mg, mods, err := newMerger(g, c)
	if err != nil {
		return err
	}
	code, err := mg.render(mods)
	if err != nil {
		if errors.Is(err, ast.ErrInvalidEdit) {
			return fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return err
	}

	root := mods[0]
	prog, err := ast.ParseScript(ctx, root.prog.Path, code, ast.SyntaxJS)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", c.Root, ErrUnsupported, err)
	}
	if serr := prog.Err(); serr != nil {
		return fmt.Errorf("%s: %w: %w", c.Root, ErrUnsupported, serr)
	}

	info := *root.info
	info.AST = prog
	info.Deps = analyze.AnalyzeScript(prog)
	info.Resolved = make(map[string]graph.ResolvedTarget, len(info.Deps))
	for _, d := range info.Deps {
		if t, ok := mg.hoistTargets[d.Source]; ok {
			info.Resolved[d.Source] = t
		} else if t, ok := root.info.Resolved[d.Source]; ok {
			info.Resolved[d.Source] = t
		}
	}

	rootModule, _ := g.GetModule(c.Root)
	sideEffects := rootModule.SideEffects
	for _, id := range c.Inners {
		if m, ok := g.GetModule(id); ok && m.SideEffects {
			sideEffects = true
		}
	}

	if err := treeshake.ReplaceInfo(g, c.Root, &info, graph.KindScript, sideEffects); err != nil {
		return err
	}
	for _, id := range c.Inners {
		g.RemoveModule(id)
	}
	return nil
}

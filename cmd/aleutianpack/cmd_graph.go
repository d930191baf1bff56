// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPack/services/bundler/compiler"
)

func runGraphCommand(cmd *cobra.Command, _ []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()
	return runGraph(cmd.Context(), a, rawGraph)
}

// runGraph compiles once and prints the output graph, or the build graph
// when raw is set. Cycle groups come from the topological sort.
func runGraph(ctx context.Context, a *app, raw bool) (err error) {
	c, err := compiler.New(a.cfg, compiler.Options{Logger: a.logger.Slog()})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()

	if _, err := c.Compile(ctx); err != nil {
		a.printer.Failure(err)
		return errBuildFailed
	}

	g := c.Output()
	if raw {
		g = c.BuildGraph()
	}
	_, cycles := g.Toposort(ctx)
	a.printer.Graph(g, cycles)
	return nil
}

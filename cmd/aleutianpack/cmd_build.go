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

func runBuildCommand(cmd *cobra.Command, _ []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()
	return runBuild(cmd.Context(), a)
}

// runBuild compiles once. Failures are printed and reported as
// errBuildFailed so main exits non-zero without repeating them.
func runBuild(ctx context.Context, a *app) (err error) {
	a.cfg.Watch = false
	c, err := compiler.New(a.cfg, compiler.Options{Logger: a.logger.Slog()})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()

	res, err := c.Compile(ctx)
	if err != nil {
		a.printer.Failure(err)
		return errBuildFailed
	}
	a.printer.Summary(res)
	return nil
}

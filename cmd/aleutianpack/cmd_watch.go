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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPack/services/bundler/compiler"
	"github.com/AleutianAI/AleutianPack/services/bundler/telemetry"
	"github.com/AleutianAI/AleutianPack/services/bundler/watch"
)

func runWatchCommand(cmd *cobra.Command, _ []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		if _, err := telemetry.ServeMetrics(ctx, metricsAddr, a.logger.Slog()); err != nil {
			return err
		}
	}
	return runWatch(ctx, a)
}

// runWatch builds in watch mode and then rebuilds on every batch of file
// changes until ctx is done. A failing initial build does not stop the
// session; module errors are recorded and a later change can fix them.
func runWatch(ctx context.Context, a *app) (err error) {
	a.cfg.Watch = true
	logger := a.logger.Slog()
	c, err := compiler.New(a.cfg, compiler.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()

	res, err := c.Compile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.printer.Failure(err)
	} else {
		a.printer.Summary(res)
	}

	session, err := watch.NewSession(a.cfg.Root, c, func(_ []watch.Change, res *compiler.Result, err error) {
		if err != nil {
			a.printer.Failure(err)
			return
		}
		a.printer.Summary(res)
	}, watch.Options{
		Ignore: watchIgnores(a.cfg),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("watching for changes", slog.String("root", a.cfg.Root))
	return session.Run(ctx)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPack/services/bundler/compiler"
)

// Rebuilder runs a rebuild wave. *compiler.Compiler implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context, paths []string) (*compiler.Result, error)
}

// ResultFunc observes each rebuild. err is the Rebuild error.
type ResultFunc func(changes []Change, res *compiler.Result, err error)

// Session feeds watcher batches into rebuild waves.
type Session struct {
	watcher  *Watcher
	rebuild  Rebuilder
	onResult ResultFunc
	logger   *slog.Logger
}

// NewSession watches root and rebuilds r on every batch.
//
// # Inputs
//
//   - root: The project root.
//   - r: Usually the compiler that ran the initial build.
//   - onResult: May be nil.
//   - opts: Watcher options.
func NewSession(root string, r Rebuilder, onResult ResultFunc, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		rebuild:  r,
		onResult: onResult,
		logger:   logger.With(slog.String("component", "watch")),
	}
	w, err := New(root, s.handle, opts)
	if err != nil {
		return nil, err
	}
	s.watcher = w
	return s, nil
}

func (s *Session) handle(ctx context.Context, changes []Change) {
	batch := uuid.NewString()
	s.logger.Info("changes detected",
		slog.String("batch_id", batch),
		slog.Int("files", len(changes)),
	)
	res, err := s.rebuild.Rebuild(ctx, Paths(changes))
	if err != nil {
		s.logger.Error("rebuild failed", slog.String("batch_id", batch), slog.String("error", err.Error()))
	}
	if s.onResult != nil {
		s.onResult(changes, res, err)
	}
}

// Run watches until ctx is done or Stop is called. It only reports errors
// from starting the watcher.
func (s *Session) Run(ctx context.Context) error {
	if err := s.watcher.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.watcher.stopped:
	}
	s.watcher.Stop()
	return nil
}

// Stop ends the session and makes Run return.
func (s *Session) Stop() {
	s.watcher.Stop()
}

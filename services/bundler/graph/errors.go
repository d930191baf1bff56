// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the module graph of the bundler.
//
// The module graph is a directed graph where nodes are modules (one per
// resolved file plus virtual query) and edges carry the typed dependency
// references between them. It is the single source of truth shared by the
// build scheduler, the tree-shaker, module concatenation and the downstream
// chunk splitter.
//
// # Ownership Model
//
// The graph stores *Module pointers. ModuleInfo is replaced wholesale via
// ReplaceModule or SetInfo; callers MUST NOT mutate a ModuleInfo after
// handing it to the graph.
//
// # Thread Safety
//
// ModuleGraph is guarded by a single sync.RWMutex. Reads may run
// concurrently. All mutation is expected to come from one orchestrator
// goroutine; the write lock makes concurrent mutation safe but not ordered.
//
// # Lifecycle
//
// A typical graph lifecycle:
//  1. Create with New()
//  2. Seed entries with AddModule(&Module{IsEntry: true, ...})
//  3. Grow with AddModule() placeholders and AddDependency() calls
//  4. Query with Toposort(), GetDependencies(), GetModules()
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrModuleNotFound is returned when an operation references a module
	// that is not in the graph. Both endpoints must exist before an edge
	// can be created.
	ErrModuleNotFound = errors.New("module not found")

	// ErrDuplicateModule is returned when adding a module whose id already
	// exists. Use ReplaceModule to swap a module explicitly.
	ErrDuplicateModule = errors.New("duplicate module id")

	// ErrInvalidModule is returned for a nil module or an empty id.
	ErrInvalidModule = errors.New("invalid module")
)

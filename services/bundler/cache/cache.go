// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds build artifacts that survive between rebuild waves
// and, optionally, between processes.
//
// Two tiers:
//
//	memory (LRU of parsed programs, keyed by path + content hash)
//	disk   (badger, lowered TS/JSX code keyed by the transform key)
//
// The cache is an explicit object owned by the compiler; there is no
// process-wide instance.
package cache

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// ErrNoStoreDir is returned when a persistent store has no directory.
var ErrNoStoreDir = errors.New("cache directory is required")

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "bundler_cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by tier and result",
	}, []string{"tier", "result"})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "bundler_cache",
		Name:      "evictions_total",
		Help:      "Parsed programs evicted from the memory tier",
	})
)

const transformPrefix = "t:"

// Config configures a Cache.
type Config struct {
	// MemoryEntries caps the program tier.
	MemoryEntries int

	// Store is the optional persistent tier. The Cache takes ownership.
	Store *Store

	Logger *slog.Logger
}

// ProgramKey identifies a parsed program.
type ProgramKey struct {
	Path string
	Hash uint64
}

// Cache is the compiler-owned artifact cache.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	programs *LRU[ProgramKey, *ast.Program]
	store    *Store
	logger   *slog.Logger
}

// New creates a cache.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		programs: NewLRU[ProgramKey, *ast.Program](cfg.MemoryEntries),
		store:    cfg.Store,
		logger:   logger.With(slog.String("component", "cache")),
	}
	c.programs.OnEvict(func(ProgramKey, *ast.Program) { cacheEvictions.Inc() })
	return c
}

// GetProgram returns the cached program for a file version.
func (c *Cache) GetProgram(path string, hash uint64) (*ast.Program, bool) {
	p, ok := c.programs.Get(ProgramKey{Path: path, Hash: hash})
	if ok {
		cacheLookups.WithLabelValues("memory", "hit").Inc()
		c.logger.Debug("program cache hit", slog.String("path", path))
	} else {
		cacheLookups.WithLabelValues("memory", "miss").Inc()
	}
	return p, ok
}

// PutProgram stores a program for a file version.
func (c *Cache) PutProgram(path string, hash uint64, p *ast.Program) {
	c.programs.Set(ProgramKey{Path: path, Hash: hash}, p)
}

// InvalidatePath drops the memory entry for one file version.
func (c *Cache) InvalidatePath(path string, hash uint64) {
	c.programs.Delete(ProgramKey{Path: path, Hash: hash})
}

// GetTransform implements transform.Store over the persistent tier.
func (c *Cache) GetTransform(key string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	v, ok, err := c.store.Get(transformKey(key))
	if err != nil {
		c.logger.Warn("transform cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	if ok {
		cacheLookups.WithLabelValues("disk", "hit").Inc()
	} else {
		cacheLookups.WithLabelValues("disk", "miss").Inc()
	}
	return v, ok
}

// PutTransform implements transform.Store over the persistent tier.
func (c *Cache) PutTransform(key string, code []byte) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(transformKey(key), code); err != nil {
		c.logger.Warn("transform cache write failed", slog.String("error", err.Error()))
	}
}

// Stats returns memory tier counters.
func (c *Cache) Stats() LRUStats {
	return c.programs.Stats()
}

// Close releases the persistent tier.
func (c *Cache) Close() error {
	c.programs.Purge()
	if c.store == nil {
		return nil
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// transformKey hashes arbitrary-length transform keys to a fixed width.
func transformKey(key string) []byte {
	return []byte(fmt.Sprintf("%s%016x", transformPrefix, xxhash.Sum64String(key)))
}

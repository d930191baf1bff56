// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for module graph operations.
var (
	tracer = otel.Tracer("aleutian.bundler.graph")
	meter  = otel.Meter("aleutian.bundler.graph")
)

var (
	toposortLatency metric.Float64Histogram
	toposortModules metric.Int64Histogram
	cyclesFound     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		toposortLatency, err = meter.Float64Histogram(
			"bundler_graph_toposort_duration_seconds",
			metric.WithDescription("Duration of module graph topological sorts"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toposortModules, err = meter.Int64Histogram(
			"bundler_graph_toposort_modules",
			metric.WithDescription("Number of modules ordered per topological sort"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cyclesFound, err = meter.Int64Counter(
			"bundler_graph_cycles_total",
			metric.WithDescription("Total number of dependency cycles reported"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordToposortMetrics(ctx context.Context, duration time.Duration, modules, cycles int) {
	if err := initMetrics(); err != nil {
		return
	}
	toposortLatency.Record(ctx, duration.Seconds())
	toposortModules.Record(ctx, int64(modules))
	if cycles > 0 {
		cyclesFound.Add(ctx, int64(cycles))
	}
}

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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.bundler.treeshake")
	meter  = otel.Meter("aleutian.bundler.treeshake")
)

var (
	shakeLatency    metric.Float64Histogram
	modulesRemoved  metric.Int64Counter
	modulesRewrites metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		shakeLatency, err = meter.Float64Histogram(
			"bundler_treeshake_duration_seconds",
			metric.WithDescription("Duration of tree shaking runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		modulesRemoved, err = meter.Int64Counter(
			"bundler_treeshake_modules_removed_total",
			metric.WithDescription("Total number of modules removed by tree shaking"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		modulesRewrites, err = meter.Int64Counter(
			"bundler_treeshake_modules_rewritten_total",
			metric.WithDescription("Total number of modules rewritten by tree shaking"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordShake(ctx context.Context, duration time.Duration, removed, rewritten int) {
	if err := initMetrics(); err != nil {
		return
	}
	shakeLatency.Record(ctx, duration.Seconds())
	modulesRemoved.Add(ctx, int64(removed))
	modulesRewrites.Add(ctx, int64(rewritten))
}

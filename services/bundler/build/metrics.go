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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.bundler.build")
	meter  = otel.Meter("aleutian.bundler.build")
)

var (
	waveLatency    metric.Float64Histogram
	moduleLatency  metric.Float64Histogram
	modulesBuilt   metric.Int64Counter
	moduleFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		waveLatency, err = meter.Float64Histogram(
			"bundler_build_wave_duration_seconds",
			metric.WithDescription("Duration of build waves"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		moduleLatency, err = meter.Float64Histogram(
			"bundler_build_module_duration_seconds",
			metric.WithDescription("Duration of a single module build task"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		modulesBuilt, err = meter.Int64Counter(
			"bundler_build_modules_total",
			metric.WithDescription("Total number of modules built"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		moduleFailures, err = meter.Int64Counter(
			"bundler_build_module_errors_total",
			metric.WithDescription("Total number of module errors by stage"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordModule(ctx context.Context, r *result) {
	if err := initMetrics(); err != nil {
		return
	}
	moduleLatency.Record(ctx, r.duration.Seconds())
	modulesBuilt.Add(ctx, 1)
	if r.fatal != nil {
		moduleFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", r.fatal.Kind.String())))
	}
	if n := len(r.unresolved); n > 0 {
		moduleFailures.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", ResolveError.String())))
	}
}

func recordWave(ctx context.Context, duration time.Duration, rebuild bool) {
	if err := initMetrics(); err != nil {
		return
	}
	waveLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("rebuild", rebuild)))
}

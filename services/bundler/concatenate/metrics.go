// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concatenate

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.bundler.concatenate")
	meter  = otel.Meter("aleutian.bundler.concatenate")
)

var (
	configsTotal  metric.Int64Counter
	modulesMerged metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		configsTotal, err = meter.Int64Counter(
			"bundler_concatenate_configs_total",
			metric.WithDescription("Concatenation configs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		modulesMerged, err = meter.Int64Counter(
			"bundler_concatenate_modules_merged_total",
			metric.WithDescription("Inner modules merged into a root"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordConfig(ctx context.Context, outcome string, inners int) {
	if err := initMetrics(); err != nil {
		return
	}
	configsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "merged" {
		modulesMerged.Add(ctx, int64(inners))
	}
}

// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for verification operations.
var (
	tracer = otel.Tracer("leanagent.lean")
	meter  = otel.Meter("leanagent.lean")
)

// Metrics for verification checks.
var (
	checkLatency  metric.Float64Histogram
	checkTotal    metric.Int64Counter
	checkTimeouts metric.Int64Counter
	backendSpawns metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkLatency, err = meter.Float64Histogram(
			"lean_check_duration_seconds",
			metric.WithDescription("Duration of verification checks"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkTotal, err = meter.Int64Counter(
			"lean_check_total",
			metric.WithDescription("Total number of verification checks"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkTimeouts, err = meter.Int64Counter(
			"lean_check_timeouts_total",
			metric.WithDescription("Checks that exceeded their wall-clock budget"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		backendSpawns, err = meter.Int64Counter(
			"lean_backend_spawns_total",
			metric.WithDescription("Verifier processes started"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startCheckSpan creates a span for one verification check.
func startCheckSpan(ctx context.Context, backend string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Backend.Check",
		trace.WithAttributes(
			attribute.String("lean.backend", backend),
		),
	)
}

// recordCheckMetrics records metrics for one verification check.
func recordCheckMetrics(ctx context.Context, backend string, duration time.Duration, res *RawResult) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("succeeded", res.Succeeded),
	)
	checkLatency.Record(ctx, duration.Seconds(), attrs)
	checkTotal.Add(ctx, 1, attrs)

	if res.TimedOut {
		checkTimeouts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
		))
	}
}

// recordBackendSpawn records a verifier process start.
func recordBackendSpawn(ctx context.Context, backend string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	backendSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("success", success),
	))
}

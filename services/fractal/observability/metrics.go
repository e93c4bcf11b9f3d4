// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the render
// pipeline.
//
// # Description
//
// Long exploratory sessions accumulate hundreds of renders; the metrics
// here make it possible to see how often fast renders are hit versus full
// ones, how long renders take at depth, and how often users cancel.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fractal"

// RenderMetrics holds the Prometheus metrics for render orchestration.
type RenderMetrics struct {
	// RendersTotal counts renders by mode and outcome.
	// Labels: mode (full, fast), outcome (completed, cancelled)
	RendersTotal *prometheus.CounterVec

	// RenderDurationSeconds measures wall time per render.
	// Labels: mode (full, fast)
	RenderDurationSeconds *prometheus.HistogramVec

	// ActiveRenders is 1 while the worker is rendering, else 0.
	ActiveRenders prometheus.Gauge

	// SnapshotsTotal counts progress snapshots delivered to the sink.
	SnapshotsTotal prometheus.Counter

	// RequestsCoalescedTotal counts stale requests dropped in favor of
	// a newer generation.
	RequestsCoalescedTotal prometheus.Counter
}

// NewRenderMetrics creates and registers the render metrics against the
// given registerer. Pass prometheus.DefaultRegisterer in production and a
// fresh registry in tests.
func NewRenderMetrics(reg prometheus.Registerer) *RenderMetrics {
	m := &RenderMetrics{
		RendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "renders_total",
			Help:      "Renders executed, by mode and outcome.",
		}, []string{"mode", "outcome"}),

		RenderDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "render_duration_seconds",
			Help:      "Wall time per render.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"mode"}),

		ActiveRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_renders",
			Help:      "Whether a render is currently executing (0 or 1).",
		}),

		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "progress_snapshots_total",
			Help:      "Progress snapshots delivered to the presentation sink.",
		}),

		RequestsCoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_coalesced_total",
			Help:      "Render requests dropped because a newer one superseded them.",
		}),
	}

	reg.MustRegister(
		m.RendersTotal,
		m.RenderDurationSeconds,
		m.ActiveRenders,
		m.SnapshotsTotal,
		m.RequestsCoalescedTotal,
	)
	return m
}

// NopMetrics returns metrics registered against a private registry, for
// callers that do not export metrics (tests, the headless CLI).
func NopMetrics() *RenderMetrics {
	return NewRenderMetrics(prometheus.NewRegistry())
}

// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the derivation
// pipeline.
//
// # Description
//
// Every transition of the per-slot claim state machine is counted:
// claims attempted (by outcome), generations executed (by status), and
// backfill sweep activity. Expose via /metrics with promhttp.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// All methods are nil-receiver safe so components can run without metrics
// (tests, library embedding).
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aviary"

const deriveSubsystem = "derive"

// PipelineMetrics holds all Prometheus metrics for the derivation pipeline.
//
// # Fields
//
//   - ClaimsTotal: Counter of EnsureFresh outcomes. Labels: kind, outcome
//     (scheduled, not_needed, claim_lost, enqueue_failed).
//   - GenerationsTotal: Counter of worker executions. Labels: kind, status
//     (completed, superseded, failed, agent_missing).
//   - GenerationDurationSeconds: Histogram of generator call duration.
//     Labels: kind.
//   - SweepsTotal: Counter of backfill sweep runs. Labels: status
//     (ok, error).
//   - SweepScheduledTotal: Counter of artifacts scheduled by sweeps.
type PipelineMetrics struct {
	ClaimsTotal               *prometheus.CounterVec
	GenerationsTotal          *prometheus.CounterVec
	GenerationDurationSeconds *prometheus.HistogramVec
	SweepsTotal               *prometheus.CounterVec
	SweepScheduledTotal       prometheus.Counter
}

// NewPipelineMetrics creates and registers all pipeline metrics on the
// given registerer.
//
// # Inputs
//
//   - reg: Prometheus registerer. Use prometheus.DefaultRegisterer in the
//     daemon, prometheus.NewRegistry() in tests.
//
// # Outputs
//
//   - *PipelineMetrics: Ready-to-use metrics. Registration failures panic
//     (promauto), which only happens on duplicate registration.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		ClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: deriveSubsystem,
			Name:      "claims_total",
			Help:      "EnsureFresh outcomes by artifact kind.",
		}, []string{"kind", "outcome"}),
		GenerationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: deriveSubsystem,
			Name:      "generations_total",
			Help:      "Generation job executions by artifact kind and status.",
		}, []string{"kind", "status"}),
		GenerationDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: deriveSubsystem,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of external generator calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"kind"}),
		SweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: deriveSubsystem,
			Name:      "sweeps_total",
			Help:      "Backfill sweep runs by status.",
		}, []string{"status"}),
		SweepScheduledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: deriveSubsystem,
			Name:      "sweep_scheduled_total",
			Help:      "Artifacts scheduled by backfill sweeps.",
		}),
	}
}

// ObserveClaim records an EnsureFresh outcome. Nil-safe.
func (m *PipelineMetrics) ObserveClaim(kind, outcome string) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveGeneration records a worker execution status. Nil-safe.
func (m *PipelineMetrics) ObserveGeneration(kind, status string) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveGenerationDuration records a generator call duration. Nil-safe.
func (m *PipelineMetrics) ObserveGenerationDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveSweep records a sweep run and its scheduled count. Nil-safe.
func (m *PipelineMetrics) ObserveSweep(status string, scheduled int) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(status).Inc()
	if scheduled > 0 {
		m.SweepScheduledTotal.Add(float64(scheduled))
	}
}

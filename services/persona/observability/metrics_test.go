// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestPipelineMetrics_Counters verifies label wiring on the counters.
func TestPipelineMetrics_Counters(t *testing.T) {
	m := NewPipelineMetrics(prometheus.NewRegistry())

	m.ObserveClaim("label", "scheduled")
	m.ObserveClaim("label", "scheduled")
	m.ObserveClaim("tags", "not_needed")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClaimsTotal.WithLabelValues("label", "scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsTotal.WithLabelValues("tags", "not_needed")))

	m.ObserveGeneration("avatar", "completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("avatar", "completed")))

	m.ObserveSweep("ok", 3)
	m.ObserveSweep("ok", 0)
	m.ObserveSweep("error", 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepsTotal.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepScheduledTotal))
}

// TestPipelineMetrics_NilSafe verifies all observers tolerate a nil
// receiver so components can run without metrics.
func TestPipelineMetrics_NilSafe(t *testing.T) {
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.ObserveClaim("label", "scheduled")
		m.ObserveGeneration("label", "completed")
		m.ObserveGenerationDuration("label", time.Second)
		m.ObserveSweep("ok", 1)
	})
}

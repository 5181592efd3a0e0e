// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRunner verifies construction and defaults.
func TestNewRunner(t *testing.T) {
	t.Run("rejects nil sweeper", func(t *testing.T) {
		_, err := NewRunner(nil, RunnerConfig{})
		assert.Error(t, err)
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		f := newFixture(t)
		r, err := NewRunner(f.sweeper, RunnerConfig{})
		require.NoError(t, err)
		defaults := DefaultRunnerConfig()
		assert.Equal(t, defaults.Interval, r.config.Interval)
		assert.Equal(t, defaults.BatchSize, r.config.BatchSize)
		assert.Equal(t, defaults.ScanLimit, r.config.ScanLimit)
	})
}

// TestRunner_ImmediateFirstSweep verifies Start runs a sweep right away.
func TestRunner_ImmediateFirstSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	r, err := NewRunner(f.sweeper, RunnerConfig{Interval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.queue.recorded()) == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 5 scheduled jobs, got %d", len(f.queue.recorded()))
}

// TestRunner_Lifecycle verifies double start, stop, and restart behavior.
func TestRunner_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := NewRunner(f.sweeper, RunnerConfig{Interval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx), "double start is an error")

	r.Stop()
	r.Stop() // Idempotent.

	require.NoError(t, r.Start(ctx), "restart after stop")
	r.Stop()
}

// TestRunner_RunNow verifies the on-demand sweep path.
func TestRunner_RunNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	r, err := NewRunner(f.sweeper, RunnerConfig{Interval: time.Hour})
	require.NoError(t, err)

	result, err := r.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Scheduled)
}

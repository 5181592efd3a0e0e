// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Periodic Runner
// =============================================================================

// RunnerConfig holds configuration for the background sweep runner.
//
// # Fields
//
//   - Interval: How often to run a sweep. Default: 10 minutes.
//   - BatchSize: Maximum artifacts to schedule per sweep. Default: 50.
//   - ScanLimit: Maximum agents to examine per sweep. Default: 200.
type RunnerConfig struct {
	Interval  time.Duration
	BatchSize int
	ScanLimit int
}

// DefaultRunnerConfig returns production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:  10 * time.Minute,
		BatchSize: 50,
		ScanLimit: 200,
	}
}

// Runner periodically invokes the sweeper.
//
// # Description
//
// Ticker + done channel lifecycle: Start launches the loop (with an
// immediate first sweep), Stop signals shutdown and waits for the loop to
// exit. Only one runner should exist per deployment, but an extra one is
// harmless — sweeps tolerate overlap.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Runner struct {
	sweeper *Sweeper
	config  RunnerConfig

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewRunner creates a background sweep runner.
func NewRunner(sweeper *Sweeper, config RunnerConfig) (*Runner, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper must not be nil")
	}
	defaults := DefaultRunnerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ScanLimit <= 0 {
		config.ScanLimit = defaults.ScanLimit
	}
	return &Runner{sweeper: sweeper, config: config}, nil
}

// Start begins the background sweep loop.
//
// # Outputs
//
//   - error: Non-nil if the runner is already running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("sweep runner is already running")
	}
	r.running = true
	r.done = make(chan struct{})
	r.stopped = make(chan struct{})
	r.mu.Unlock()

	slog.Info("sweep.runner: starting",
		"interval", r.config.Interval.String(),
		"batch_size", r.config.BatchSize,
		"scan_limit", r.config.ScanLimit,
	)

	go r.runLoop(ctx)
	return nil
}

// Stop halts the loop and waits for the current sweep to finish.
// Safe to call multiple times.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	stopped := r.stopped
	r.mu.Unlock()

	<-stopped
	slog.Info("sweep.runner: stopped")
}

// RunNow triggers an immediate sweep outside the schedule.
func (r *Runner) RunNow(ctx context.Context) (Result, error) {
	return r.sweeper.Sweep(ctx, r.config.BatchSize, r.config.ScanLimit)
}

func (r *Runner) runLoop(ctx context.Context) {
	defer close(r.stopped)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.executeSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep.runner: context cancelled")
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.executeSweep(ctx)
		}
	}
}

// executeSweep runs one sweep and keeps the loop alive on errors. The
// sweeper logs its own per-pass summary.
func (r *Runner) executeSweep(ctx context.Context) {
	if _, err := r.sweeper.Sweep(ctx, r.config.BatchSize, r.config.ScanLimit); err != nil {
		slog.Error("sweep.runner: sweep failed", "error", err)
	}
}

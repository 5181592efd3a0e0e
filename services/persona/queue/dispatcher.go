// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// In-Process Dispatcher
// =============================================================================

// DispatcherConfig holds configuration for the in-process dispatcher.
//
// # Fields
//
//   - Workers: Number of concurrent job executors. Default: 4.
//   - Buffer: Capacity of the job channel. Enqueue returns false once the
//     buffer is full. Default: 256.
//   - MaxAttempts: Delivery attempts per job for handler errors. Default: 3.
//   - RetryDelay: Base delay between attempts, doubled each retry.
//     Default: 2s.
type DispatcherConfig struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     4,
		Buffer:      256,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
	}
}

// Dispatcher is a bounded in-process Queue backed by a worker pool.
//
// # Description
//
// Jobs are pushed onto a buffered channel and executed by a fixed pool of
// goroutines. Handler errors are retried with exponential backoff up to
// MaxAttempts, approximating the at-least-once delivery the claim protocol
// assumes within a single process. Jobs in flight are lost on crash; the
// backfill sweep and the next charter write are the recovery paths for
// that, matching the self-healing design of the scheduler.
//
// # Thread Safety
//
// Safe for concurrent use. Start/Stop manage the pool lifecycle; Enqueue
// may be called from any goroutine between them.
type Dispatcher struct {
	config  DispatcherConfig
	handler Handler
	jobs    chan Job

	// pending counts jobs from acceptance in Enqueue until their
	// execution finishes, so Drain never races the dequeue.
	pending atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewDispatcher creates a dispatcher that executes jobs with handler.
//
// # Inputs
//
//   - handler: Job executor. Must not be nil.
//   - config: Pool configuration; zero fields fall back to defaults.
//
// # Outputs
//
//   - *Dispatcher: Not running until Start() is called.
//   - error: Non-nil if handler is nil.
func NewDispatcher(handler Handler, config DispatcherConfig) (*Dispatcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("dispatcher handler must not be nil")
	}
	defaults := DefaultDispatcherConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Buffer <= 0 {
		config.Buffer = defaults.Buffer
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	return &Dispatcher{
		config:  config,
		handler: handler,
		jobs:    make(chan Job, config.Buffer),
	}, nil
}

// Start launches the worker pool.
//
// # Outputs
//
//   - error: Non-nil if the dispatcher is already running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.config.Workers; i++ {
		group.Go(func() error {
			d.runWorker(ctx)
			return nil
		})
	}

	d.cancel = cancel
	d.group = group
	d.running = true

	slog.Info("queue.dispatcher: started",
		"workers", d.config.Workers,
		"buffer", d.config.Buffer,
	)
	return nil
}

// Stop shuts the pool down and waits for in-flight jobs to finish their
// current attempt. Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
	_ = d.group.Wait()
	d.running = false
	slog.Info("queue.dispatcher: stopped")
}

// Enqueue implements Queue.
//
// # Description
//
// Non-blocking: returns false immediately when the buffer is full or the
// dispatcher has not been started. The scheduler treats false as an
// enqueue failure and releases its claim, so saturation degrades to "not
// scheduled now, retry later" instead of blocking request threads.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) bool {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return false
	}

	d.pending.Add(1)
	select {
	case d.jobs <- job:
		return true
	case <-ctx.Done():
		d.pending.Add(-1)
		return false
	default:
		d.pending.Add(-1)
		slog.Warn("queue.dispatcher: buffer full, rejecting job",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
		)
		return false
	}
}

// Drain blocks until every accepted job has finished executing, or the
// context expires.
//
// # Description
//
// Used by one-shot commands (personad sweep) so scheduled jobs run to
// completion before the process exits; an abandoned in-process job would
// leave its claim held until a newer charter version supersedes it. A job
// counts as pending from the moment Enqueue accepts it until its
// execution returns, so there is no window where a dequeued-but-not-yet-
// running job escapes the check.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runWorker consumes jobs until the context is cancelled.
func (d *Dispatcher) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			d.execute(ctx, job)
			d.pending.Add(-1)
		}
	}
}

// execute runs one job with bounded retries for infrastructure errors.
func (d *Dispatcher) execute(ctx context.Context, job Job) {
	delay := d.config.RetryDelay
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		err := d.handler(ctx, job)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if attempt < d.config.MaxAttempts {
			slog.Warn("queue.dispatcher: job failed, retrying",
				"agent_id", job.AgentID,
				"kind", string(job.Kind),
				"attempt", attempt,
				"max_attempts", d.config.MaxAttempts,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}

		slog.Error("queue.dispatcher: job exhausted attempts",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
			"attempts", d.config.MaxAttempts,
			"error", err,
		)
	}
}

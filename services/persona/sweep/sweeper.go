// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sweep backfills derived artifacts for agents that predate the
// derivation pipeline (or whose generation was lost to a crash).
//
// Each sweep scans a bounded window of agents past a durable cursor and
// calls the scheduler for slots that have neither a result nor a claim.
// The cursor advances to the last agent examined — not the last one
// scheduled — so a sweep that finds nothing still makes forward progress
// and eventually wraps. Overlapping sweeps are safe because EnsureFresh is
// idempotent; the cursor is the only coordination between invocations.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
	"github.com/glasswing-ai/aviary/services/persona/observability"
	"github.com/glasswing-ai/aviary/services/persona/scheduler"
	"github.com/glasswing-ai/aviary/services/persona/store"
)

// CursorSetting is the settings-store key holding the sweep cursor.
const CursorSetting = "derive_backfill_cursor"

// Result summarizes one sweep invocation.
//
// # Fields
//
//   - Scanned: Agents examined this run.
//   - Scheduled: Artifacts scheduled this run.
//   - Wrapped: True if the scan hit the end of the keyspace and the
//     cursor was reset to the beginning.
//   - StartTime / EndTime: Run timing.
type Result struct {
	Scanned   int
	Scheduled int
	Wrapped   bool
	StartTime time.Time
	EndTime   time.Time
}

// DurationMs returns the run duration in milliseconds for logging.
func (r Result) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Sweeper is the cursor-driven backfill batch job.
//
// # Thread Safety
//
// Safe for concurrent use; overlapping sweeps may examine the same window
// but cannot double-schedule because the claim gate is idempotent.
type Sweeper struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	registry  *artifact.Registry
	metrics   *observability.PipelineMetrics
}

// NewSweeper creates a backfill sweeper.
//
// # Inputs
//
//   - st: The claim store (also holds the cursor setting). Must not be nil.
//   - sched: The scheduler. Must not be nil.
//   - registry: The artifact kind registry. Must not be nil.
//   - metrics: Pipeline metrics. May be nil.
func NewSweeper(st *store.Store, sched *scheduler.Scheduler, registry *artifact.Registry, metrics *observability.PipelineMetrics) (*Sweeper, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if sched == nil {
		return nil, errors.New("scheduler must not be nil")
	}
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	return &Sweeper{store: st, scheduler: sched, registry: registry, metrics: metrics}, nil
}

// Sweep runs one bounded backfill pass.
//
// # Description
//
// Fetches up to scanLimit agents past the durable cursor in id order. For
// each agent, every registered kind whose slot has neither a value nor an
// outstanding claim goes through EnsureFresh, until batchSize artifacts
// have been scheduled this run. The cursor then advances to the last
// agent fully examined and is persisted, so repeated invocations converge
// on scheduling every missing artifact exactly once.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - batchSize: Maximum artifacts to schedule this run. Must be positive.
//   - scanLimit: Maximum agents to examine this run. Must be positive.
//
// # Outputs
//
//   - Result: Scan and schedule counts for this run.
//   - error: Non-nil on storage faults; the cursor is not advanced past
//     unexamined agents in that case.
func (s *Sweeper) Sweep(ctx context.Context, batchSize, scanLimit int) (Result, error) {
	result := Result{StartTime: time.Now()}
	if batchSize <= 0 || scanLimit <= 0 {
		return result, fmt.Errorf("batchSize and scanLimit must be positive, got %d/%d", batchSize, scanLimit)
	}

	cursor, err := s.store.GetSetting(ctx, CursorSetting)
	if err != nil && !errors.Is(err, store.ErrSettingNotFound) {
		s.metrics.ObserveSweep("error", 0)
		return result, err
	}

	agents, err := s.store.ScanAgents(ctx, cursor, scanLimit)
	if err != nil {
		s.metrics.ObserveSweep("error", 0)
		return result, err
	}

	if len(agents) == 0 {
		// End of keyspace: wrap so the next sweep starts over.
		if cursor != "" {
			if err := s.store.SetSetting(ctx, CursorSetting, ""); err != nil {
				s.metrics.ObserveSweep("error", 0)
				return result, err
			}
			result.Wrapped = true
		}
		result.EndTime = time.Now()
		s.metrics.ObserveSweep("ok", 0)
		slog.Debug("sweep: nothing to scan", "wrapped", result.Wrapped)
		return result, nil
	}

	lastExamined := cursor
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			break
		}
		scheduled, err := s.sweepAgent(ctx, agent.ID)
		if err != nil {
			// Persist progress up to the last fully examined agent
			// before surfacing the fault.
			_ = s.persistCursor(ctx, lastExamined)
			s.metrics.ObserveSweep("error", result.Scheduled)
			result.EndTime = time.Now()
			return result, err
		}
		result.Scanned++
		result.Scheduled += scheduled
		lastExamined = agent.ID
		if result.Scheduled >= batchSize {
			break
		}
	}

	if err := s.persistCursor(ctx, lastExamined); err != nil {
		s.metrics.ObserveSweep("error", result.Scheduled)
		result.EndTime = time.Now()
		return result, err
	}

	result.EndTime = time.Now()
	s.metrics.ObserveSweep("ok", result.Scheduled)
	if result.Scheduled > 0 {
		slog.Info("sweep: backfill pass completed",
			"scanned", result.Scanned,
			"scheduled", result.Scheduled,
			"cursor", lastExamined,
			"duration_ms", result.DurationMs(),
		)
	} else {
		slog.Debug("sweep: backfill pass found nothing to schedule",
			"scanned", result.Scanned,
			"cursor", lastExamined,
		)
	}
	return result, nil
}

// sweepAgent schedules every registered kind the agent is missing.
// A slot is a backfill candidate only when it has neither a produced
// value nor an outstanding claim; anything else is either done or already
// in flight.
func (s *Sweeper) sweepAgent(ctx context.Context, agentID string) (int, error) {
	scheduled := 0
	for _, kind := range s.registry.Kinds() {
		slot, err := s.store.GetSlot(ctx, agentID, kind)
		if err != nil {
			return scheduled, err
		}
		if slot.ValueSourceHash != "" || slot.RequestedHash != "" {
			continue
		}
		outcome, err := s.scheduler.EnsureFresh(ctx, agentID, kind)
		if err != nil {
			return scheduled, err
		}
		if outcome.Scheduled() {
			scheduled++
		}
	}
	return scheduled, nil
}

func (s *Sweeper) persistCursor(ctx context.Context, cursor string) error {
	return s.store.SetSetting(ctx, CursorSetting, cursor)
}

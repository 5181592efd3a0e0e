// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler decides whether a derived artifact needs regeneration
// and, if so, claims the version and enqueues a generation job.
//
// EnsureFresh is the single entry point every trigger uses: charter write
// handlers, the dependency chain inside the worker, and the backfill
// sweeper. It is idempotent and race-safe — any number of concurrent
// callers for the same (agent, kind) resolve to exactly one claimed job
// per charter version — and it never returns an error for expected
// conditions (missing charter, lost race, saturated queue). Those degrade
// to an Outcome, and the next trigger retries naturally.
//
// Call EnsureFresh only after the charter write it reacts to has
// committed; the claim write itself is durable before the job is enqueued,
// so a worker can never observe a claim that might still roll back.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
	"github.com/glasswing-ai/aviary/services/persona/fingerprint"
	"github.com/glasswing-ai/aviary/services/persona/observability"
	"github.com/glasswing-ai/aviary/services/persona/queue"
	"github.com/glasswing-ai/aviary/services/persona/store"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome reports what EnsureFresh did.
type Outcome int

const (
	// OutcomeNotNeeded means the artifact is already fresh, a claim for
	// this exact version is already outstanding, or the agent has no
	// charter to derive from. Nothing was scheduled.
	OutcomeNotNeeded Outcome = iota

	// OutcomeScheduled means this call won the claim and a job was
	// registered with the queue.
	OutcomeScheduled

	// OutcomeClaimLost means another caller claimed this version first.
	// Their job covers this version; nothing more to do.
	OutcomeClaimLost

	// OutcomeEnqueueFailed means the claim succeeded but the queue refused
	// the job. The claim was released so a future call can retry.
	OutcomeEnqueueFailed
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNotNeeded:
		return "not_needed"
	case OutcomeScheduled:
		return "scheduled"
	case OutcomeClaimLost:
		return "claim_lost"
	case OutcomeEnqueueFailed:
		return "enqueue_failed"
	default:
		return "unknown"
	}
}

// Scheduled reports whether a job was registered.
func (o Outcome) Scheduled() bool { return o == OutcomeScheduled }

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler is the content-hash-gated scheduling primitive.
//
// # Thread Safety
//
// Safe for concurrent use; all exclusion happens in the store's
// conditional writes.
type Scheduler struct {
	store    *store.Store
	registry *artifact.Registry
	queue    queue.Queue
	metrics  *observability.PipelineMetrics
}

// New creates a scheduler.
//
// # Inputs
//
//   - st: The claim store. Must not be nil.
//   - registry: The artifact kind registry. Must not be nil.
//   - q: The job queue. Must not be nil.
//   - metrics: Pipeline metrics. May be nil.
//
// # Outputs
//
//   - *Scheduler: Ready for use.
//   - error: Non-nil if a required collaborator is nil.
func New(st *store.Store, registry *artifact.Registry, q queue.Queue, metrics *observability.PipelineMetrics) (*Scheduler, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if q == nil {
		return nil, errors.New("queue must not be nil")
	}
	return &Scheduler{store: st, registry: registry, queue: q, metrics: metrics}, nil
}

// EnsureFresh schedules regeneration of (agent, kind) if the stored
// artifact is stale and no claim for the current version is outstanding.
//
// # Description
//
// The full decision ladder:
//
//  1. Missing agent, or empty charter: clear any stale claim for this
//     kind (compensating cleanup) and report NotNeeded.
//  2. Artifact fresh for the current fingerprint: NotNeeded, even when a
//     stale claim lingers — a fresh result always wins over a claim.
//  3. Claim already outstanding for this exact fingerprint: NotNeeded.
//  4. Claim race lost: ClaimLost.
//  5. Claim won but queue refused the job: release the claim, report
//     EnqueueFailed. Self-healing — the next call retries.
//  6. Otherwise: Scheduled, with exactly one job registered for this
//     (agent, kind, fingerprint) tuple.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - agentID: The source agent.
//   - kind: A registered artifact kind.
//
// # Outputs
//
//   - Outcome: What happened; never an error for expected conditions.
//   - error: Non-nil only for storage faults or an unregistered kind.
func (s *Scheduler) EnsureFresh(ctx context.Context, agentID string, kind artifact.Kind) (Outcome, error) {
	if _, ok := s.registry.Get(kind); !ok {
		return OutcomeNotNeeded, fmt.Errorf("unregistered artifact kind %q", kind)
	}

	outcome, err := s.ensureFresh(ctx, agentID, kind)
	if err != nil {
		return outcome, err
	}
	s.metrics.ObserveClaim(string(kind), outcome.String())
	return outcome, nil
}

func (s *Scheduler) ensureFresh(ctx context.Context, agentID string, kind artifact.Kind) (Outcome, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrAgentNotFound) {
		return OutcomeNotNeeded, nil
	}
	if err != nil {
		return OutcomeNotNeeded, err
	}

	hash := fingerprint.Fingerprint(agent.Charter)
	if hash == "" {
		// No content to derive from. Clear any stale claim so the slot
		// does not stay permanently "in flight" for content that no
		// longer exists.
		if err := s.releaseStaleClaim(ctx, agentID, kind); err != nil {
			return OutcomeNotNeeded, err
		}
		return OutcomeNotNeeded, nil
	}

	slot, err := s.store.GetSlot(ctx, agentID, kind)
	if err != nil {
		return OutcomeNotNeeded, err
	}
	if slot.Fresh(hash) {
		return OutcomeNotNeeded, nil
	}
	if slot.RequestedHash == hash {
		return OutcomeNotNeeded, nil
	}

	claimed, err := s.store.TryClaim(ctx, agentID, kind, hash)
	if err != nil {
		return OutcomeNotNeeded, err
	}
	if !claimed {
		return OutcomeClaimLost, nil
	}

	// The claim committed durably above; registering the job is the last
	// step, so a worker can never race a claim that might roll back.
	job := queue.Job{AgentID: agentID, Kind: kind, ExpectedHash: hash}
	if !s.queue.Enqueue(ctx, job) {
		// Compensate so a future call can retry. A crash between the
		// claim commit and this release leaves the claim held until a
		// newer charter version supersedes it — an accepted, self-healing
		// race, not a bug (see DESIGN.md).
		if _, err := s.store.ReleaseClaim(ctx, agentID, kind, hash); err != nil {
			return OutcomeEnqueueFailed, err
		}
		slog.Warn("scheduler: enqueue failed, claim released",
			"agent_id", agentID,
			"kind", string(kind),
		)
		return OutcomeEnqueueFailed, nil
	}

	slog.Debug("scheduler: generation scheduled",
		"agent_id", agentID,
		"kind", string(kind),
		"hash", hash,
	)
	return OutcomeScheduled, nil
}

// releaseStaleClaim clears whatever claim the slot currently holds.
// Used only on the empty-charter path.
func (s *Scheduler) releaseStaleClaim(ctx context.Context, agentID string, kind artifact.Kind) error {
	slot, err := s.store.GetSlot(ctx, agentID, kind)
	if err != nil {
		return err
	}
	if slot.RequestedHash == "" {
		return nil
	}
	_, err = s.store.ReleaseClaim(ctx, agentID, kind, slot.RequestedHash)
	return err
}

// EnsureFreshAll runs EnsureFresh for every registered kind.
//
// # Description
//
// Convenience for charter write paths and the backfill sweeper. Kinds are
// visited in registration order; a dependent kind whose prerequisite is
// still stale will typically schedule anyway from the charter, and is
// rescheduled by the chain when the prerequisite completes.
//
// # Outputs
//
//   - int: How many kinds were scheduled.
//   - error: First storage fault encountered; earlier scheduling stands.
func (s *Scheduler) EnsureFreshAll(ctx context.Context, agentID string) (int, error) {
	scheduled := 0
	for _, kind := range s.registry.Kinds() {
		outcome, err := s.EnsureFresh(ctx, agentID, kind)
		if err != nil {
			return scheduled, err
		}
		if outcome.Scheduled() {
			scheduled++
		}
	}
	return scheduled, nil
}

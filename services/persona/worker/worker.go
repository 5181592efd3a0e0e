// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package worker executes generation jobs claimed by the scheduler.
//
// Execute is the queue's job entry point. It re-validates that the claimed
// charter version is still current before calling the generator — without
// that re-check a slow job could overwrite a newer result with a stale
// one — and its final write is conditioned on the claim it was dispatched
// for, so a claim that was superseded mid-flight turns into a benign
// no-op rather than a clobber.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
	"github.com/glasswing-ai/aviary/services/persona/fingerprint"
	"github.com/glasswing-ai/aviary/services/persona/generator"
	"github.com/glasswing-ai/aviary/services/persona/observability"
	"github.com/glasswing-ai/aviary/services/persona/queue"
	"github.com/glasswing-ai/aviary/services/persona/scheduler"
	"github.com/glasswing-ai/aviary/services/persona/store"
)

// Execution statuses for logs and metrics.
const (
	statusCompleted    = "completed"
	statusSuperseded   = "superseded"
	statusFailed       = "failed"
	statusAgentMissing = "agent_missing"
)

// Executor runs generation jobs.
//
// # Thread Safety
//
// Safe for concurrent use by any number of queue workers; all exclusion
// happens in the store's conditional writes.
type Executor struct {
	store     *store.Store
	registry  *artifact.Registry
	generator generator.Generator
	scheduler *scheduler.Scheduler
	metrics   *observability.PipelineMetrics
}

// New creates an executor.
//
// # Inputs
//
//   - st: The claim store. Must not be nil.
//   - registry: The artifact kind registry. Must not be nil.
//   - gen: The external generator. Must not be nil.
//   - sched: Scheduler used for dependency chaining. Must not be nil.
//   - metrics: Pipeline metrics. May be nil.
func New(st *store.Store, registry *artifact.Registry, gen generator.Generator, sched *scheduler.Scheduler, metrics *observability.PipelineMetrics) (*Executor, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if gen == nil {
		return nil, errors.New("generator must not be nil")
	}
	if sched == nil {
		return nil, errors.New("scheduler must not be nil")
	}
	return &Executor{
		store:     st,
		registry:  registry,
		generator: gen,
		scheduler: sched,
		metrics:   metrics,
	}, nil
}

// Execute runs one generation job.
//
// # Description
//
// The job lifecycle:
//
//  1. Agent missing: the agent was deleted mid-flight. Clear the claim,
//     done.
//  2. Current fingerprint differs from the job's expected fingerprint:
//     the charter changed after the job was queued. Clear the stale claim
//     and exit without generating; whatever mutated the charter already
//     triggered scheduling for the new version.
//  3. Claim no longer held for the expected fingerprint: a previous
//     delivery of this job already completed it, or a newer claim
//     replaced it. Exit without generating — redelivered jobs must never
//     pay for a second generator call.
//  4. Call the generator with the charter and, for dependent kinds, the
//     already-produced prerequisite value.
//  5. Generator error or empty value: clear the claim, keep the
//     last-known-good value, and return nil so the queue does not retry a
//     content-quality failure.
//  6. Persist the value conditioned on the claim still matching. A failed
//     condition means a newer claim slipped in: benign no-op.
//  7. On a persisted result, invoke the scheduler for each kind that
//     declares this one as its prerequisite. The chain fires only on the
//     transition that actually persisted, so retries of this job cannot
//     fire it twice.
//
// # Outputs
//
//   - error: Non-nil only for infrastructure faults (storage); the queue
//     retries those. All content-level failures return nil.
func (e *Executor) Execute(ctx context.Context, job queue.Job) error {
	desc, ok := e.registry.Get(job.Kind)
	if !ok {
		// Job for a kind this process no longer registers; drop it.
		slog.Warn("worker: job for unregistered kind", "kind", string(job.Kind))
		return nil
	}

	agent, err := e.store.GetAgent(ctx, job.AgentID)
	if errors.Is(err, store.ErrAgentNotFound) {
		if _, err := e.store.ReleaseClaim(ctx, job.AgentID, job.Kind, job.ExpectedHash); err != nil {
			return err
		}
		e.metrics.ObserveGeneration(string(job.Kind), statusAgentMissing)
		slog.Debug("worker: agent deleted mid-flight, claim cleared",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
		)
		return nil
	}
	if err != nil {
		return err
	}

	currentHash := fingerprint.Fingerprint(agent.Charter)
	if currentHash != job.ExpectedHash {
		// Mandatory staleness re-check: the source moved on while this
		// job sat in the queue.
		if _, err := e.store.ReleaseClaim(ctx, job.AgentID, job.Kind, job.ExpectedHash); err != nil {
			return err
		}
		e.metrics.ObserveGeneration(string(job.Kind), statusSuperseded)
		slog.Debug("worker: claim superseded before generation",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
			"expected_hash", job.ExpectedHash,
			"current_hash", currentHash,
		)
		return nil
	}

	slot, err := e.store.GetSlot(ctx, job.AgentID, job.Kind)
	if err != nil {
		return err
	}
	if slot.RequestedHash != job.ExpectedHash {
		// The claim this job was dispatched for is no longer held: either
		// a previous delivery already completed it (at-least-once queues
		// redeliver) or a newer claim replaced it. Either way the
		// generator call would be wasted money, so exit before making it.
		e.metrics.ObserveGeneration(string(job.Kind), statusSuperseded)
		slog.Debug("worker: claim no longer held, skipping generation",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
			"expected_hash", job.ExpectedHash,
			"requested_hash", slot.RequestedHash,
		)
		return nil
	}

	req := generator.Request{Kind: desc, Charter: agent.Charter}
	if desc.Requires != "" {
		prereq, err := e.store.GetSlot(ctx, job.AgentID, desc.Requires)
		if err != nil {
			return err
		}
		req.Prerequisite = prereq.Value
	}

	start := time.Now()
	value, genErr := e.generator.Generate(ctx, req)
	e.metrics.ObserveGenerationDuration(string(job.Kind), time.Since(start))

	if genErr != nil || value.IsZero() {
		// Content-quality failure: keep the last-known-good value, clear
		// the claim so a later trigger can retry, and do not ask the
		// queue to redeliver.
		if _, err := e.store.ReleaseClaim(ctx, job.AgentID, job.Kind, job.ExpectedHash); err != nil {
			return err
		}
		e.metrics.ObserveGeneration(string(job.Kind), statusFailed)
		slog.Warn("worker: generation failed, claim cleared",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
			"error", genErr,
			"empty_value", genErr == nil,
		)
		return nil
	}

	persisted, err := e.store.CompleteGeneration(ctx, job.AgentID, job.Kind, job.ExpectedHash, value)
	if err != nil {
		return err
	}
	if !persisted {
		e.metrics.ObserveGeneration(string(job.Kind), statusSuperseded)
		slog.Debug("worker: result superseded at final write",
			"agent_id", job.AgentID,
			"kind", string(job.Kind),
		)
		return nil
	}

	e.metrics.ObserveGeneration(string(job.Kind), statusCompleted)
	slog.Info("worker: artifact generated",
		"agent_id", job.AgentID,
		"kind", string(job.Kind),
		"hash", job.ExpectedHash,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return e.chainDependents(ctx, job.AgentID, job.Kind)
}

// chainDependents schedules kinds that declare the completed kind as
// their prerequisite.
func (e *Executor) chainDependents(ctx context.Context, agentID string, kind artifact.Kind) error {
	for _, dependent := range e.registry.Dependents(kind) {
		outcome, err := e.scheduler.EnsureFresh(ctx, agentID, dependent)
		if err != nil {
			return err
		}
		slog.Debug("worker: dependent kind considered",
			"agent_id", agentID,
			"kind", string(dependent),
			"outcome", outcome.String(),
		)
	}
	return nil
}

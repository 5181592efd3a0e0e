// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package queue defines the job queue contract the scheduler enqueues into
// and provides a default in-process dispatcher.
//
// The claim protocol only needs two things from a queue: Enqueue reports
// acceptance synchronously (so the scheduler can compensate a claim when
// the queue is unavailable), and delivery is at-least-once with no
// ordering guarantee. A production deployment may substitute any broker
// that meets that contract; the dispatcher here is the single-process
// implementation used by personad and by tests.
//
// Load-bearing external assumption: a job that fails or times out must
// eventually be retried or dead-lettered by the queue layer. The claim a
// job carries is only ever cleared by the worker that set it, by the
// agent-missing path, or by a superseding claim for a newer charter; there
// is no janitor that forcibly clears stuck claims.
package queue

import (
	"context"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
)

// Job describes one generation job.
//
// # Fields
//
//   - AgentID: The source agent.
//   - Kind: The artifact kind to generate.
//   - ExpectedHash: The charter fingerprint the claim was taken for. The
//     worker re-validates this against the current charter before doing
//     any work.
type Job struct {
	AgentID      string
	Kind         artifact.Kind
	ExpectedHash string
}

// Queue accepts generation jobs for asynchronous execution.
//
// # Description
//
// Enqueue must report acceptance synchronously and must not block on job
// execution. A false return means the job was not registered and the
// caller should compensate (the scheduler releases its claim).
type Queue interface {
	// Enqueue registers a job for asynchronous execution.
	//
	// # Outputs
	//
	//   - bool: True if the job was accepted; false if the queue is
	//     unavailable or saturated.
	Enqueue(ctx context.Context, job Job) bool
}

// Handler executes one job.
//
// # Description
//
// A non-nil error signals an infrastructure fault and asks the queue to
// redeliver. Content-quality failures (bad generator output) must be
// handled inside the worker and reported as nil, so the queue does not
// retry work that will fail identically.
type Handler func(ctx context.Context, job Job) error

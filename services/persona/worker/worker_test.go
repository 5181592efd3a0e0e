// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
	"github.com/glasswing-ai/aviary/services/persona/fingerprint"
	"github.com/glasswing-ai/aviary/services/persona/generator"
	"github.com/glasswing-ai/aviary/services/persona/queue"
	"github.com/glasswing-ai/aviary/services/persona/scheduler"
	"github.com/glasswing-ai/aviary/services/persona/store"
)

// recordingQueue captures jobs the scheduler enqueues (e.g. via dependency
// chaining) so tests can drive them explicitly.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) recorded() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// fakeGenerator returns canned values per kind, counting calls. hook, when
// set, runs during Generate to simulate store mutations mid-generation.
type fakeGenerator struct {
	mu       sync.Mutex
	values   map[artifact.Kind]artifact.Value
	err      error
	calls    int
	requests []generator.Request
	hook     func()
}

func (g *fakeGenerator) Generate(_ context.Context, req generator.Request) (artifact.Value, error) {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	err := g.err
	value := g.values[req.Kind.Kind]
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return artifact.Value{}, err
	}
	return value, nil
}

type fixture struct {
	store *store.Store
	queue *recordingQueue
	gen   *fakeGenerator
	sched *scheduler.Scheduler
	exec  *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := artifact.DefaultRegistry()
	q := &recordingQueue{}
	gen := &fakeGenerator{values: map[artifact.Kind]artifact.Value{
		artifact.KindShortDescription:  artifact.TextValue("Helps close sales deals."),
		artifact.KindLabel:             artifact.TextValue("Sales Helper"),
		artifact.KindTags:              artifact.ListValue([]string{"Sales", "Outreach"}),
		artifact.KindVisualDescription: artifact.TextValue("A sharp navy suit and a confident smile."),
		artifact.KindAvatar:            artifact.BlobValue([]byte{0x89, 0x50, 0x4e, 0x47}, "image/png"),
	}}

	sched, err := scheduler.New(st, registry, q, nil)
	require.NoError(t, err)
	exec, err := New(st, registry, gen, sched, nil)
	require.NoError(t, err)

	return &fixture{store: st, queue: q, gen: gen, sched: sched, exec: exec}
}

// claimJob schedules (agent, kind) through the real scheduler and returns
// the queued job.
func (f *fixture) claimJob(t *testing.T, ctx context.Context, agentID string, kind artifact.Kind) queue.Job {
	t.Helper()
	outcome, err := f.sched.EnsureFresh(ctx, agentID, kind)
	require.NoError(t, err)
	require.Equal(t, scheduler.OutcomeScheduled, outcome)
	jobs := f.queue.recorded()
	return jobs[len(jobs)-1]
}

// TestExecute_CompletesGeneration verifies the happy path persists the
// value and clears the claim.
func TestExecute_CompletesGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindTags)
	require.NoError(t, f.exec.Execute(ctx, job))

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindTags)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales", "Outreach"}, slot.Value.List)
	assert.Equal(t, job.ExpectedHash, slot.ValueSourceHash)
	assert.Empty(t, slot.RequestedHash)
	assert.Equal(t, 1, f.gen.calls)
}

// TestExecute_StaleJobSkipsGeneration verifies the mandatory re-check: a
// job whose charter changed after queueing releases its claim without
// calling the generator.
func TestExecute_StaleJobSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindTags)
	_, err = f.store.UpdateCharter(ctx, agent.ID, "Help with support")
	require.NoError(t, err)

	require.NoError(t, f.exec.Execute(ctx, job))

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindTags)
	require.NoError(t, err)
	assert.True(t, slot.Value.IsZero())
	assert.Empty(t, slot.RequestedHash, "stale claim released")
	assert.Equal(t, 0, f.gen.calls, "generator must not run for a stale job")
}

// TestExecute_SupersededAtFinalWrite verifies that a job whose claim was
// cleared while it generated refuses its final write as a benign no-op.
func TestExecute_SupersededAtFinalWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)

	// The claim disappears while the generator runs; the conditioned
	// final write must refuse rather than resurrect it.
	f.gen.hook = func() {
		released, err := f.store.ReleaseClaim(ctx, agent.ID, artifact.KindLabel, job.ExpectedHash)
		require.NoError(t, err)
		require.True(t, released)
	}

	require.NoError(t, f.exec.Execute(ctx, job))

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, err)
	assert.True(t, slot.Value.IsZero(), "refused write leaves the slot untouched")
	assert.Empty(t, slot.ValueSourceHash)
	assert.Empty(t, slot.RequestedHash)
	assert.Equal(t, 1, f.gen.calls, "generation ran before the claim vanished")
}

// TestExecute_RedeliveredCompletedJob verifies an at-least-once redelivery
// of an already-completed job exits without paying for a second generator
// call.
func TestExecute_RedeliveredCompletedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, f.exec.Execute(ctx, job))
	require.Equal(t, 1, f.gen.calls)

	// Same job descriptor arrives again: the charter still matches, but
	// the claim is gone because the first delivery completed it.
	require.NoError(t, f.exec.Execute(ctx, job))
	assert.Equal(t, 1, f.gen.calls, "redelivered completed job must not regenerate")

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, err)
	assert.Equal(t, "Sales Helper", slot.Value.Text)
	assert.Equal(t, job.ExpectedHash, slot.ValueSourceHash)
	assert.Empty(t, slot.RequestedHash)
}

// TestExecute_ReleasedClaimSkipsGeneration verifies a job whose claim was
// released before execution exits before calling the generator.
func TestExecute_ReleasedClaimSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)
	released, err := f.store.ReleaseClaim(ctx, agent.ID, artifact.KindLabel, job.ExpectedHash)
	require.NoError(t, err)
	require.True(t, released)

	require.NoError(t, f.exec.Execute(ctx, job))
	assert.Equal(t, 0, f.gen.calls, "no claim, no generator call")

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, err)
	assert.True(t, slot.Value.IsZero())
	assert.Empty(t, slot.RequestedHash)
}

// TestExecute_GenerationFailureKeepsLastGood verifies failure semantics:
// claim cleared, last-known-good value retained, no queue retry requested.
func TestExecute_GenerationFailureKeepsLastGood(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	// Produce a good value first.
	job := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, f.exec.Execute(ctx, job))

	// Change the charter and fail the regeneration.
	_, err = f.store.UpdateCharter(ctx, agent.ID, "Help with support")
	require.NoError(t, err)
	retryJob := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)
	f.gen.err = errors.New("model returned garbage")

	require.NoError(t, f.exec.Execute(ctx, retryJob), "content failures must not trigger queue retries")

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, err)
	assert.Equal(t, "Sales Helper", slot.Value.Text, "last good value retained")
	assert.Equal(t, job.ExpectedHash, slot.ValueSourceHash, "source hash still the old version")
	assert.Empty(t, slot.RequestedHash, "claim cleared so a later trigger can retry")
}

// TestExecute_EmptyValueIsFailure verifies a zero generator result is
// treated like a generation failure.
func TestExecute_EmptyValueIsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	f.gen.values[artifact.KindLabel] = artifact.Value{}
	job := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, f.exec.Execute(ctx, job))

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, err)
	assert.True(t, slot.Value.IsZero())
	assert.Empty(t, slot.ValueSourceHash)
	assert.Empty(t, slot.RequestedHash)
}

// TestExecute_AgentDeletedMidFlight verifies the claim is cleared and the
// job resolves without error.
func TestExecute_AgentDeletedMidFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindLabel)
	require.NoError(t, f.store.DeleteAgent(ctx, agent.ID))

	require.NoError(t, f.exec.Execute(ctx, job))
	assert.Equal(t, 0, f.gen.calls)
}

// TestExecute_UnregisteredKindDropped verifies jobs for unknown kinds are
// dropped without error.
func TestExecute_UnregisteredKindDropped(t *testing.T) {
	f := newFixture(t)
	job := queue.Job{AgentID: "a", Kind: "banner_image", ExpectedHash: "h"}
	require.NoError(t, f.exec.Execute(context.Background(), job))
	assert.Equal(t, 0, f.gen.calls)
}

// TestExecute_ChainsDependents verifies avatar generation is scheduled
// when the visual description completes, and receives it as prerequisite.
func TestExecute_ChainsDependents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindVisualDescription)
	require.NoError(t, f.exec.Execute(ctx, job))

	jobs := f.queue.recorded()
	require.Len(t, jobs, 2, "completion chains the dependent avatar")
	avatarJob := jobs[1]
	assert.Equal(t, artifact.KindAvatar, avatarJob.Kind)
	assert.Equal(t, job.ExpectedHash, avatarJob.ExpectedHash)

	require.NoError(t, f.exec.Execute(ctx, avatarJob))
	lastReq := f.gen.requests[len(f.gen.requests)-1]
	assert.Equal(t, "A sharp navy suit and a confident smile.", lastReq.Prerequisite.Text)

	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindAvatar)
	require.NoError(t, err)
	assert.Equal(t, "image/png", slot.Value.ContentType)
	assert.NotEmpty(t, slot.Value.Blob)
}

// TestExecute_ChainFiresOnlyOnPersistedTransition verifies a superseded
// completion does not trigger the dependency chain.
func TestExecute_ChainFiresOnlyOnPersistedTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	job := f.claimJob(t, ctx, agent.ID, artifact.KindVisualDescription)

	// Supersede the claim before the job's final write.
	newHash := fingerprint.Fingerprint("Help with support")
	claimed, err := f.store.TryClaim(ctx, agent.ID, artifact.KindVisualDescription, newHash)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.exec.Execute(ctx, job))

	for _, queued := range f.queue.recorded() {
		assert.NotEqual(t, artifact.KindAvatar, queued.Kind,
			"superseded completion must not chain dependents")
	}
}

// TestExecute_FullCharterLifecycle walks the end-to-end scenario: create,
// generate everything, change the charter, regenerate.
func TestExecute_FullCharterLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)

	// Schedule all kinds and drain the queue to a fixpoint (chained jobs
	// included).
	_, err = f.sched.EnsureFreshAll(ctx, agent.ID)
	require.NoError(t, err)
	drainQueue(t, f)

	hash := fingerprint.Fingerprint("Help with sales")
	for _, kind := range []artifact.Kind{
		artifact.KindShortDescription,
		artifact.KindLabel,
		artifact.KindTags,
		artifact.KindVisualDescription,
		artifact.KindAvatar,
	} {
		slot, err := f.store.GetSlot(ctx, agent.ID, kind)
		require.NoError(t, err)
		assert.Equal(t, hash, slot.ValueSourceHash, "kind %s fresh", kind)
		assert.Empty(t, slot.RequestedHash, "kind %s settled", kind)
		assert.False(t, slot.Value.IsZero(), "kind %s produced", kind)
	}

	// Charter change regenerates everything at the new version.
	_, err = f.store.UpdateCharter(ctx, agent.ID, "Help with enterprise support")
	require.NoError(t, err)
	f.gen.values[artifact.KindTags] = artifact.ListValue([]string{"Support", "Enterprise"})

	_, err = f.sched.EnsureFreshAll(ctx, agent.ID)
	require.NoError(t, err)
	drainQueue(t, f)

	newHash := fingerprint.Fingerprint("Help with enterprise support")
	slot, err := f.store.GetSlot(ctx, agent.ID, artifact.KindTags)
	require.NoError(t, err)
	assert.Equal(t, newHash, slot.ValueSourceHash)
	assert.Equal(t, []string{"Support", "Enterprise"}, slot.Value.List)

	// Whitespace-only edits change nothing.
	_, err = f.store.UpdateCharter(ctx, agent.ID, "  Help   with enterprise\nsupport ")
	require.NoError(t, err)
	before := f.gen.calls
	scheduled, err := f.sched.EnsureFreshAll(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, scheduled)
	assert.Equal(t, before, f.gen.calls)
}

// drainQueue executes queued jobs, including ones enqueued by chaining,
// until none remain.
func drainQueue(t *testing.T, f *fixture) {
	t.Helper()
	executed := 0
	for {
		jobs := f.queue.recorded()
		if executed >= len(jobs) {
			return
		}
		job := jobs[executed]
		executed++
		require.NoError(t, f.exec.Execute(context.Background(), job))
	}
}

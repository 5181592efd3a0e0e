// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persona ties the derivation pipeline together behind a small
// facade for the agent CRUD paths.
//
// Charter writes go through this package so the ordering contract holds
// without every call site thinking about it: the charter write commits
// first, then EnsureFresh runs for every registered kind. Workers
// therefore never observe a claim for content that might roll back.
package persona

import (
	"context"
	"errors"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
	"github.com/glasswing-ai/aviary/services/persona/scheduler"
	"github.com/glasswing-ai/aviary/services/persona/store"
)

// Service is the charter-facing facade over the derivation pipeline.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	registry  *artifact.Registry
}

// NewService creates the facade.
func NewService(st *store.Store, sched *scheduler.Scheduler, registry *artifact.Registry) (*Service, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if sched == nil {
		return nil, errors.New("scheduler must not be nil")
	}
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	return &Service{store: st, scheduler: sched, registry: registry}, nil
}

// CreateAgent creates an agent and schedules its initial artifacts.
//
// # Outputs
//
//   - store.Agent: The created record.
//   - int: How many artifact kinds were scheduled for generation.
//   - error: Non-nil on storage faults; scheduling shortfalls are not
//     errors (the backfill sweep catches them).
func (s *Service) CreateAgent(ctx context.Context, charter string) (store.Agent, int, error) {
	agent, err := s.store.CreateAgent(ctx, charter)
	if err != nil {
		return store.Agent{}, 0, err
	}
	scheduled, err := s.scheduler.EnsureFreshAll(ctx, agent.ID)
	if err != nil {
		return agent, scheduled, err
	}
	return agent, scheduled, nil
}

// SetCharter updates an agent's charter and refreshes all artifacts.
//
// # Description
//
// The charter write commits before any scheduling happens; this is the
// deferred-until-commit contract the scheduler documents.
func (s *Service) SetCharter(ctx context.Context, agentID, charter string) (store.Agent, int, error) {
	agent, err := s.store.UpdateCharter(ctx, agentID, charter)
	if err != nil {
		return store.Agent{}, 0, err
	}
	scheduled, err := s.scheduler.EnsureFreshAll(ctx, agent.ID)
	if err != nil {
		return agent, scheduled, err
	}
	return agent, scheduled, nil
}

// Agent loads an agent record.
func (s *Service) Agent(ctx context.Context, agentID string) (store.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}

// Artifact loads the current slot for (agent, kind).
func (s *Service) Artifact(ctx context.Context, agentID string, kind artifact.Kind) (store.Slot, error) {
	return s.store.GetSlot(ctx, agentID, kind)
}

// DeleteAgent removes an agent and its artifact slots. Jobs already in
// flight for the agent resolve themselves via the worker's agent-missing
// path.
func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	return s.store.DeleteAgent(ctx, agentID)
}

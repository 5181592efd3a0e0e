// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glasswing-ai/aviary/pkg/logging"
	persona "github.com/glasswing-ai/aviary/services/persona"
	"github.com/glasswing-ai/aviary/services/persona/artifact"
	"github.com/glasswing-ai/aviary/services/persona/config"
	"github.com/glasswing-ai/aviary/services/persona/generator"
	"github.com/glasswing-ai/aviary/services/persona/observability"
	"github.com/glasswing-ai/aviary/services/persona/queue"
	"github.com/glasswing-ai/aviary/services/persona/scheduler"
	"github.com/glasswing-ai/aviary/services/persona/store"
	"github.com/glasswing-ai/aviary/services/persona/sweep"
	"github.com/glasswing-ai/aviary/services/persona/worker"
)

// pipeline bundles the assembled components of the derivation service.
type pipeline struct {
	cfg        config.Config
	logger     *logging.Logger
	store      *store.Store
	registry   *artifact.Registry
	dispatcher *queue.Dispatcher
	scheduler  *scheduler.Scheduler
	service    *persona.Service
	sweeper    *sweep.Sweeper
	metrics    *observability.PipelineMetrics
}

// buildPipeline assembles the full derivation pipeline from configuration.
//
// # Description
//
// The scheduler enqueues into the dispatcher, the dispatcher executes
// through the worker, and the worker calls back into the scheduler for
// dependency chaining — so the dispatcher is created first with a handler
// that indirects through a late-bound executor.
//
// # Inputs
//
//   - gen: The external generator. Pass nil to use the OpenAI generator
//     configured from the environment.
//   - withMetrics: Register pipeline metrics on the default Prometheus
//     registerer. Disable for one-shot commands.
func buildPipeline(gen generator.Generator, withMetrics bool) (*pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "personad",
		JSON:    cfg.Logging.JSON,
	})
	logger.Install()

	st, err := store.Open(store.Config{
		Path:       expandStorePath(cfg.Store.Path),
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	var metrics *observability.PipelineMetrics
	if withMetrics {
		metrics = observability.NewPipelineMetrics(prometheus.DefaultRegisterer)
	}

	if gen == nil {
		gen, err = generator.NewOpenAIGenerator()
		if err != nil {
			st.Close()
			logger.Close()
			return nil, err
		}
	}

	registry := artifact.DefaultRegistry()

	var exec *worker.Executor
	dispatcher, err := queue.NewDispatcher(func(ctx context.Context, job queue.Job) error {
		return exec.Execute(ctx, job)
	}, queue.DispatcherConfig{
		Workers:     cfg.Queue.Workers,
		Buffer:      cfg.Queue.Buffer,
		MaxAttempts: cfg.Queue.MaxAttempts,
		RetryDelay:  cfg.Queue.RetryDelay,
	})
	if err != nil {
		st.Close()
		logger.Close()
		return nil, err
	}

	sched, err := scheduler.New(st, registry, dispatcher, metrics)
	if err != nil {
		st.Close()
		logger.Close()
		return nil, err
	}
	exec, err = worker.New(st, registry, gen, sched, metrics)
	if err != nil {
		st.Close()
		logger.Close()
		return nil, err
	}

	svc, err := persona.NewService(st, sched, registry)
	if err != nil {
		st.Close()
		logger.Close()
		return nil, err
	}
	sweeper, err := sweep.NewSweeper(st, sched, registry, metrics)
	if err != nil {
		st.Close()
		logger.Close()
		return nil, err
	}

	return &pipeline{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		registry:   registry,
		dispatcher: dispatcher,
		scheduler:  sched,
		service:    svc,
		sweeper:    sweeper,
		metrics:    metrics,
	}, nil
}

// close releases pipeline resources in reverse dependency order.
func (p *pipeline) close() {
	p.dispatcher.Stop()
	if err := p.store.Close(); err != nil {
		p.logger.Error("close store", "error", err)
	}
	_ = p.logger.Close()
}

// expandStorePath expands a leading ~ in the store path.
func expandStorePath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

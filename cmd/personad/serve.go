// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/glasswing-ai/aviary/services/persona/sweep"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the derivation dispatcher, backfill sweeper, and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	p, err := buildPipeline(nil, true)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.dispatcher.Start(ctx); err != nil {
		return err
	}

	runner, err := sweep.NewRunner(p.sweeper, sweep.RunnerConfig{
		Interval:  p.cfg.Sweep.Interval,
		BatchSize: p.cfg.Sweep.BatchSize,
		ScanLimit: p.cfg.Sweep.ScanLimit,
	})
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	var metricsServer *http.Server
	if p.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: p.cfg.Metrics.Addr, Handler: mux}
		go func() {
			p.logger.Info("personad: metrics listening", "addr", p.cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.logger.Error("personad: metrics server failed", "error", err)
			}
		}()
	}

	p.logger.Info("personad: serving",
		"store_path", p.cfg.Store.Path,
		"sweep_interval", p.cfg.Sweep.Interval.String(),
	)

	<-ctx.Done()
	p.logger.Info("personad: shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

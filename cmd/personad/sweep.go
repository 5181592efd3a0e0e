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

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one backfill sweep pass and exit",
		Long: "Scans a bounded window of agents past the durable cursor and schedules\n" +
			"generation for artifacts that have neither a result nor an in-flight claim.\n" +
			"Jobs run on the in-process dispatcher before the command exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweepOnce(cmd.Context())
		},
	}
}

func runSweepOnce(ctx context.Context) error {
	p, err := buildPipeline(nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.dispatcher.Start(ctx); err != nil {
		return err
	}

	result, err := p.sweeper.Sweep(ctx, p.cfg.Sweep.BatchSize, p.cfg.Sweep.ScanLimit)
	if err != nil {
		return err
	}
	if err := p.dispatcher.Drain(ctx); err != nil {
		return fmt.Errorf("drain dispatcher: %w", err)
	}

	fmt.Printf("scanned %d agents, scheduled %d artifacts (wrapped=%v, %dms)\n",
		result.Scanned, result.Scheduled, result.Wrapped, result.DurationMs())
	return nil
}

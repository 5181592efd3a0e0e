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
	"strings"

	"github.com/spf13/cobra"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents and inspect their derived artifacts",
	}
	cmd.AddCommand(newAgentCreateCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentSetCharterCmd())
	cmd.AddCommand(newAgentDeleteCmd())
	return cmd
}

func newAgentCreateCmd() *cobra.Command {
	var charter string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent and schedule its initial artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline) error {
				agent, scheduled, err := p.service.CreateAgent(ctx, charter)
				if err != nil {
					return err
				}
				if err := p.dispatcher.Drain(ctx); err != nil {
					return fmt.Errorf("drain dispatcher: %w", err)
				}
				fmt.Printf("created agent %s (%d artifacts scheduled)\n", agent.ID, scheduled)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&charter, "charter", "", "free-text charter describing the agent's purpose")
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Print an agent's charter and artifact slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline) error {
				agent, err := p.service.Agent(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("agent %s\ncharter: %s\n", agent.ID, agent.Charter)
				for _, kind := range p.registry.Kinds() {
					slot, err := p.service.Artifact(ctx, agent.ID, kind)
					if err != nil {
						return err
					}
					fmt.Printf("  %-20s %s\n", string(kind)+":", describeSlot(slot.Value, slot.RequestedHash))
				}
				return nil
			})
		},
	}
}

func newAgentSetCharterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-charter <agent-id> <charter>",
		Short: "Replace an agent's charter and regenerate stale artifacts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline) error {
				agent, scheduled, err := p.service.SetCharter(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if err := p.dispatcher.Drain(ctx); err != nil {
					return fmt.Errorf("drain dispatcher: %w", err)
				}
				fmt.Printf("updated agent %s (%d artifacts scheduled)\n", agent.ID, scheduled)
				return nil
			})
		},
	}
}

func newAgentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent and its artifact slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline) error {
				if err := p.service.DeleteAgent(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted agent %s\n", args[0])
				return nil
			})
		},
	}
}

// withPipeline runs fn against a started pipeline and tears it down after.
func withPipeline(ctx context.Context, fn func(context.Context, *pipeline) error) error {
	p, err := buildPipeline(nil, false)
	if err != nil {
		return err
	}
	defer p.close()
	if err := p.dispatcher.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, p)
}

// describeSlot renders one artifact slot for the show command.
func describeSlot(value artifact.Value, requestedHash string) string {
	var state string
	switch {
	case value.IsZero() && requestedHash != "":
		return "(generating)"
	case value.IsZero():
		return "(empty)"
	case requestedHash != "":
		state = " (regenerating)"
	}
	switch {
	case len(value.List) > 0:
		return strings.Join(value.List, ", ") + state
	case len(value.Blob) > 0:
		return fmt.Sprintf("%d bytes %s%s", len(value.Blob), value.ContentType, state)
	default:
		return value.Text + state
	}
}

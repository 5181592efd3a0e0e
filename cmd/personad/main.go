// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// personad runs the Aviary persona derivation service: the generation
// dispatcher, the periodic backfill sweeper, and the metrics endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "personad",
		Short: "Aviary derived-artifact generation daemon",
		Long: "personad keeps agent presentation artifacts (description, label, tags,\n" +
			"visual identity, avatar) in sync with agent charters using a\n" +
			"content-hash-gated scheduling pipeline.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newAgentCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

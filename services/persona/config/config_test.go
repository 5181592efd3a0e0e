// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault verifies production defaults pass validation.
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, ":9187", cfg.Metrics.Addr)
	assert.True(t, cfg.Store.SyncWrites)
}

// TestLoad verifies YAML merging over defaults.
func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "personad.yaml")
		content := `
store:
  path: /var/lib/aviary
queue:
  workers: 8
sweep:
  interval: 1m
  batch_size: 10
logging:
  level: debug
  json: true
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/aviary", cfg.Store.Path)
		assert.Equal(t, 8, cfg.Queue.Workers)
		assert.Equal(t, time.Minute, cfg.Sweep.Interval)
		assert.Equal(t, 10, cfg.Sweep.BatchSize)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Logging.JSON)
		// Untouched fields keep their defaults.
		assert.Equal(t, 256, cfg.Queue.Buffer)
		assert.Equal(t, 200, cfg.Sweep.ScanLimit)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store: ["), 0600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

// TestValidate verifies field range checks.
func TestValidate(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		cfg := Default()
		fn(&cfg)
		return cfg
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing store path", mutate(func(c *Config) { c.Store.Path = "" })},
		{"zero workers", mutate(func(c *Config) { c.Queue.Workers = 0 })},
		{"zero buffer", mutate(func(c *Config) { c.Queue.Buffer = 0 })},
		{"zero batch size", mutate(func(c *Config) { c.Sweep.BatchSize = 0 })},
		{"zero scan limit", mutate(func(c *Config) { c.Sweep.ScanLimit = 0 })},
		{"zero interval", mutate(func(c *Config) { c.Sweep.Interval = 0 })},
		{"bad log level", mutate(func(c *Config) { c.Logging.Level = "verbose" })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}

	t.Run("in-memory store needs no path", func(t *testing.T) {
		cfg := mutate(func(c *Config) {
			c.Store.Path = ""
			c.Store.InMemory = true
		})
		assert.NoError(t, cfg.Validate())
	})
}

// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads personad configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level personad configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Store contains BadgerDB settings.
	Store StoreConfig `yaml:"store"`

	// Queue contains in-process dispatcher settings.
	Queue QueueConfig `yaml:"queue"`

	// Sweep contains backfill sweep settings.
	Sweep SweepConfig `yaml:"sweep"`

	// Metrics contains the Prometheus endpoint settings.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging contains log output settings.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig contains storage settings.
type StoreConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// QueueConfig contains dispatcher settings.
type QueueConfig struct {
	Workers     int           `yaml:"workers"`
	Buffer      int           `yaml:"buffer"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// SweepConfig contains backfill sweep settings.
type SweepConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	ScanLimit int           `yaml:"scan_limit"`
}

// MetricsConfig contains the /metrics listener settings.
type MetricsConfig struct {
	// Addr is the listen address for the metrics endpoint. Empty disables
	// the endpoint.
	Addr string `yaml:"addr"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns production defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path:       "~/.aviary/persona",
			SyncWrites: true,
		},
		Queue: QueueConfig{
			Workers:     4,
			Buffer:      256,
			MaxAttempts: 3,
			RetryDelay:  2 * time.Second,
		},
		Sweep: SweepConfig{
			Interval:  10 * time.Minute,
			BatchSize: 50,
			ScanLimit: 200,
		},
		Metrics: MetricsConfig{
			Addr: ":9187",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file over the defaults.
//
// # Inputs
//
//   - path: Config file path. Empty returns the defaults unchanged.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but cannot be read or parsed, or
//     if the result fails validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.Buffer <= 0 {
		return fmt.Errorf("queue.buffer must be positive, got %d", c.Queue.Buffer)
	}
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep.batch_size must be positive, got %d", c.Sweep.BatchSize)
	}
	if c.Sweep.ScanLimit <= 0 {
		return fmt.Errorf("sweep.scan_limit must be positive, got %d", c.Sweep.ScanLimit)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive, got %s", c.Sweep.Interval)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}

// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists agents and their per-kind artifact slots in
// BadgerDB.
//
// The store is the only shared mutable state of the derivation pipeline.
// All claim mutation goes through conditional read-check-write transactions
// (see claims.go); Badger's serializable snapshot isolation turns a commit
// conflict into a lost race, which is exactly the compare-and-swap the
// scheduling protocol needs. There is no in-process locking anywhere above
// this package.
//
// Key layout:
//
//	agent/<id>            -> Agent JSON
//	slot/<id>/<kind>      -> Slot JSON
//	setting/<name>        -> raw string value
//
// Agent keys sort lexicographically by id, which gives the backfill
// sweeper a stable, resumable scan order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Sentinel errors returned by store operations.
var (
	// ErrAgentNotFound is returned when the agent record does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrSettingNotFound is returned when a named setting has never been set.
	ErrSettingNotFound = errors.New("setting not found")
)

const (
	agentPrefix   = "agent/"
	slotPrefix    = "slot/"
	settingPrefix = "setting/"
)

// Agent is the stored source entity.
//
// # Fields
//
//   - ID: Stable identifier (UUID string).
//   - Charter: Free-text behavior charter that all artifacts derive from.
//   - CreatedAt / UpdatedAt: Unix milliseconds.
type Agent struct {
	ID        string `json:"id"`
	Charter   string `json:"charter"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Config holds configuration for the store's BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults (durable synchronous writes).
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// Store persists agents, artifact slots, and named settings.
//
// # Thread Safety
//
// Safe for concurrent use. Every method runs its own Badger transaction.
type Store struct {
	db *badger.DB
}

// Open opens the store with the given configuration.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Store: The opened store. Caller must Close() when done.
//   - error: Non-nil if the path is missing or Badger cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store for testing.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Agent CRUD
// =============================================================================

// CreateAgent creates a new agent with the given charter.
//
// # Outputs
//
//   - Agent: The created record with a fresh UUID and timestamps.
//   - error: Non-nil on storage failure.
func (s *Store) CreateAgent(ctx context.Context, charter string) (Agent, error) {
	if err := ctx.Err(); err != nil {
		return Agent{}, err
	}

	now := time.Now().UnixMilli()
	agent := Agent{
		ID:        uuid.NewString(),
		Charter:   charter,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, agentKey(agent.ID), agent)
	})
	if err != nil {
		return Agent{}, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

// GetAgent loads an agent by id.
//
// # Outputs
//
//   - Agent: The stored record.
//   - error: ErrAgentNotFound if absent, otherwise storage failure.
func (s *Store) GetAgent(ctx context.Context, id string) (Agent, error) {
	if err := ctx.Err(); err != nil {
		return Agent{}, err
	}

	var agent Agent
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, agentKey(id), &agent)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent %s: %w", id, err)
	}
	return agent, nil
}

// UpdateCharter replaces an agent's charter text.
//
// # Description
//
// The write commits before this method returns, so it is safe (and
// expected) to call Scheduler.EnsureFresh for each kind immediately
// afterwards: a worker can never observe a claim for content that might
// still roll back.
//
// # Outputs
//
//   - Agent: The updated record.
//   - error: ErrAgentNotFound if absent, otherwise storage failure.
func (s *Store) UpdateCharter(ctx context.Context, id, charter string) (Agent, error) {
	if err := ctx.Err(); err != nil {
		return Agent{}, err
	}

	var agent Agent
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, agentKey(id), &agent); err != nil {
			return err
		}
		agent.Charter = charter
		agent.UpdatedAt = time.Now().UnixMilli()
		return putJSON(txn, agentKey(id), agent)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("update charter for %s: %w", id, err)
	}
	return agent, nil
}

// DeleteAgent removes an agent and all of its artifact slots.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(agentKey(id)); err != nil {
			return err
		}
		// Collect slot keys first; deleting while iterating invalidates
		// the iterator.
		prefix := []byte(slotPrefix + id + "/")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}

// ScanAgents returns up to limit agents whose id sorts after afterID.
//
// # Description
//
// Agents come back in ascending id order, which makes the scan resumable:
// pass the last id examined as afterID on the next call. An empty afterID
// starts from the beginning of the keyspace.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - afterID: Exclusive lower bound on agent id. "" starts at the beginning.
//   - limit: Maximum number of agents to return. Must be positive.
//
// # Outputs
//
//   - []Agent: Up to limit agents in id order; empty when the scan is past
//     the end of the keyspace.
//   - error: Non-nil on storage failure.
func (s *Store) ScanAgents(ctx context.Context, afterID string, limit int) ([]Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("scan limit must be positive, got %d", limit)
	}

	var agents []Agent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(agentPrefix),
			PrefetchValues: true,
			PrefetchSize:   limit,
		})
		defer it.Close()

		seek := []byte(agentPrefix)
		if afterID != "" {
			// Seek just past the last examined id. Appending a zero byte
			// positions the iterator on the next distinct key.
			seek = append([]byte(agentPrefix+afterID), 0)
		}
		for it.Seek(seek); it.Valid() && len(agents) < limit; it.Next() {
			var agent Agent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &agent)
			})
			if err != nil {
				return err
			}
			agents = append(agents, agent)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan agents after %q: %w", afterID, err)
	}
	return agents, nil
}

// =============================================================================
// Settings
// =============================================================================

// GetSetting reads a named setting value.
//
// # Outputs
//
//   - string: The stored value.
//   - error: ErrSettingNotFound if the setting was never written.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(settingPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", name, err)
	}
	return value, nil
}

// SetSetting writes a named setting value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(settingPrefix+name), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set setting %q: %w", name, err)
	}
	return nil
}

// =============================================================================
// Key and JSON helpers
// =============================================================================

func agentKey(id string) []byte {
	return []byte(agentPrefix + id)
}

func slotKey(id string, kind string) []byte {
	return []byte(slotPrefix + id + "/" + kind)
}

// validateKind rejects kinds that would break the key layout.
func validateKind(kind string) error {
	if kind == "" || strings.Contains(kind, "/") {
		return fmt.Errorf("invalid artifact kind %q", kind)
	}
	return nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

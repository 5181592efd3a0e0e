// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
)

// =============================================================================
// Artifact Slots and the Claim Gate
// =============================================================================

// Slot is the per-(agent, kind) artifact record.
//
// # Description
//
// Three logical fields drive the whole scheduling protocol:
//
//   - Value: The produced artifact. Retains the last good result across
//     failed regeneration attempts.
//   - ValueSourceHash: Fingerprint of the charter Value was generated from.
//     Empty until the first successful generation. If it equals the current
//     charter's fingerprint the artifact is fresh and nothing is scheduled,
//     regardless of RequestedHash.
//   - RequestedHash: Fingerprint for which a generation job is outstanding.
//     Empty means no claim. At most one non-empty value exists per slot at
//     any time; TryClaim is the only way to set it.
type Slot struct {
	Value           artifact.Value `json:"value"`
	ValueSourceHash string         `json:"value_source_hash,omitempty"`
	RequestedHash   string         `json:"requested_hash,omitempty"`
	UpdatedAt       int64          `json:"updated_at,omitempty"`
}

// Fresh reports whether the slot's value was generated from the given
// charter fingerprint.
func (sl Slot) Fresh(hash string) bool {
	return hash != "" && sl.ValueSourceHash == hash
}

// GetSlot loads the artifact slot for (agent, kind).
//
// # Outputs
//
//   - Slot: The stored slot, or a zero Slot if none has been written yet.
//   - error: Non-nil on storage failure (absence is not an error).
func (s *Store) GetSlot(ctx context.Context, agentID string, kind artifact.Kind) (Slot, error) {
	if err := ctx.Err(); err != nil {
		return Slot{}, err
	}
	if err := validateKind(string(kind)); err != nil {
		return Slot{}, err
	}

	var slot Slot
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, slotKey(agentID, string(kind)), &slot)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Slot{}, nil
	}
	if err != nil {
		return Slot{}, fmt.Errorf("get slot %s/%s: %w", agentID, kind, err)
	}
	return slot, nil
}

// TryClaim attempts to record an exclusive claim to generate (agent, kind)
// at the given charter fingerprint.
//
// # Description
//
// This is the compare-and-swap at the heart of the pipeline: set
// RequestedHash = hash if and only if the current RequestedHash differs.
// The guard is "not equal to this hash", not "equal to empty", so a new
// charter version supersedes an outstanding claim for an older version
// immediately, while duplicate claims for the same version are refused.
//
// The read-check-write runs in a single Badger transaction. When two
// callers race on the same hash, Badger's conflict detection fails the
// second commit; that loser is reported as false, so exactly one of N
// concurrent identical callers observes true.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - agentID: The agent whose slot to claim.
//   - kind: The artifact kind.
//   - hash: Non-empty charter fingerprint to claim.
//
// # Outputs
//
//   - bool: True iff this caller transitioned the claim. False when an
//     identical claim already exists, the agent does not exist, or the
//     commit lost a race.
//   - error: Non-nil only on storage failure.
//
// # Thread Safety
//
// Safe for concurrent use; that is the point.
func (s *Store) TryClaim(ctx context.Context, agentID string, kind artifact.Kind, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateKind(string(kind)); err != nil {
		return false, err
	}
	if hash == "" {
		return false, errors.New("cannot claim an empty fingerprint")
	}

	claimed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		// The agent row must exist; a claim against a deleted agent would
		// never be cleared.
		if _, err := txn.Get(agentKey(agentID)); err != nil {
			return err
		}

		var slot Slot
		err := getJSON(txn, slotKey(agentID, string(kind)), &slot)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if slot.RequestedHash == hash {
			return nil // Identical claim already held by someone else.
		}

		slot.RequestedHash = hash
		slot.UpdatedAt = time.Now().UnixMilli()
		if err := putJSON(txn, slotKey(agentID, string(kind)), slot); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil // Agent missing: refuse the claim.
	}
	if errors.Is(err, badger.ErrConflict) {
		return false, nil // Lost the race; the winner holds the claim.
	}
	if err != nil {
		return false, fmt.Errorf("try claim %s/%s: %w", agentID, kind, err)
	}
	return claimed, nil
}

// ReleaseClaim clears the claim on (agent, kind) if it still equals
// expectedHash.
//
// # Description
//
// Compensating cleanup: used when enqueue fails after a successful claim,
// when a worker finds its claim superseded, and when generation fails.
// Conditioned on the expected hash so a newer claim that slipped in is
// never clobbered.
//
// # Outputs
//
//   - bool: True if the claim was cleared; false if it no longer matched.
//   - error: Non-nil only on storage failure.
func (s *Store) ReleaseClaim(ctx context.Context, agentID string, kind artifact.Kind, expectedHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateKind(string(kind)); err != nil {
		return false, err
	}

	released := false
	err := s.db.Update(func(txn *badger.Txn) error {
		var slot Slot
		err := getJSON(txn, slotKey(agentID, string(kind)), &slot)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // Nothing to release.
		}
		if err != nil {
			return err
		}
		if slot.RequestedHash != expectedHash || expectedHash == "" {
			return nil
		}

		slot.RequestedHash = ""
		slot.UpdatedAt = time.Now().UnixMilli()
		if err := putJSON(txn, slotKey(agentID, string(kind)), slot); err != nil {
			return err
		}
		released = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil // Someone else mutated the slot; their state wins.
	}
	if err != nil {
		return false, fmt.Errorf("release claim %s/%s: %w", agentID, kind, err)
	}
	return released, nil
}

// CompleteGeneration persists a generated value and clears the claim,
// conditioned on the claim still matching expectedHash.
//
// # Description
//
// The final write of a generation job. The condition prevents a slow
// worker from clobbering a newer claim: if the charter changed while this
// job ran and a new claim was taken, the conditioned write refuses and the
// caller treats that as a benign no-op, not an error.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - agentID, kind: The slot to complete.
//   - expectedHash: The fingerprint this job was claimed for. Becomes the
//     slot's ValueSourceHash on success.
//   - value: The generated artifact payload.
//
// # Outputs
//
//   - bool: True if the result was persisted; false if the claim no longer
//     matched (superseded mid-flight).
//   - error: Non-nil only on storage failure.
func (s *Store) CompleteGeneration(ctx context.Context, agentID string, kind artifact.Kind, expectedHash string, value artifact.Value) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateKind(string(kind)); err != nil {
		return false, err
	}
	if expectedHash == "" {
		return false, errors.New("cannot complete generation for an empty fingerprint")
	}

	completed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		var slot Slot
		err := getJSON(txn, slotKey(agentID, string(kind)), &slot)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if slot.RequestedHash != expectedHash {
			return nil // Superseded by a newer claim (or already cleared).
		}

		slot.Value = value
		slot.ValueSourceHash = expectedHash
		slot.RequestedHash = ""
		slot.UpdatedAt = time.Now().UnixMilli()
		if err := putJSON(txn, slotKey(agentID, string(kind)), slot); err != nil {
			return err
		}
		completed = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete generation %s/%s: %w", agentID, kind, err)
	}
	return completed, nil
}

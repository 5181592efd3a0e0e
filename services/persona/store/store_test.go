// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// TestOpen_RequiresPath verifies persistent mode needs a directory.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{InMemory: false, Path: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

// TestOpen_Persistent verifies data survives a close/reopen cycle.
func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(Config{Path: dir})
	require.NoError(t, err)
	agent, err := st.CreateAgent(ctx, "Help with sales")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st2, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer st2.Close()

	loaded, err := st2.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Help with sales", loaded.Charter)
}

// TestAgentCRUD verifies create, read, update, and delete round trips.
func TestAgentCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		agent, err := st.CreateAgent(ctx, "Help with sales outreach")
		require.NoError(t, err)
		assert.NotEmpty(t, agent.ID)
		assert.Positive(t, agent.CreatedAt)
		assert.Equal(t, agent.CreatedAt, agent.UpdatedAt)

		loaded, err := st.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, agent, loaded)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := st.GetAgent(ctx, "no-such-agent")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("update charter", func(t *testing.T) {
		agent, err := st.CreateAgent(ctx, "v1")
		require.NoError(t, err)

		updated, err := st.UpdateCharter(ctx, agent.ID, "v2")
		require.NoError(t, err)
		assert.Equal(t, "v2", updated.Charter)
		assert.GreaterOrEqual(t, updated.UpdatedAt, agent.UpdatedAt)

		loaded, err := st.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, "v2", loaded.Charter)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := st.UpdateCharter(ctx, "no-such-agent", "v2")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("delete removes agent and slots", func(t *testing.T) {
		agent, err := st.CreateAgent(ctx, "to delete")
		require.NoError(t, err)
		claimed, err := st.TryClaim(ctx, agent.ID, artifact.KindLabel, "hash-1")
		require.NoError(t, err)
		require.True(t, claimed)

		require.NoError(t, st.DeleteAgent(ctx, agent.ID))

		_, err = st.GetAgent(ctx, agent.ID)
		assert.ErrorIs(t, err, ErrAgentNotFound)
		slot, err := st.GetSlot(ctx, agent.ID, artifact.KindLabel)
		require.NoError(t, err)
		assert.Empty(t, slot.RequestedHash)
	})
}

// TestScanAgents verifies ordering, limits, and cursor resumption.
func TestScanAgents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 7; i++ {
		agent, err := st.CreateAgent(ctx, fmt.Sprintf("charter %d", i))
		require.NoError(t, err)
		ids = append(ids, agent.ID)
	}
	sort.Strings(ids)

	t.Run("ascending id order", func(t *testing.T) {
		agents, err := st.ScanAgents(ctx, "", 100)
		require.NoError(t, err)
		require.Len(t, agents, 7)
		for i, a := range agents {
			assert.Equal(t, ids[i], a.ID)
		}
	})

	t.Run("limit respected", func(t *testing.T) {
		agents, err := st.ScanAgents(ctx, "", 3)
		require.NoError(t, err)
		assert.Len(t, agents, 3)
	})

	t.Run("resume past cursor", func(t *testing.T) {
		first, err := st.ScanAgents(ctx, "", 3)
		require.NoError(t, err)
		rest, err := st.ScanAgents(ctx, first[len(first)-1].ID, 100)
		require.NoError(t, err)
		require.Len(t, rest, 4)
		assert.Equal(t, ids[3], rest[0].ID)
	})

	t.Run("past the end", func(t *testing.T) {
		agents, err := st.ScanAgents(ctx, ids[len(ids)-1], 100)
		require.NoError(t, err)
		assert.Empty(t, agents)
	})

	t.Run("rejects non-positive limit", func(t *testing.T) {
		_, err := st.ScanAgents(ctx, "", 0)
		assert.Error(t, err)
	})
}

// TestSettings verifies the named settings round trip.
func TestSettings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetSetting(ctx, "cursor")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	require.NoError(t, st.SetSetting(ctx, "cursor", "agent-42"))
	value, err := st.GetSetting(ctx, "cursor")
	require.NoError(t, err)
	assert.Equal(t, "agent-42", value)

	// Empty values are distinct from missing ones.
	require.NoError(t, st.SetSetting(ctx, "cursor", ""))
	value, err = st.GetSetting(ctx, "cursor")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

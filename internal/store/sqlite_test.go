// ABOUTME: Tests for the SQLite store
// ABOUTME: Uses a temporary database file per test

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "policebot.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	cfg := NewGuildConfiguration(time.Now())
	cfg.EnabledLocks = []Lock{sampleLock("c1")}
	require.NoError(t, s.Put(ctx, "guild-1", cfg))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, got.EnabledLocks, 1)
	assert.Equal(t, ID("c1"), got.EnabledLocks[0].ChannelID)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "guild-1"))

	guilds, err := s.ListGuilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"guild-1"}, guilds)
}

func TestSQLiteStore_ReadsLegacyRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_configurations (guild_id, configuration, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"legacy", legacyRecord, "2021-07-10T12:30:00Z", "2021-07-10T12:30:00Z")
	require.NoError(t, err)

	got, err := s.Get(ctx, "legacy")
	require.NoError(t, err)
	require.Len(t, got.EnabledLocks, 1)
	assert.Equal(t, ID("863082773379416115"), got.EnabledLocks[0].ChannelID)
}

func TestSQLiteStore_CorruptRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_configurations (guild_id, configuration, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"broken", "{not json", "2021-07-10T12:30:00Z", "2021-07-10T12:30:00Z")
	require.NoError(t, err)

	_, err = s.Get(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

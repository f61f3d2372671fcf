// ABOUTME: Tests for guild configuration records and legacy decoding
// ABOUTME: Covers numeric snowflakes, legacy field names and timestamps

package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyRecord mirrors a config.json written by the legacy bot.
const legacyRecord = `{
	"enabled_locks": [
		{
			"enabled": true,
			"channel_id": 863082773379416115,
			"password": "sha256$Zx8lqD3k$0b1f4d6c",
			"custom_message": "nomessagepls",
			"award_role_ids": [863082773379416200, 863082773379416201],
			"sent_information_message": {"id": 863082773379416300},
			"created_at": "2021-07-10 12:34:56.123456+00:00"
		}
	],
	"configuration_created_at": "2021-07-10 12:30:00+00:00"
}`

func TestDecodeConfiguration_LegacyRecord(t *testing.T) {
	cfg, err := DecodeConfiguration([]byte(legacyRecord))
	require.NoError(t, err)

	require.Len(t, cfg.EnabledLocks, 1)
	lock := cfg.EnabledLocks[0]
	assert.Equal(t, ID("863082773379416115"), lock.ChannelID)
	assert.Equal(t, "sha256$Zx8lqD3k$0b1f4d6c", lock.PasswordHash)
	assert.Equal(t, []ID{"863082773379416200", "863082773379416201"}, lock.AwardRoleIDs)
	assert.Equal(t, ID("863082773379416300"), lock.SentInformationMessage.ID)
	assert.Empty(t, lock.CustomMessage, "stored no-message reply decodes as empty")
	assert.NotNil(t, lock.AuthenticatedUsers, "missing authenticated_users decodes as empty")
	assert.Empty(t, lock.AuthenticatedUsers)

	want := time.Date(2021, 7, 10, 12, 34, 56, 123456000, time.UTC)
	assert.True(t, want.Equal(lock.CreatedAt.Time))
	assert.Equal(t, 2021, cfg.ConfigurationCreatedAt.Year())
}

func TestDecodeConfiguration_Empty(t *testing.T) {
	cfg, err := DecodeConfiguration([]byte(`{"configuration_created_at": null}`))
	require.NoError(t, err)
	assert.NotNil(t, cfg.EnabledLocks)
	assert.True(t, cfg.ConfigurationCreatedAt.IsZero())
}

func TestDecodeConfiguration_Invalid(t *testing.T) {
	_, err := DecodeConfiguration([]byte(`{"enabled_locks": [{"channel_id": 1.5}]}`))
	assert.Error(t, err)

	_, err = DecodeConfiguration([]byte(`{"configuration_created_at": "yesterday"}`))
	assert.Error(t, err)
}

func TestLock_MarshalUsesCurrentFieldNames(t *testing.T) {
	lock := Lock{
		ChannelID:    "123",
		PasswordHash: "$2a$10$x",
		AwardRoleIDs: []ID{"9"},
	}

	data, err := json.Marshal(lock)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "123", raw["channel_id"])
	assert.Equal(t, "$2a$10$x", raw["password_hash"])
	assert.NotContains(t, raw, "password")
	assert.Nil(t, raw["created_at"], "zero timestamps encode as null")
}

func TestLock_Clone_IsDeep(t *testing.T) {
	lock := sampleLock("c1")
	clone := lock.Clone()

	clone.AwardRoleIDs[0] = "changed"
	clone.AuthenticatedUsers = append(clone.AuthenticatedUsers, "u9")

	assert.Equal(t, ID("r1"), lock.AwardRoleIDs[0])
	assert.Empty(t, lock.AuthenticatedUsers)
}

func TestLock_HasAuthenticated(t *testing.T) {
	lock := sampleLock("c1")
	lock.AuthenticatedUsers = []ID{"u1"}

	assert.True(t, lock.HasAuthenticated("u1"))
	assert.False(t, lock.HasAuthenticated("u2"))
	assert.Equal(t, []string{"r1", "r2"}, lock.RoleIDs())
}

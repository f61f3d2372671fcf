// ABOUTME: GuildConfiguration and Lock records plus their JSON encoding
// ABOUTME: Decoding accepts records written by the legacy bot

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// NoCustomMessage is the reply that tells the lock wizard to skip the custom
// message. Older records stored it verbatim; it decodes as an empty message.
const NoCustomMessage = "nomessagepls"

// GuildConfiguration is the persisted configuration of a single guild.
type GuildConfiguration struct {
	EnabledLocks           []Lock    `json:"enabled_locks"`
	ConfigurationCreatedAt Timestamp `json:"configuration_created_at"`
}

// Lock binds one channel to a password and a set of roles granted on success.
type Lock struct {
	ChannelID              ID         `json:"channel_id"`
	Enabled                bool       `json:"enabled"`
	PasswordHash           string     `json:"password_hash"`
	CustomMessage          string     `json:"custom_message"`
	AwardRoleIDs           []ID       `json:"award_role_ids"`
	SentInformationMessage MessageRef `json:"sent_information_message"`
	AuthenticatedUsers     []ID       `json:"authenticated_users"`
	CreatedAt              Timestamp  `json:"created_at"`
}

// MessageRef points at a message the bot posted.
type MessageRef struct {
	ID ID `json:"id"`
}

// NewGuildConfiguration returns an empty configuration created at now.
func NewGuildConfiguration(now time.Time) *GuildConfiguration {
	return &GuildConfiguration{
		EnabledLocks:           []Lock{},
		ConfigurationCreatedAt: Timestamp{Time: now.UTC()},
	}
}

// Clone returns a deep copy of the configuration.
func (c *GuildConfiguration) Clone() *GuildConfiguration {
	out := &GuildConfiguration{
		EnabledLocks:           make([]Lock, 0, len(c.EnabledLocks)),
		ConfigurationCreatedAt: c.ConfigurationCreatedAt,
	}
	for _, l := range c.EnabledLocks {
		out.EnabledLocks = append(out.EnabledLocks, l.Clone())
	}
	return out
}

// Clone returns a deep copy of the lock.
func (l Lock) Clone() Lock {
	l.AwardRoleIDs = slices.Clone(l.AwardRoleIDs)
	l.AuthenticatedUsers = slices.Clone(l.AuthenticatedUsers)
	return l
}

// HasAuthenticated reports whether userID already passed this lock.
func (l *Lock) HasAuthenticated(userID string) bool {
	return slices.Contains(l.AuthenticatedUsers, ID(userID))
}

// RoleIDs returns the award roles as plain strings.
func (l *Lock) RoleIDs() []string {
	out := make([]string, len(l.AwardRoleIDs))
	for i, id := range l.AwardRoleIDs {
		out[i] = string(id)
	}
	return out
}

// UnmarshalJSON accepts the legacy "password" field, the stored no-message
// reply and a missing user list.
func (l *Lock) UnmarshalJSON(data []byte) error {
	type plain Lock
	aux := struct {
		*plain
		LegacyPassword string `json:"password"`
	}{plain: (*plain)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if l.PasswordHash == "" {
		l.PasswordHash = aux.LegacyPassword
	}
	if strings.EqualFold(l.CustomMessage, NoCustomMessage) {
		l.CustomMessage = ""
	}
	if l.AuthenticatedUsers == nil {
		l.AuthenticatedUsers = []ID{}
	}
	if l.AwardRoleIDs == nil {
		l.AwardRoleIDs = []ID{}
	}
	return nil
}

// ID is an opaque platform identifier. Older records store Discord snowflakes
// as JSON numbers; IDs are always written back as strings.
type ID string

// MarshalJSON encodes the id as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id %s: %w", data, err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("decoding id %s: not an integer", data)
	}
	*id = ID(n.String())
	return nil
}

// legacyTimeLayout is how the legacy bot serialized datetimes.
const legacyTimeLayout = "2006-01-02 15:04:05.999999-07:00"

// Timestamp is a UTC instant encoded as RFC 3339.
type Timestamp struct {
	time.Time
}

// MarshalJSON encodes the timestamp as RFC 3339, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC 3339, the legacy space-separated form, and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	for _, layout := range []string{time.RFC3339Nano, legacyTimeLayout} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("decoding timestamp %q: unrecognized format", s)
}

// DecodeConfiguration parses a JSON guild configuration, including legacy records.
func DecodeConfiguration(data []byte) (*GuildConfiguration, error) {
	var cfg GuildConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding guild configuration: %w", err)
	}
	if cfg.EnabledLocks == nil {
		cfg.EnabledLocks = []Lock{}
	}
	return &cfg, nil
}

// encodeConfiguration serializes a record for storage.
func encodeConfiguration(cfg *GuildConfiguration) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("encoding guild configuration: nil configuration")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding guild configuration: %w", err)
	}
	return data, nil
}

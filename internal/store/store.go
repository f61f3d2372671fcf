// ABOUTME: Store interface and sentinel errors for guild configuration persistence
// ABOUTME: One GuildConfiguration record per guild, addressed by guild identifier

package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a guild has no stored configuration
var ErrNotFound = errors.New("not found")

// ErrInvalidGuildID is returned when a guild identifier cannot address a record
var ErrInvalidGuildID = errors.New("invalid guild id")

// Store defines the interface for guild configuration persistence.
// Implementations must be safe for concurrent use; sequences of calls are not atomic.
type Store interface {
	// Get returns the guild's configuration, or ErrNotFound if none was ever created.
	Get(ctx context.Context, guildID string) (*GuildConfiguration, error)

	// Create creates an empty configuration if none exists. It never modifies an
	// existing configuration.
	Create(ctx context.Context, guildID string) error

	// Put overwrites the guild's configuration.
	Put(ctx context.Context, guildID string, cfg *GuildConfiguration) error

	// ListGuilds returns the identifiers of all guilds with a stored configuration.
	ListGuilds(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}

// validateGuildID rejects identifiers that cannot be used as a record name.
func validateGuildID(guildID string) error {
	if strings.TrimSpace(guildID) == "" {
		return ErrInvalidGuildID
	}
	return nil
}

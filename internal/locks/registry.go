// ABOUTME: Lock registry layered over the guild configuration store
// ABOUTME: Serializes read-modify-write per guild and identifies locks by channel id

package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/policebot/internal/store"
)

var (
	// ErrConfigurationMissing is returned when a guild has never been configured.
	ErrConfigurationMissing = errors.New("guild configuration missing")

	// ErrLockNotFound is returned when no lock guards the requested channel.
	ErrLockNotFound = errors.New("lock not found")

	// ErrDuplicateLock is returned when adding a lock for a channel that already has one.
	ErrDuplicateLock = errors.New("channel already has a lock")
)

// Registry reads and edits the locks of each guild.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	guilds map[string]*sync.Mutex
}

// NewRegistry creates a Registry backed by s.
func NewRegistry(s store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		logger: logger.With("component", "locks"),
		guilds: make(map[string]*sync.Mutex),
	}
}

// guildLock returns the mutex serializing writes for guildID.
func (r *Registry) guildLock(guildID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.guilds[guildID]
	if !ok {
		m = &sync.Mutex{}
		r.guilds[guildID] = m
	}
	return m
}

// load fetches a configuration, mapping absence to ErrConfigurationMissing.
func (r *Registry) load(ctx context.Context, guildID string) (*store.GuildConfiguration, error) {
	cfg, err := r.store.Get(ctx, guildID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConfigurationMissing
	}
	if err != nil {
		return nil, fmt.Errorf("loading guild %s: %w", guildID, err)
	}
	return cfg, nil
}

// ListTrackedChannels returns the channel ids of the guild's locks in
// configuration order. With onlyEnabled set, disabled locks are skipped.
// A guild without configuration has no tracked channels.
func (r *Registry) ListTrackedChannels(ctx context.Context, guildID string, onlyEnabled bool) ([]string, error) {
	cfg, err := r.load(ctx, guildID)
	if errors.Is(err, ErrConfigurationMissing) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	channels := make([]string, 0, len(cfg.EnabledLocks))
	for _, lock := range cfg.EnabledLocks {
		if onlyEnabled && !lock.Enabled {
			continue
		}
		channels = append(channels, string(lock.ChannelID))
	}
	return channels, nil
}

// FindLock returns the first lock guarding channelID.
func (r *Registry) FindLock(ctx context.Context, guildID, channelID string, onlyEnabled bool) (*store.Lock, error) {
	cfg, err := r.load(ctx, guildID)
	if err != nil {
		return nil, err
	}

	idx := indexOf(cfg, channelID, onlyEnabled)
	if idx < 0 {
		return nil, ErrLockNotFound
	}
	lock := cfg.EnabledLocks[idx].Clone()
	return &lock, nil
}

// Locks returns every lock of the guild, enabled or not.
func (r *Registry) Locks(ctx context.Context, guildID string) ([]store.Lock, error) {
	cfg, err := r.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return cfg.EnabledLocks, nil
}

// EnsureConfiguration creates an empty configuration for the guild if it has none.
func (r *Registry) EnsureConfiguration(ctx context.Context, guildID string) error {
	if err := r.store.Create(ctx, guildID); err != nil {
		return fmt.Errorf("creating configuration for guild %s: %w", guildID, err)
	}
	return nil
}

// AddLock appends lock to the guild's configuration.
func (r *Registry) AddLock(ctx context.Context, guildID string, lock store.Lock) error {
	return r.modify(ctx, guildID, func(cfg *store.GuildConfiguration) error {
		if indexOf(cfg, string(lock.ChannelID), false) >= 0 {
			return ErrDuplicateLock
		}
		cfg.EnabledLocks = append(cfg.EnabledLocks, lock.Clone())
		r.logger.Info("lock added", "guild", guildID, "channel", lock.ChannelID, "roles", len(lock.AwardRoleIDs))
		return nil
	})
}

// UpdateLock replaces the lock with the same channel id.
func (r *Registry) UpdateLock(ctx context.Context, guildID string, lock store.Lock) error {
	return r.modify(ctx, guildID, func(cfg *store.GuildConfiguration) error {
		idx := indexOf(cfg, string(lock.ChannelID), false)
		if idx < 0 {
			return ErrLockNotFound
		}
		cfg.EnabledLocks[idx] = lock.Clone()
		r.logger.Debug("lock updated", "guild", guildID, "channel", lock.ChannelID, "enabled", lock.Enabled)
		return nil
	})
}

// MutateLock applies fn to the current lock guarding channelID and saves the result.
// fn sees fresh state and runs while the guild is locked; it must not block.
// The lock's channel id cannot be changed by fn.
func (r *Registry) MutateLock(ctx context.Context, guildID, channelID string, fn func(*store.Lock) error) (*store.Lock, error) {
	var updated store.Lock
	err := r.modify(ctx, guildID, func(cfg *store.GuildConfiguration) error {
		idx := indexOf(cfg, channelID, false)
		if idx < 0 {
			return ErrLockNotFound
		}
		lock := cfg.EnabledLocks[idx].Clone()
		if err := fn(&lock); err != nil {
			return err
		}
		lock.ChannelID = store.ID(channelID)
		cfg.EnabledLocks[idx] = lock
		updated = lock.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// RemoveLock deletes the lock guarding channelID and returns it.
func (r *Registry) RemoveLock(ctx context.Context, guildID, channelID string) (*store.Lock, error) {
	var removed store.Lock
	err := r.modify(ctx, guildID, func(cfg *store.GuildConfiguration) error {
		idx := indexOf(cfg, channelID, false)
		if idx < 0 {
			return ErrLockNotFound
		}
		removed = cfg.EnabledLocks[idx].Clone()
		cfg.EnabledLocks = append(cfg.EnabledLocks[:idx], cfg.EnabledLocks[idx+1:]...)
		r.logger.Info("lock removed", "guild", guildID, "channel", channelID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// modify runs fn on the guild's configuration under the guild mutex and
// writes the result back. Nothing is written when fn returns an error.
func (r *Registry) modify(ctx context.Context, guildID string, fn func(*store.GuildConfiguration) error) error {
	m := r.guildLock(guildID)
	m.Lock()
	defer m.Unlock()

	cfg, err := r.load(ctx, guildID)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := r.store.Put(ctx, guildID, cfg); err != nil {
		return fmt.Errorf("saving guild %s: %w", guildID, err)
	}
	return nil
}

func indexOf(cfg *store.GuildConfiguration, channelID string, onlyEnabled bool) int {
	for i, lock := range cfg.EnabledLocks {
		if string(lock.ChannelID) != channelID {
			continue
		}
		if onlyEnabled && !lock.Enabled {
			continue
		}
		return i
	}
	return -1
}

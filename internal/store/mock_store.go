// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	configs map[string]*GuildConfiguration // keyed by guild ID

	puts int

	// GetErr, CreateErr and PutErr are returned by the matching method when set
	GetErr    error
	CreateErr error
	PutErr    error

	// Now overrides the creation timestamp clock
	Now func() time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		configs: make(map[string]*GuildConfiguration),
		Now:     time.Now,
	}
}

// Get returns a copy of the stored configuration.
func (m *MockStore) Get(ctx context.Context, guildID string) (*GuildConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	cfg, ok := m.configs[guildID]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg.Clone(), nil
}

// Create stores an empty configuration unless one exists.
func (m *MockStore) Create(ctx context.Context, guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return m.CreateErr
	}
	if err := validateGuildID(guildID); err != nil {
		return err
	}
	if _, ok := m.configs[guildID]; ok {
		return nil
	}
	m.configs[guildID] = NewGuildConfiguration(m.Now())
	return nil
}

// Put stores a copy of cfg.
func (m *MockStore) Put(ctx context.Context, guildID string, cfg *GuildConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PutErr != nil {
		return m.PutErr
	}
	if err := validateGuildID(guildID); err != nil {
		return err
	}
	m.configs[guildID] = cfg.Clone()
	m.puts++
	return nil
}

// ListGuilds returns the stored guild IDs in order.
func (m *MockStore) ListGuilds(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guilds := make([]string, 0, len(m.configs))
	for id := range m.configs {
		guilds = append(guilds, id)
	}
	sort.Strings(guilds)
	return guilds, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// PutCount returns the number of successful Put calls.
func (m *MockStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

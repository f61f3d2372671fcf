// ABOUTME: File-backed Store keeping one JSON document per guild
// ABOUTME: Layout matches the legacy bot's data/guilds/<id>/config.json tree

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const configFileName = "config.json"

// FileStore implements the Store interface on the local filesystem.
// Writes go to a temporary file that is renamed over the target, so readers
// never observe a partially written record.
type FileStore struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	// createMu makes Create's exists-check and write a single step
	createMu sync.Mutex
}

// NewFileStore creates a file store rooted at dir. Guild records live under dir/guilds.
func NewFileStore(dir string) (*FileStore, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Join(dir, "guilds"), 0755); err != nil {
		return nil, fmt.Errorf("creating guilds directory: %w", err)
	}

	logger.Info("file store initialized", "path", dir)
	return &FileStore{
		root:   dir,
		logger: logger,
		now:    time.Now,
	}, nil
}

// guildPaths returns the guild directory and configuration file path.
func (s *FileStore) guildPaths(guildID string) (string, string, error) {
	if err := validateGuildID(guildID); err != nil {
		return "", "", err
	}
	name := url.PathEscape(guildID)
	if name == "." || name == ".." {
		return "", "", ErrInvalidGuildID
	}
	dir := filepath.Join(s.root, "guilds", name)
	return dir, filepath.Join(dir, configFileName), nil
}

// Get reads a guild configuration.
// Returns ErrNotFound if the guild directory or file does not exist.
func (s *FileStore) Get(ctx context.Context, guildID string) (*GuildConfiguration, error) {
	_, path, err := s.guildPaths(guildID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading guild configuration: %w", err)
	}

	return DecodeConfiguration(data)
}

// Create writes an empty configuration unless one already exists.
func (s *FileStore) Create(ctx context.Context, guildID string) error {
	_, path, err := s.guildPaths(guildID)
	if err != nil {
		return err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking guild configuration: %w", err)
	}

	if err := s.write(guildID, NewGuildConfiguration(s.now())); err != nil {
		return err
	}
	s.logger.Debug("created guild configuration", "guild", guildID)
	return nil
}

// Put overwrites a guild configuration.
func (s *FileStore) Put(ctx context.Context, guildID string, cfg *GuildConfiguration) error {
	if err := s.write(guildID, cfg); err != nil {
		return err
	}
	s.logger.Debug("updated guild configuration", "guild", guildID, "locks", len(cfg.EnabledLocks))
	return nil
}

// write atomically replaces the guild's configuration file.
func (s *FileStore) write(guildID string, cfg *GuildConfiguration) error {
	dir, path, err := s.guildPaths(guildID)
	if err != nil {
		return err
	}

	data, err := encodeConfiguration(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating guild directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, configFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing guild configuration: %w", err)
	}
	return nil
}

// ListGuilds returns every guild directory that holds a configuration file.
func (s *FileStore) ListGuilds(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "guilds"))
	if err != nil {
		return nil, fmt.Errorf("listing guilds: %w", err)
	}

	var guilds []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, "guilds", entry.Name(), configFileName)); err != nil {
			continue
		}
		id, err := url.PathUnescape(entry.Name())
		if err != nil {
			s.logger.Warn("skipping undecodable guild directory", "name", entry.Name())
			continue
		}
		guilds = append(guilds, id)
	}
	sort.Strings(guilds)
	return guilds, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

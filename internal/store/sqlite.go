// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Stores one JSON guild configuration per row with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// busy_timeout is per connection, so it goes in the DSN rather than a one-off PRAGMA
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single :memory: database only exists on one connection
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS guild_configurations (
			guild_id      TEXT PRIMARY KEY,
			configuration TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Get retrieves a guild configuration.
// Returns ErrNotFound if the guild has no configuration.
func (s *SQLiteStore) Get(ctx context.Context, guildID string) (*GuildConfiguration, error) {
	if err := validateGuildID(guildID); err != nil {
		return nil, err
	}

	query := `SELECT configuration FROM guild_configurations WHERE guild_id = ?`

	var raw string
	err := s.db.QueryRowContext(ctx, query, guildID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying guild configuration: %w", err)
	}

	return DecodeConfiguration([]byte(raw))
}

// Create inserts an empty configuration unless one already exists.
func (s *SQLiteStore) Create(ctx context.Context, guildID string) error {
	if err := validateGuildID(guildID); err != nil {
		return err
	}

	now := s.now().UTC()
	data, err := encodeConfiguration(NewGuildConfiguration(now))
	if err != nil {
		return err
	}

	query := `
		INSERT OR IGNORE INTO guild_configurations (guild_id, configuration, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		guildID,
		string(data),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting guild configuration: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("created guild configuration", "guild", guildID)
	}
	return nil
}

// Put overwrites a guild configuration, inserting it if missing.
func (s *SQLiteStore) Put(ctx context.Context, guildID string, cfg *GuildConfiguration) error {
	if err := validateGuildID(guildID); err != nil {
		return err
	}

	data, err := encodeConfiguration(cfg)
	if err != nil {
		return err
	}

	now := s.now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO guild_configurations (guild_id, configuration, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			configuration = excluded.configuration,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, guildID, string(data), now, now); err != nil {
		return fmt.Errorf("writing guild configuration: %w", err)
	}

	s.logger.Debug("updated guild configuration", "guild", guildID, "locks", len(cfg.EnabledLocks))
	return nil
}

// ListGuilds returns every guild with a stored configuration, ordered by id.
func (s *SQLiteStore) ListGuilds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id FROM guild_configurations ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("querying guilds: %w", err)
	}
	defer rows.Close()

	var guilds []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning guild: %w", err)
		}
		guilds = append(guilds, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guilds: %w", err)
	}

	return guilds, nil
}

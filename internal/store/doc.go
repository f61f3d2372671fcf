// Package store provides persistent storage for guild lock configurations.
//
// # Architecture
//
// Each guild owns exactly one GuildConfiguration record, addressed by the
// guild identifier. The Store interface exposes three primitives:
//
//   - Get: read the record (ErrNotFound when it was never created)
//   - Create: idempotently create an empty record
//   - Put: unconditionally overwrite the record
//
// Read-modify-write sequences are not atomic at this layer. The locks
// package serializes them per guild.
//
// # Backends
//
//   - SQLiteStore: one row per guild holding the JSON record (modernc.org/sqlite)
//   - FileStore: one JSON file per guild at <root>/guilds/<guild>/config.json
//   - MockStore: in-memory, with error injection, for tests
//
// The file layout and JSON field names are compatible with data directories
// written by the legacy bot, so an existing data/ tree can be
// served directly or imported into SQLite.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// # Compatibility
//
// Decoding tolerates records written by older versions:
//
//   - numeric identifiers (Discord snowflakes stored as JSON numbers)
//   - Space-separated legacy timestamps ("2021-07-10 12:34:56.123456+00:00")
//   - the legacy "password" field name for the password hash
//   - missing "authenticated_users"
//
// All methods accept context.Context for cancellation support.
package store

// Package store provides the bot's persistent state: chat contexts keyed
// by the most recent note in each thread, and the permitted-user registry.
// A single fedibot.db SQLite file holds both collections; context records
// are stored as JSON documents, so any create/find/update-by-key storage
// would do — SQLite is an implementation choice, not part of the contract.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Chat contexts, one row per live conversation thread.
-- last_chat_id is the id of the newest note in the thread and is the ONLY
-- lookup key; it is rewritten on every extension.
CREATE TABLE IF NOT EXISTS chat_contexts (
    last_chat_id   TEXT PRIMARY KEY,
    participants   TEXT NOT NULL DEFAULT '[]',
    turns          TEXT NOT NULL DEFAULT '[]',
    attached_media TEXT NOT NULL DEFAULT '[]',
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);

-- Accounts allowed to talk to the bot.
CREATE TABLE IF NOT EXISTS permitted_users (
    user_id  TEXT PRIMARY KEY,
    added_by TEXT DEFAULT '',
    added_at TEXT NOT NULL
);
`

// Open opens (or creates) the bot database at the given path.
// It enables WAL mode for concurrent read performance and creates all tables.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/fedibot.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// Verify connectivity.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Create schema (idempotent).
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

// Package sqlite implements repository.DocumentStore on top of SQLite.
//
// WHY SQLITE?
// A room document is small (a handful of files) and written at most once per
// debounce interval per room. An embedded database handles that load on a
// single server without a separate process to operate, and ":memory:" gives
// every test its own throwaway store.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite with no CGo, no C compiler, trivial
// cross-compilation. The blank import below registers it with database/sql
// under the driver name "sqlite".
//
// SCHEMA:
//
//	rooms       one row per room   (room_id PK, active_file_id, language, last_output, updated_at)
//	room_files  one row per file   (room_id FK, position, id, name, language, content)
//
// The position column preserves tab order, which the UI treats as meaningful.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.DocumentStore.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/collab.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
//
// ONE CONNECTION:
// Each connection to ":memory:" is its own, separate database. Capping the pool
// at one connection makes the in-memory case behave like the file case, and
// SQLite serialises writers anyway, so a file database loses nothing.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets the REST API read a room while the persistence writer saves another.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// room_files.room_id references rooms; keep the cascade honest.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is still reachable. Used by the readiness endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			room_id        TEXT PRIMARY KEY,
			active_file_id TEXT NOT NULL DEFAULT '',
			language       TEXT NOT NULL DEFAULT '',
			last_output    TEXT NOT NULL DEFAULT '',
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating rooms table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS room_files (
			room_id  TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			id       TEXT NOT NULL,
			name     TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			content  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (room_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_room_files_position ON room_files(room_id, position);
	`)
	if err != nil {
		return fmt.Errorf("creating room_files table: %w", err)
	}

	return nil
}

// Package db provides the durable tier of the session store, backed by
// SQLite via the pure-Go modernc driver.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	expires_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_expires_ts ON session (expires_ts);
`

// DB wraps the sqlite connection used for session persistence.
type DB struct {
	conn *sql.DB
}

// Open opens (and if needed initializes) the sqlite database at dsn.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}

	// A single writer keeps sqlite happy under concurrent sessions.
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to enable WAL")
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Package store provides the durable local database for the field agent.
//
// The store is an embedded SQLite database opened in WAL mode so the UI
// layer can read pending counts while the sync coordinator writes. It
// holds five collections: routes and trucks (server-owned reference data
// cached locally), the GPS and completion queues (locally-produced
// outbound work), and the session snapshot.
//
// Schema changes are purely additive: each migration bumps
// PRAGMA user_version by one, and a migration never drops a collection
// that may hold data. Opening an already-migrated database is a no-op.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrUnavailable wraps any failure to open or prepare the durable store.
// Callers are expected to degrade to the in-memory fallback queue.
var ErrUnavailable = errors.New("durable store unavailable")

// migrations is the ordered, append-only schema history. Index i migrates
// user_version i to i+1. Never edit an entry that has shipped; append.
var migrations = []string{
	// v1: initial collections and indexes.
	`
	CREATE TABLE IF NOT EXISTS routes (
		id         TEXT PRIMARY KEY,
		number     TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		area       TEXT NOT NULL DEFAULT '',
		stop_count INTEGER NOT NULL DEFAULT 0,
		truck_id   TEXT NOT NULL DEFAULT '',
		cached_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_routes_number ON routes(number);
	CREATE INDEX IF NOT EXISTS idx_routes_truck ON routes(truck_id);

	CREATE TABLE IF NOT EXISTS trucks (
		id          TEXT PRIMARY KEY,
		plate       TEXT NOT NULL DEFAULT '',
		model       TEXT NOT NULL DEFAULT '',
		capacity_kg INTEGER NOT NULL DEFAULT 0,
		cached_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trucks_plate ON trucks(plate);

	CREATE TABLE IF NOT EXISTS gps_queue (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		lat         REAL NOT NULL,
		lng         REAL NOT NULL,
		speed       REAL NOT NULL DEFAULT 0,
		heading     REAL NOT NULL DEFAULT 0,
		route_id    TEXT NOT NULL DEFAULT '',
		captured_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completion_queue (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		action_type TEXT NOT NULL,
		route_id    TEXT NOT NULL,
		stop_id     TEXT NOT NULL DEFAULT '',
		note        TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		queued_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_completion_type ON completion_queue(action_type);

	CREATE TABLE IF NOT EXISTS session (
		username     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		role         TEXT NOT NULL DEFAULT '',
		cached_at    TEXT NOT NULL
	);
	`,

	// v2: secondary indexes for per-route queue queries.
	`
	CREATE INDEX IF NOT EXISTS idx_gps_route ON gps_queue(route_id);
	CREATE INDEX IF NOT EXISTS idx_completion_route ON completion_queue(route_id);
	`,
}

// Store wraps the SQLite connection with the collection API.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path and migrates it to the
// current schema version. Opening is idempotent.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, pragma, err)
		}
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}

	return st, nil
}

// migrate applies every migration past the database's current
// user_version, each in its own transaction with the version bump.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema v%d is newer than this binary (v%d)", version, len(migrations))
	}

	for ; version < len(migrations); version++ {
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
				return err
			}
			// PRAGMA cannot take a bind parameter.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", version+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration to v%d: %w", version+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the database's current user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

// RawDB returns the underlying sql.DB connection. The queue layer uses
// it directly; other callers should prefer the collection methods.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// withTx runs fn inside a transaction. Every multi-step write in this
// package goes through here: either all sub-operations commit or none do.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

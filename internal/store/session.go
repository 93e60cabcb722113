package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/routeworks/haulsync/internal/model"
)

// SaveSession upserts the last-known authenticated profile. The snapshot
// exists so the UI can display identity while offline; nothing in the
// sync layer reads it for authorization.
func (s *Store) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	if snap.Username == "" {
		return fmt.Errorf("session snapshot missing username")
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO session (username, display_name, role, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			display_name = excluded.display_name,
			role         = excluded.role,
			cached_at    = excluded.cached_at
	`, snap.Username, snap.DisplayName, snap.Role, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the cached profile for username.
// Returns sql.ErrNoRows when no snapshot exists.
func (s *Store) LoadSession(ctx context.Context, username string) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	var cachedAt string
	err := s.conn.QueryRowContext(ctx, `
		SELECT username, display_name, role, cached_at
		FROM session WHERE username = ?
	`, username).Scan(&snap.Username, &snap.DisplayName, &snap.Role, &cachedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	snap.CachedAt = parseTime(cachedAt)
	return &snap, nil
}

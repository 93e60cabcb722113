package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/routeworks/haulsync/internal/model"
)

// ReplaceRoutes reconciles the local route cache with a full server
// snapshot: every identifiable incoming record is upserted, then every
// local key not present in the snapshot is pruned. The whole operation
// is one transaction, so a concurrent reader never observes the window
// a clear-then-insert would open.
//
// Records without a usable identifier are skipped, not stored. Returns
// the number of records written.
func (s *Store) ReplaceRoutes(ctx context.Context, routes []model.Route) (int, error) {
	now := time.Now()
	written := 0

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		keep := make(map[string]bool, len(routes))
		for i := range routes {
			r := &routes[i]
			key := r.Key()
			if key == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO routes (id, number, name, area, stop_count, truck_id, cached_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					number     = excluded.number,
					name       = excluded.name,
					area       = excluded.area,
					stop_count = excluded.stop_count,
					truck_id   = excluded.truck_id,
					cached_at  = excluded.cached_at
			`, key, r.Number, r.Name, r.Area, r.StopCount, r.TruckID, now.Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert route %s: %w", key, err)
			}
			keep[key] = true
			written++
		}
		return pruneStale(ctx, tx, "routes", keep)
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ReplaceTrucks reconciles the local truck cache with a full server
// snapshot. Same semantics as ReplaceRoutes.
func (s *Store) ReplaceTrucks(ctx context.Context, trucks []model.Truck) (int, error) {
	now := time.Now()
	written := 0

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		keep := make(map[string]bool, len(trucks))
		for i := range trucks {
			t := &trucks[i]
			key := t.Key()
			if key == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO trucks (id, plate, model, capacity_kg, cached_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					plate       = excluded.plate,
					model       = excluded.model,
					capacity_kg = excluded.capacity_kg,
					cached_at   = excluded.cached_at
			`, key, t.Plate, t.Model, t.CapacityKG, now.Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert truck %s: %w", key, err)
			}
			keep[key] = true
			written++
		}
		return pruneStale(ctx, tx, "trucks", keep)
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// pruneStale deletes every primary key in table that the snapshot did
// not contain. Runs inside the caller's transaction.
func pruneStale(ctx context.Context, tx *sql.Tx, table string, keep map[string]bool) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM "+table)
	if err != nil {
		return fmt.Errorf("list %s keys: %w", table, err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s key: %w", table, err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s keys: %w", table, err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
			return fmt.Errorf("prune %s %s: %w", table, id, err)
		}
	}
	return nil
}

// Routes returns every cached route, ordered by route number.
func (s *Store) Routes(ctx context.Context) ([]model.Route, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, number, name, area, stop_count, truck_id, cached_at
		FROM routes ORDER BY number ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []model.Route
	for rows.Next() {
		var r model.Route
		var cachedAt string
		if err := rows.Scan(&r.ID, &r.Number, &r.Name, &r.Area, &r.StopCount, &r.TruckID, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.CachedAt = parseTime(cachedAt)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// RoutesByTruck returns cached routes assigned to the given truck.
func (s *Store) RoutesByTruck(ctx context.Context, truckID string) ([]model.Route, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, number, name, area, stop_count, truck_id, cached_at
		FROM routes WHERE truck_id = ? ORDER BY number ASC, id ASC
	`, truckID)
	if err != nil {
		return nil, fmt.Errorf("query routes by truck: %w", err)
	}
	defer rows.Close()

	var routes []model.Route
	for rows.Next() {
		var r model.Route
		var cachedAt string
		if err := rows.Scan(&r.ID, &r.Number, &r.Name, &r.Area, &r.StopCount, &r.TruckID, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.CachedAt = parseTime(cachedAt)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// Trucks returns every cached truck, ordered by plate.
func (s *Store) Trucks(ctx context.Context) ([]model.Truck, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, plate, model, capacity_kg, cached_at
		FROM trucks ORDER BY plate ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trucks: %w", err)
	}
	defer rows.Close()

	var trucks []model.Truck
	for rows.Next() {
		var t model.Truck
		var cachedAt string
		if err := rows.Scan(&t.ID, &t.Plate, &t.Model, &t.CapacityKG, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan truck: %w", err)
		}
		t.CachedAt = parseTime(cachedAt)
		trucks = append(trucks, t)
	}
	return trucks, rows.Err()
}

// Count returns the number of rows in the named collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if !validCollection(collection) {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
	var n int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Clear deletes every row in the named collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if !validCollection(collection) {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+collection); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return nil
}

func validCollection(name string) bool {
	switch name {
	case "routes", "trucks", "gps_queue", "completion_queue", "session":
		return true
	}
	return false
}

// parseTime is forgiving: cached_at values are always written by this
// package, but a zero time beats failing a read.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

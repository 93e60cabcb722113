// Package queue implements the durable outbound work queues.
//
// Both queues are append-mostly tables in the store: enqueue assigns a
// strictly increasing sequence number, replay reads pending items in
// sequence order, and acknowledgment deletes rows. There is no
// "synced" resting state: an acknowledged item is gone. Partial
// acknowledgment of a batch is first-class; the queue never requires
// all-or-nothing removal.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/routeworks/haulsync/internal/model"
	"github.com/routeworks/haulsync/internal/store"
)

// GPS is the durable queue of position samples awaiting upload.
type GPS struct {
	st       *store.Store
	onChange func()
}

// NewGPS creates the queue over the store. onChange, if non-nil, is
// invoked after every mutation so the owner can publish fresh pending
// counts; it must not block.
func NewGPS(st *store.Store, onChange func()) *GPS {
	return &GPS{st: st, onChange: onChange}
}

// Enqueue persists the point, assigns its sequence number and stamps the
// capture time if the caller left it zero. Returns the assigned seq.
func (q *GPS) Enqueue(ctx context.Context, p model.GPSPoint) (int64, error) {
	if p.CapturedAt.IsZero() {
		p.CapturedAt = time.Now()
	}
	res, err := q.st.RawDB().ExecContext(ctx, `
		INSERT INTO gps_queue (lat, lng, speed, heading, route_id, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Lat, p.Lng, p.Speed, p.Heading, p.RouteID, p.CapturedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("enqueue gps point: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read assigned seq: %w", err)
	}
	q.changed()
	return seq, nil
}

// ListPending returns every queued point in sequence order. Replay must
// preserve this order end-to-end so the server's prefix-success count is
// meaningful.
func (q *GPS) ListPending(ctx context.Context) ([]model.GPSPoint, error) {
	rows, err := q.st.RawDB().QueryContext(ctx, `
		SELECT seq, lat, lng, speed, heading, route_id, captured_at
		FROM gps_queue ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending gps points: %w", err)
	}
	defer rows.Close()

	var points []model.GPSPoint
	for rows.Next() {
		var p model.GPSPoint
		var capturedAt string
		if err := rows.Scan(&p.Seq, &p.Lat, &p.Lng, &p.Speed, &p.Heading, &p.RouteID, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan gps point: %w", err)
		}
		p.CapturedAt = parseQueueTime(capturedAt)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Acknowledge deletes the given sequence numbers. Acknowledging a subset
// of a submitted batch is the normal partial-success path.
func (q *GPS) Acknowledge(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	query, args := deleteBySeq("gps_queue", seqs)
	if _, err := q.st.RawDB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("acknowledge gps points: %w", err)
	}
	q.changed()
	return nil
}

// Count returns the pending count without materializing items.
func (q *GPS) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.st.RawDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM gps_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("count gps queue: %w", err)
	}
	return n, nil
}

func (q *GPS) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}

// deleteBySeq builds a single DELETE ... IN statement so a multi-item
// acknowledgment is one atomic statement.
func deleteBySeq(table string, seqs []int64) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}
	return "DELETE FROM " + table + " WHERE seq IN (" + placeholders + ")", args
}

func parseQueueTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

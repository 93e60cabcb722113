package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/routeworks/haulsync/internal/model"
	"github.com/routeworks/haulsync/internal/store"
)

// Completions is the durable queue of completion actions awaiting
// replay. Unlike GPS points, completion items carry no cross-item
// ordering requirement: each replays independently against its own
// endpoint.
type Completions struct {
	st       *store.Store
	onChange func()
}

// NewCompletions creates the queue over the store. onChange, if
// non-nil, is invoked after every mutation; it must not block.
func NewCompletions(st *store.Store, onChange func()) *Completions {
	return &Completions{st: st, onChange: onChange}
}

// Enqueue validates and persists the action, assigns its sequence
// number and stamps QueuedAt. Returns the assigned seq.
func (q *Completions) Enqueue(ctx context.Context, a model.CompletionAction) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("enqueue completion: %w", err)
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now()
	}
	res, err := q.st.RawDB().ExecContext(ctx, `
		INSERT INTO completion_queue (action_type, route_id, stop_id, note, recorded_at, queued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(a.Type), a.RouteID, a.StopID, a.Note,
		a.RecordedAt.Format(time.RFC3339Nano), time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("enqueue completion: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read assigned seq: %w", err)
	}
	q.changed()
	return seq, nil
}

// ListPending returns every queued action in sequence order.
func (q *Completions) ListPending(ctx context.Context) ([]model.CompletionAction, error) {
	rows, err := q.st.RawDB().QueryContext(ctx, `
		SELECT seq, action_type, route_id, stop_id, note, recorded_at, queued_at
		FROM completion_queue ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending completions: %w", err)
	}
	defer rows.Close()

	var actions []model.CompletionAction
	for rows.Next() {
		var a model.CompletionAction
		var typ, recordedAt, queuedAt string
		if err := rows.Scan(&a.Seq, &typ, &a.RouteID, &a.StopID, &a.Note, &recordedAt, &queuedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		a.Type = model.ActionType(typ)
		a.RecordedAt = parseQueueTime(recordedAt)
		a.QueuedAt = parseQueueTime(queuedAt)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Acknowledge deletes the given sequence numbers.
func (q *Completions) Acknowledge(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	query, args := deleteBySeq("completion_queue", seqs)
	if _, err := q.st.RawDB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("acknowledge completions: %w", err)
	}
	q.changed()
	return nil
}

// Count returns the pending count without materializing items.
func (q *Completions) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.st.RawDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM completion_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("count completion queue: %w", err)
	}
	return n, nil
}

func (q *Completions) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}

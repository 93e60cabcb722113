package queue

import (
	"context"
	"log"

	"github.com/routeworks/haulsync/internal/model"
)

// ResilientGPS layers the in-memory fallback under the durable GPS
// queue. Enqueue tries the durable tier first and only degrades when it
// errors, so the fallback stays empty in normal operation. Listings
// return durable items first, then fallback items; fallback seqs start
// at fallbackBase so the combined order is still strictly increasing.
//
// While the fallback holds items, capture order across tiers is not
// guaranteed: points written durably after the store recovers would
// list ahead of older buffered ones. Enqueue therefore drains the
// fallback into the durable tier before accepting a new point, so the
// window closes with the first capture after recovery.
type ResilientGPS struct {
	durable  *GPS
	fallback *Fallback[model.GPSPoint]
	logger   *log.Logger
}

// NewResilientGPS wraps the durable queue. logger may be nil for silent
// degradation (tests).
func NewResilientGPS(durable *GPS, logger *log.Logger) *ResilientGPS {
	return &ResilientGPS{
		durable:  durable,
		fallback: NewFallback[model.GPSPoint](),
		logger:   logger,
	}
}

// Enqueue persists durably when possible, otherwise falls back to the
// in-memory tier. The original error is logged, not returned: the
// caller's action has been captured either way.
func (q *ResilientGPS) Enqueue(ctx context.Context, p model.GPSPoint) (int64, error) {
	q.drainFallback(ctx)
	seq, err := q.durable.Enqueue(ctx, p)
	if err == nil {
		return seq, nil
	}
	if q.logger != nil {
		q.logger.Printf("WARNING: durable enqueue failed, using in-memory fallback: %v", err)
	}
	return q.fallback.Enqueue(ctx, p)
}

// drainFallback re-enqueues buffered points into the durable tier,
// oldest first, acknowledging each one as it lands so nothing is
// duplicated. Stops at the first durable error; the remainder stays
// buffered for the next attempt.
func (q *ResilientGPS) drainFallback(ctx context.Context) {
	seqs, items, _ := q.fallback.ListPending(ctx)
	drained := 0
	for i, item := range items {
		item.Seq = 0
		if _, err := q.durable.Enqueue(ctx, item); err != nil {
			break
		}
		if err := q.fallback.Acknowledge(ctx, seqs[i]); err != nil {
			break
		}
		drained++
	}
	if drained > 0 && q.logger != nil {
		q.logger.Printf("Recovered %d buffered points into the durable queue", drained)
	}
}

// ListPending returns durable items followed by fallback items, each
// tier in its own insertion order.
func (q *ResilientGPS) ListPending(ctx context.Context) ([]model.GPSPoint, error) {
	points, err := q.durable.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	seqs, items, _ := q.fallback.ListPending(ctx)
	for i, item := range items {
		item.Seq = seqs[i]
		points = append(points, item)
	}
	return points, nil
}

// Acknowledge routes each seq to the tier that assigned it.
func (q *ResilientGPS) Acknowledge(ctx context.Context, seqs ...int64) error {
	var durableSeqs, fallbackSeqs []int64
	for _, s := range seqs {
		if s >= fallbackBase {
			fallbackSeqs = append(fallbackSeqs, s)
		} else {
			durableSeqs = append(durableSeqs, s)
		}
	}
	if err := q.durable.Acknowledge(ctx, durableSeqs...); err != nil {
		return err
	}
	return q.fallback.Acknowledge(ctx, fallbackSeqs...)
}

// Count sums both tiers.
func (q *ResilientGPS) Count(ctx context.Context) (int, error) {
	durable, err := q.durable.Count(ctx)
	if err != nil {
		return 0, err
	}
	fb, _ := q.fallback.Count(ctx)
	return durable + fb, nil
}

// ResilientCompletions is the completion-queue counterpart of
// ResilientGPS.
type ResilientCompletions struct {
	durable  *Completions
	fallback *Fallback[model.CompletionAction]
	logger   *log.Logger
}

// NewResilientCompletions wraps the durable queue.
func NewResilientCompletions(durable *Completions, logger *log.Logger) *ResilientCompletions {
	return &ResilientCompletions{
		durable:  durable,
		fallback: NewFallback[model.CompletionAction](),
		logger:   logger,
	}
}

// Enqueue persists durably when possible, otherwise falls back.
func (q *ResilientCompletions) Enqueue(ctx context.Context, a model.CompletionAction) (int64, error) {
	q.drainFallback(ctx)
	seq, err := q.durable.Enqueue(ctx, a)
	if err == nil {
		return seq, nil
	}
	if err2 := a.Validate(); err2 != nil {
		// Invalid actions are rejected, not buffered.
		return 0, err
	}
	if q.logger != nil {
		q.logger.Printf("WARNING: durable enqueue failed, using in-memory fallback: %v", err)
	}
	return q.fallback.Enqueue(ctx, a)
}

// drainFallback moves buffered actions into the durable tier once it
// recovers. Same semantics as the GPS counterpart.
func (q *ResilientCompletions) drainFallback(ctx context.Context) {
	seqs, items, _ := q.fallback.ListPending(ctx)
	drained := 0
	for i, item := range items {
		item.Seq = 0
		if _, err := q.durable.Enqueue(ctx, item); err != nil {
			break
		}
		if err := q.fallback.Acknowledge(ctx, seqs[i]); err != nil {
			break
		}
		drained++
	}
	if drained > 0 && q.logger != nil {
		q.logger.Printf("Recovered %d buffered actions into the durable queue", drained)
	}
}

// ListPending returns durable items followed by fallback items.
func (q *ResilientCompletions) ListPending(ctx context.Context) ([]model.CompletionAction, error) {
	actions, err := q.durable.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	seqs, items, _ := q.fallback.ListPending(ctx)
	for i, item := range items {
		item.Seq = seqs[i]
		actions = append(actions, item)
	}
	return actions, nil
}

// Acknowledge routes each seq to the tier that assigned it.
func (q *ResilientCompletions) Acknowledge(ctx context.Context, seqs ...int64) error {
	var durableSeqs, fallbackSeqs []int64
	for _, s := range seqs {
		if s >= fallbackBase {
			fallbackSeqs = append(fallbackSeqs, s)
		} else {
			durableSeqs = append(durableSeqs, s)
		}
	}
	if err := q.durable.Acknowledge(ctx, durableSeqs...); err != nil {
		return err
	}
	return q.fallback.Acknowledge(ctx, fallbackSeqs...)
}

// Count sums both tiers.
func (q *ResilientCompletions) Count(ctx context.Context) (int, error) {
	durable, err := q.durable.Count(ctx)
	if err != nil {
		return 0, err
	}
	fb, _ := q.fallback.Count(ctx)
	return durable + fb, nil
}

package queue

import (
	"context"
	"sync"
)

// fallbackBase is where fallback sequence numbers start. Keeping them
// far above any plausible durable seq lets a caller tell at a glance
// which tier an item came from, and keeps merged listings ordered
// durable-first.
const fallbackBase = int64(1) << 40

// Fallback is the in-memory, process-lifetime secondary queue used when
// the durable store cannot accept a write. It preserves insertion order
// and supports partial acknowledgment like its durable counterpart, but
// offers no guarantee across restarts. That limitation is by contract:
// the fallback exists so no user action is silently lost within one
// session, not to replace the durable tier.
type Fallback[T any] struct {
	mu    sync.Mutex
	next  int64
	seqs  []int64
	items []T
}

// NewFallback creates an empty fallback queue.
func NewFallback[T any]() *Fallback[T] {
	return &Fallback[T]{next: fallbackBase}
}

// Enqueue appends the item and returns its assigned sequence number.
func (f *Fallback[T]) Enqueue(_ context.Context, item T) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.seqs = append(f.seqs, f.next)
	f.items = append(f.items, item)
	return f.next, nil
}

// ListPending returns items in insertion order together with their seqs.
func (f *Fallback[T]) ListPending(_ context.Context) ([]int64, []T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs := make([]int64, len(f.seqs))
	items := make([]T, len(f.items))
	copy(seqs, f.seqs)
	copy(items, f.items)
	return seqs, items, nil
}

// Acknowledge removes the given sequence numbers. Unknown seqs are
// ignored, matching the durable queue's idempotent delete.
func (f *Fallback[T]) Acknowledge(_ context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	drop := make(map[int64]bool, len(seqs))
	for _, s := range seqs {
		drop[s] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	keptSeqs := f.seqs[:0]
	keptItems := f.items[:0]
	for i, s := range f.seqs {
		if drop[s] {
			continue
		}
		keptSeqs = append(keptSeqs, s)
		keptItems = append(keptItems, f.items[i])
	}
	f.seqs = keptSeqs
	f.items = keptItems
	return nil
}

// Count returns the number of pending items.
func (f *Fallback[T]) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items), nil
}

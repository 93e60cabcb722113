// Package notify provides the in-process pub/sub bus between the sync
// layer and its consumers (status broadcaster, UI, CLI). It replaces the
// message-passing channel a browser service worker would use: producers
// publish typed events, subscribers receive them on buffered channels.
package notify

import (
	"sync"
	"time"
)

// Kind identifies what changed.
type Kind string

const (
	// KindQueueDepth fires whenever a pending count changes.
	KindQueueDepth Kind = "queue_depth"

	// KindSyncState fires when a sync pass starts or finishes.
	KindSyncState Kind = "sync_state"

	// KindConnectivity fires on an Online/Offline transition.
	KindConnectivity Kind = "connectivity"
)

// QueueDepth carries current pending counts.
type QueueDepth struct {
	GPS         int `json:"gps"`
	Completions int `json:"completions"`
	Total       int `json:"total"`
}

// SyncState carries the coordinator's state.
type SyncState struct {
	Syncing  bool      `json:"syncing"`
	LastSync time.Time `json:"last_sync,omitempty"`
}

// Connectivity carries the monitor's state.
type Connectivity struct {
	Online bool `json:"online"`
}

// Event is one published notification. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind         Kind          `json:"kind"`
	At           time.Time     `json:"at"`
	QueueDepth   *QueueDepth   `json:"queue_depth,omitempty"`
	SyncState    *SyncState    `json:"sync_state,omitempty"`
	Connectivity *Connectivity `json:"connectivity,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber that has fallen behind misses events rather than stalling
// the sync path. Subscribers that need exact state re-read it from the
// source, the bus is a change signal, not a log.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]bool)}
}

// Subscribe registers a new subscriber. The returned cancel func
// unregisters it and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its
// buffer. The timestamp is stamped here if the caller left it zero.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

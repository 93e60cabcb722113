// Package syncer drains the durable queues to the backend.
//
// The coordinator guarantees at most one concurrent sync pass
// (single-flight), drains GPS points before completion actions, and
// isolates failures per unit of work: a failed chunk or item leaves
// only itself (and, for GPS, its ordered remainder) pending for the
// next pass. No error inside a pass escapes as a panic or kills the
// process; the worst outcome is a growing backlog.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/routeworks/haulsync/internal/api"
	"github.com/routeworks/haulsync/internal/connectivity"
	"github.com/routeworks/haulsync/internal/model"
	"github.com/routeworks/haulsync/internal/notify"
)

// ErrOffline is returned by ForceSyncNow when the monitor reports
// Offline. Periodic passes just no-op instead.
var ErrOffline = errors.New("device is offline")

// GPSSource is the queue surface the coordinator drains GPS points
// through.
type GPSSource interface {
	ListPending(ctx context.Context) ([]model.GPSPoint, error)
	Acknowledge(ctx context.Context, seqs ...int64) error
	Count(ctx context.Context) (int, error)
}

// CompletionSource is the queue surface for completion actions.
type CompletionSource interface {
	ListPending(ctx context.Context) ([]model.CompletionAction, error)
	Acknowledge(ctx context.Context, seqs ...int64) error
	Count(ctx context.Context) (int, error)
}

// Config holds coordinator tuning.
type Config struct {
	// ChunkSize is the number of GPS points per batch call, clamped to
	// the server ceiling.
	ChunkSize int

	// DrainInterval is the periodic sync cadence while online.
	DrainInterval time.Duration

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:     50,
		DrainInterval: 30 * time.Second,
		Logger:        log.New(os.Stderr, "[syncer] ", log.LstdFlags),
	}
}

// Status is the coordinator's externally visible state.
type Status struct {
	Online            bool      `json:"online"`
	Syncing           bool      `json:"syncing"`
	LastSync          time.Time `json:"last_sync,omitempty"`
	GPSPending        int       `json:"gps_pending"`
	CompletionPending int       `json:"completion_pending"`
	Pending           int       `json:"pending"`
}

// Coordinator owns the sync-replay protocol.
type Coordinator struct {
	gps         GPSSource
	completions CompletionSource
	client      api.Client
	monitor     *connectivity.Monitor
	bus         *notify.Bus
	config      *Config

	syncing atomic.Bool

	mu       sync.Mutex
	lastSync time.Time
}

// New creates a coordinator. bus may be nil when no one listens (one-shot
// CLI use).
func New(gps GPSSource, completions CompletionSource, client api.Client,
	monitor *connectivity.Monitor, bus *notify.Bus, config *Config) (*Coordinator, error) {
	if gps == nil || completions == nil {
		return nil, fmt.Errorf("queues cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.ChunkSize <= 0 || config.ChunkSize > api.MaxBatchSize {
		config.ChunkSize = api.MaxBatchSize
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Coordinator{
		gps:         gps,
		completions: completions,
		client:      client,
		monitor:     monitor,
		bus:         bus,
		config:      config,
	}, nil
}

// SyncAll runs one drain pass: GPS first (completions may reference
// fresher location context), then completions.
//
// Concurrent calls collapse into the in-flight pass: the second call
// returns nil immediately without issuing requests. Offline is a no-op.
// Per-unit network and server errors are logged and leave their items
// pending; only a hard failure reading a queue itself aborts the pass
// and is returned (the next periodic tick retries).
func (c *Coordinator) SyncAll(ctx context.Context) error {
	if !c.monitor.Online() {
		return nil
	}
	if !c.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer func() {
		c.syncing.Store(false)
		c.publishSyncState()
	}()
	c.publishSyncState()

	start := time.Now()
	gpsErr := c.drainGPS(ctx)
	compErr := c.drainCompletions(ctx)

	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()

	if gpsErr != nil || compErr != nil {
		return errors.Join(gpsErr, compErr)
	}
	c.config.Logger.Printf("Sync pass complete in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// drainGPS submits pending points in enqueue order, chunked to the
// batch ceiling. The server reports how many it processed, counted
// from the front of the chunk; exactly that prefix is acknowledged.
// On a short count or a failed chunk the remainder of the GPS pass
// stays pending: submitting later chunks after a gap would put
// position history out of order.
func (c *Coordinator) drainGPS(ctx context.Context) error {
	points, err := c.gps.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("read gps queue: %w", err)
	}
	if len(points) == 0 {
		return nil
	}

	c.config.Logger.Printf("Draining %d gps points in chunks of %d", len(points), c.config.ChunkSize)

	for offset := 0; offset < len(points); offset += c.config.ChunkSize {
		end := offset + c.config.ChunkSize
		if end > len(points) {
			end = len(points)
		}
		chunk := points[offset:end]

		result, err := c.client.PushGPSBatch(ctx, chunk)
		if err != nil {
			c.config.Logger.Printf("Warning: gps batch failed, %d points left pending: %v",
				len(points)-offset, err)
			return nil
		}

		processed := result.Processed
		if processed > len(chunk) {
			c.config.Logger.Printf("Warning: server reported %d processed for a %d-point chunk, clamping",
				processed, len(chunk))
			processed = len(chunk)
		}

		if processed > 0 {
			seqs := make([]int64, processed)
			for i := 0; i < processed; i++ {
				seqs[i] = chunk[i].Seq
			}
			if err := c.gps.Acknowledge(ctx, seqs...); err != nil {
				return fmt.Errorf("acknowledge gps prefix: %w", err)
			}
		}

		if processed < len(chunk) {
			c.config.Logger.Printf("Partial batch: %d/%d processed, %d points left pending",
				processed, len(chunk), len(points)-offset-processed)
			return nil
		}
	}
	return nil
}

// drainCompletions replays each pending action against its endpoint.
// Items are independent: one failure is logged and the loop continues.
func (c *Coordinator) drainCompletions(ctx context.Context) error {
	actions, err := c.completions.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("read completion queue: %w", err)
	}
	if len(actions) == 0 {
		return nil
	}

	c.config.Logger.Printf("Draining %d completion actions", len(actions))

	for _, a := range actions {
		if err := c.submitCompletion(ctx, a); err != nil {
			c.config.Logger.Printf("Warning: %s action seq=%d left pending: %v", a.Type, a.Seq, err)
			continue
		}
		if err := c.completions.Acknowledge(ctx, a.Seq); err != nil {
			c.config.Logger.Printf("Warning: failed to acknowledge %s seq=%d: %v", a.Type, a.Seq, err)
		}
	}
	return nil
}

// submitCompletion dispatches by action type.
func (c *Coordinator) submitCompletion(ctx context.Context, a model.CompletionAction) error {
	switch a.Type {
	case model.ActionStopComplete:
		return c.client.CompleteStop(ctx, a)
	case model.ActionStopSkip:
		return c.client.SkipStop(ctx, a)
	case model.ActionRouteComplete:
		return c.client.CompleteRoute(ctx, a)
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// ForceSyncNow is the explicit user-invoked sync. Unlike periodic
// passes it fails loudly when offline and surfaces pass errors.
func (c *Coordinator) ForceSyncNow(ctx context.Context) error {
	if !c.monitor.Online() {
		return ErrOffline
	}
	return c.SyncAll(ctx)
}

// Syncing reports whether a pass is in flight.
func (c *Coordinator) Syncing() bool {
	return c.syncing.Load()
}

// LastSync returns when the last pass finished, zero if never.
func (c *Coordinator) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Status snapshots the coordinator and queue state for the UI layer.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	gpsPending, err := c.gps.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count gps queue: %w", err)
	}
	compPending, err := c.completions.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count completion queue: %w", err)
	}
	return Status{
		Online:            c.monitor.Online(),
		Syncing:           c.Syncing(),
		LastSync:          c.LastSync(),
		GPSPending:        gpsPending,
		CompletionPending: compPending,
		Pending:           gpsPending + compPending,
	}, nil
}

func (c *Coordinator) publishSyncState() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(notify.Event{
		Kind: notify.KindSyncState,
		SyncState: &notify.SyncState{
			Syncing:  c.Syncing(),
			LastSync: c.LastSync(),
		},
	})
}

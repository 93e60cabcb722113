// Package model defines the record and queue-item types shared by the
// store, queues, API client, and sync coordinator.
//
// Records (Route, Truck) are externally-sourced: the server owns them and
// the local copy is a cache stamped with CachedAt. Queue items (GPSPoint,
// CompletionAction) are locally-produced outbound work: each carries an
// auto-assigned sequence number and a capture timestamp, and is deleted
// once the server acknowledges it.
package model

import (
	"fmt"
	"time"
)

// Route is a collection route as served by the backend.
//
// ID is the stable external identifier. Number is the human-readable
// route number and serves as a secondary identifier when ID is absent.
type Route struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Name      string    `json:"name,omitempty"`
	Area      string    `json:"area,omitempty"`
	StopCount int       `json:"stop_count,omitempty"`
	TruckID   string    `json:"truck_id,omitempty"`
	CachedAt  time.Time `json:"cached_at,omitempty"`
}

// Key returns the identifier the local cache is keyed by: ID when set,
// otherwise the route number. Empty means the record is unidentifiable
// and must be skipped during snapshot reconciliation.
func (r *Route) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Number
}

// Truck is a collection vehicle as served by the backend.
//
// Plate is the secondary human identifier.
type Truck struct {
	ID         string    `json:"id"`
	Plate      string    `json:"plate"`
	Model      string    `json:"model,omitempty"`
	CapacityKG int       `json:"capacity_kg,omitempty"`
	CachedAt   time.Time `json:"cached_at,omitempty"`
}

// Key returns the identifier the local cache is keyed by: ID when set,
// otherwise the plate.
func (t *Truck) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Plate
}

// GPSPoint is one queued position sample.
//
// Seq is assigned by the durable queue at enqueue time and is strictly
// increasing; replay preserves Seq order so position history is never
// submitted out of order. RouteID may be empty when the driver is not on
// an active route.
type GPSPoint struct {
	Seq        int64     `json:"seq,omitempty"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	RouteID    string    `json:"route_id,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// ActionType tags a queued completion action with the endpoint it
// replays against.
type ActionType string

const (
	// ActionStopComplete marks a single stop as serviced.
	ActionStopComplete ActionType = "stop_complete"

	// ActionStopSkip marks a single stop as skipped, with a reason.
	ActionStopSkip ActionType = "stop_skip"

	// ActionRouteComplete marks the whole route as finished.
	ActionRouteComplete ActionType = "route_complete"
)

// Valid reports whether the action type is one of the known tags.
func (t ActionType) Valid() bool {
	switch t {
	case ActionStopComplete, ActionStopSkip, ActionRouteComplete:
		return true
	}
	return false
}

// CompletionAction is one queued completion operation.
//
// RecordedAt is when the driver performed the action; QueuedAt is when it
// entered the durable queue. The two differ when the enqueue happened
// from the in-memory fallback after the durable store recovered.
type CompletionAction struct {
	Seq        int64      `json:"seq,omitempty"`
	Type       ActionType `json:"type"`
	RouteID    string     `json:"route_id"`
	StopID     string     `json:"stop_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
	QueuedAt   time.Time  `json:"queued_at,omitempty"`
}

// Validate checks the invariants the replay endpoints rely on.
func (a *CompletionAction) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if a.RouteID == "" {
		return fmt.Errorf("action %q missing route id", a.Type)
	}
	if a.Type != ActionRouteComplete && a.StopID == "" {
		return fmt.Errorf("action %q missing stop id", a.Type)
	}
	return nil
}

// SessionSnapshot is the last-known authenticated profile, cached for
// offline identity display only. It is never consulted for authorization.
type SessionSnapshot struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	CachedAt    time.Time `json:"cached_at,omitempty"`
}

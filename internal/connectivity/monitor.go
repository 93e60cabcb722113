// Package connectivity tracks whether the device can reach the backend.
//
// The monitor is a two-state machine (Online, Offline) fed by platform
// signals only: the HTTP health prober, or an embedding host calling Set
// directly. Sync request failures never feed it; a flaky batch endpoint
// must not flap connectivity.
package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// State is the monitor's position in its two-state machine.
type State int

const (
	// Offline means the backend is unreachable.
	Offline State = iota

	// Online means the backend is reachable.
	Online
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Monitor holds the current state and fans transitions out to
// subscribers. Entering the current state again is a no-op: no
// self-transition events are emitted.
type Monitor struct {
	mu    sync.Mutex
	state State
	subs  map[chan State]bool
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(initial State) *Monitor {
	return &Monitor{
		state: initial,
		subs:  make(map[chan State]bool),
	}
}

// Online reports whether the monitor is in the Online state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Online
}

// Set transitions the monitor. Setting the current state is a no-op.
// Transitions are delivered to subscribers in order; a subscriber whose
// buffer is full misses the event rather than blocking the signal path.
func (m *Monitor) Set(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == m.state {
		return
	}
	m.state = s
	for ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe registers for transition events. The returned cancel func
// unregisters and closes the channel; safe to call twice.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)

	m.mu.Lock()
	m.subs[ch] = true
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// ProberConfig configures the health prober.
type ProberConfig struct {
	// HealthURL is the endpoint probed for reachability. Any response,
	// regardless of status, counts as reachable; only transport errors
	// mean offline.
	HealthURL string

	// Interval between probes. Default: 10s.
	Interval time.Duration

	// Timeout for a single probe. Default: 5s.
	Timeout time.Duration

	// Logger for probe activity. Default: stderr logger.
	Logger *log.Logger
}

// Prober periodically checks the health URL and drives the monitor.
type Prober struct {
	monitor *Monitor
	config  ProberConfig
	client  *http.Client
}

// NewProber creates a prober feeding the given monitor.
func NewProber(monitor *Monitor, config ProberConfig) (*Prober, error) {
	if config.HealthURL == "" {
		return nil, fmt.Errorf("health URL cannot be empty")
	}
	if config.Interval == 0 {
		config.Interval = 10 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(log.Writer(), "[probe] ", log.LstdFlags)
	}
	return &Prober{
		monitor: monitor,
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
	}, nil
}

// ProbeOnce performs a single probe and updates the monitor. One-shot
// CLI commands use this instead of Run.
func (p *Prober) ProbeOnce(ctx context.Context) {
	p.probe(ctx)
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	p.probe(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.config.HealthURL, nil)
	if err != nil {
		p.config.Logger.Printf("Warning: invalid health URL: %v", err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.monitor.Online() {
			p.config.Logger.Printf("Backend unreachable: %v", err)
		}
		p.monitor.Set(Offline)
		return
	}
	resp.Body.Close()

	if !p.monitor.Online() {
		p.config.Logger.Printf("Backend reachable (%s)", resp.Status)
	}
	p.monitor.Set(Online)
}

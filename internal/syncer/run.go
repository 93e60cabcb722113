package syncer

import (
	"context"
	"time"

	"github.com/routeworks/haulsync/internal/connectivity"
	"github.com/routeworks/haulsync/internal/notify"
)

// Run drives periodic draining. While Online a single ticker invokes
// SyncAll every DrainInterval; the ticker is started on entering Online
// (with an immediate pass) and stopped on entering Offline, so at most
// one timer is ever live. Going offline mid-pass does not abort network
// calls already issued, it only prevents new passes from starting.
//
// Blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	states, cancel := c.monitor.Subscribe()
	defer cancel()

	var ticker *time.Ticker
	var tick <-chan time.Time

	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tick = nil
		}
	}
	startTicker := func() {
		stopTicker()
		ticker = time.NewTicker(c.config.DrainInterval)
		tick = ticker.C
	}
	defer stopTicker()

	if c.monitor.Online() {
		startTicker()
		if err := c.SyncAll(ctx); err != nil {
			c.config.Logger.Printf("Warning: sync pass failed: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case state, ok := <-states:
			if !ok {
				return nil
			}
			c.publishConnectivity(state)
			switch state {
			case connectivity.Online:
				c.config.Logger.Println("Online: starting periodic drain")
				startTicker()
				if err := c.SyncAll(ctx); err != nil {
					c.config.Logger.Printf("Warning: sync pass failed: %v", err)
				}
			case connectivity.Offline:
				c.config.Logger.Println("Offline: stopping periodic drain")
				stopTicker()
			}

		case <-tick:
			if err := c.SyncAll(ctx); err != nil {
				c.config.Logger.Printf("Warning: sync pass failed: %v", err)
			}
		}
	}
}

func (c *Coordinator) publishConnectivity(state connectivity.State) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(notify.Event{
		Kind:         notify.KindConnectivity,
		Connectivity: &notify.Connectivity{Online: state == connectivity.Online},
	})
}

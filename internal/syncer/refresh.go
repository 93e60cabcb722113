package syncer

import (
	"context"
	"fmt"

	"github.com/routeworks/haulsync/internal/model"
)

// ReferenceStore is the snapshot-reconciliation surface of the store.
type ReferenceStore interface {
	ReplaceRoutes(ctx context.Context, routes []model.Route) (int, error)
	ReplaceTrucks(ctx context.Context, trucks []model.Truck) (int, error)
}

// RefreshReference pulls full route and truck snapshots and reconciles
// the local caches. Each collection fails independently: a failed route
// fetch does not block the truck refresh. Run on entering Online and on
// explicit user refresh, not on the drain ticker; reference data moves
// slowly.
func (c *Coordinator) RefreshReference(ctx context.Context, dst ReferenceStore) error {
	if !c.monitor.Online() {
		return ErrOffline
	}

	var routeErr, truckErr error

	if routes, err := c.client.FetchRoutes(ctx); err != nil {
		routeErr = fmt.Errorf("fetch routes: %w", err)
		c.config.Logger.Printf("Warning: %v", routeErr)
	} else if n, err := dst.ReplaceRoutes(ctx, routes); err != nil {
		routeErr = fmt.Errorf("reconcile routes: %w", err)
		c.config.Logger.Printf("Warning: %v", routeErr)
	} else {
		c.config.Logger.Printf("Reconciled %d routes", n)
	}

	if trucks, err := c.client.FetchTrucks(ctx); err != nil {
		truckErr = fmt.Errorf("fetch trucks: %w", err)
		c.config.Logger.Printf("Warning: %v", truckErr)
	} else if n, err := dst.ReplaceTrucks(ctx, trucks); err != nil {
		truckErr = fmt.Errorf("reconcile trucks: %w", err)
		c.config.Logger.Printf("Warning: %v", truckErr)
	} else {
		c.config.Logger.Printf("Reconciled %d trucks", n)
	}

	if routeErr != nil || truckErr != nil {
		return fmt.Errorf("reference refresh incomplete")
	}
	return nil
}

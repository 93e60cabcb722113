package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/routeworks/haulsync/internal/api"
	"github.com/routeworks/haulsync/internal/connectivity"
	"github.com/routeworks/haulsync/internal/creds"
	"github.com/routeworks/haulsync/internal/notify"
	"github.com/routeworks/haulsync/internal/queue"
	"github.com/routeworks/haulsync/internal/store"
	"github.com/routeworks/haulsync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the pending queues now",
	Long: `Run one sync pass immediately: pending GPS points first, in order,
then completion actions. Fails when the backend is unreachable instead
of silently doing nothing.

Example usage:
  haulsync sync
  haulsync sync --refresh    # also pull fresh route/truck snapshots`,
	Run: func(cmd *cobra.Command, args []string) {
		refresh, _ := cmd.Flags().GetBool("refresh")
		cfg := loadConfig()

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		tokens := creds.NewFileStore(cfg.CredentialsPath)
		client, err := api.NewHTTPClient(cfg.ServerURL, tokens)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating API client: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		// One probe decides reachability for the whole pass.
		monitor := connectivity.NewMonitor(connectivity.Offline)
		prober, err := connectivity.NewProber(monitor, connectivity.ProberConfig{
			HealthURL: cfg.HealthURL,
			Logger:    log.New(os.Stderr, "[probe] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating prober: %v\n", err)
			os.Exit(1)
		}
		prober.ProbeOnce(ctx)

		gps := queue.NewGPS(st, nil)
		completions := queue.NewCompletions(st, nil)

		coordinator, err := syncer.New(gps, completions, client, monitor, notify.NewBus(), &syncer.Config{
			ChunkSize:     cfg.ChunkSize,
			DrainInterval: cfg.DrainInterval,
			Logger:        log.New(os.Stderr, "[syncer] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating coordinator: %v\n", err)
			os.Exit(1)
		}

		if err := coordinator.ForceSyncNow(ctx); err != nil {
			if errors.Is(err, syncer.ErrOffline) {
				fmt.Fprintf(os.Stderr, "Error: backend unreachable, queued work kept for later\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			}
			os.Exit(1)
		}

		if refresh {
			if err := coordinator.RefreshReference(ctx, st); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		s, err := coordinator.Status(ctx)
		if err == nil {
			fmt.Printf("Sync complete, %d items pending\n", s.Pending)
		} else {
			fmt.Println("Sync complete")
		}
	},
}

func init() {
	syncCmd.Flags().Bool("refresh", false, "also refresh route and truck snapshots")
	rootCmd.AddCommand(syncCmd)
}

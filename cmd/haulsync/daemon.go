package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/routeworks/haulsync/internal/api"
	"github.com/routeworks/haulsync/internal/config"
	"github.com/routeworks/haulsync/internal/connectivity"
	"github.com/routeworks/haulsync/internal/creds"
	"github.com/routeworks/haulsync/internal/edge"
	"github.com/routeworks/haulsync/internal/notify"
	"github.com/routeworks/haulsync/internal/queue"
	"github.com/routeworks/haulsync/internal/status"
	"github.com/routeworks/haulsync/internal/store"
	"github.com/routeworks/haulsync/internal/syncer"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the on-vehicle sync agent",
	Long: `Run the long-lived agent: health prober, periodic queue drain,
status WebSocket feed, and the local network-edge gateway.

The daemon starts offline and lets the prober establish connectivity;
queued work drains automatically on every Online transition and then
periodically while the link holds.

Example usage:
  haulsync daemon
  HAULSYNC_SERVER_URL=https://ops.example.com haulsync daemon`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		logWriter := daemonLogWriter(cfg)
		logger := log.New(logWriter, "[daemon] ", log.LstdFlags)

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		bus := notify.NewBus()

		var gpsQ *queue.GPS
		var compQ *queue.Completions
		publishDepth := func() {
			gpsN, err := gpsQ.Count(context.Background())
			if err != nil {
				return
			}
			compN, err := compQ.Count(context.Background())
			if err != nil {
				return
			}
			bus.Publish(notify.Event{
				Kind: notify.KindQueueDepth,
				QueueDepth: &notify.QueueDepth{
					GPS:         gpsN,
					Completions: compN,
					Total:       gpsN + compN,
				},
			})
		}
		gpsQ = queue.NewGPS(st, publishDepth)
		compQ = queue.NewCompletions(st, publishDepth)

		queueLogger := log.New(logWriter, "[queue] ", log.LstdFlags)
		gps := queue.NewResilientGPS(gpsQ, queueLogger)
		completions := queue.NewResilientCompletions(compQ, queueLogger)

		tokens := creds.NewFileStore(cfg.CredentialsPath)
		client, err := api.NewHTTPClient(cfg.ServerURL, tokens)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating API client: %v\n", err)
			os.Exit(1)
		}

		monitor := connectivity.NewMonitor(connectivity.Offline)
		prober, err := connectivity.NewProber(monitor, connectivity.ProberConfig{
			HealthURL: cfg.HealthURL,
			Interval:  cfg.ProbeInterval,
			Logger:    log.New(logWriter, "[probe] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating prober: %v\n", err)
			os.Exit(1)
		}

		coordinator, err := syncer.New(gps, completions, client, monitor, bus, &syncer.Config{
			ChunkSize:     cfg.ChunkSize,
			DrainInterval: cfg.DrainInterval,
			Logger:        log.New(logWriter, "[syncer] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating coordinator: %v\n", err)
			os.Exit(1)
		}

		statusServer := status.NewServer(coordinator, bus, &status.Config{
			Listen: cfg.Status.Listen,
			Logger: log.New(logWriter, "[status] ", log.LstdFlags),
		})
		if err := statusServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting status server: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = statusServer.Stop() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The gateway is optional: a unit whose deploy manifest has not
		// landed yet still syncs.
		gateway, err := edge.New(&edge.Config{
			Listen:       cfg.Edge.Listen,
			Upstream:     cfg.ServerURL,
			CacheDir:     cfg.Edge.CacheDir,
			ManifestPath: cfg.Edge.ManifestPath,
			Logger:       log.New(logWriter, "[edge] ", log.LstdFlags),
		})
		if err != nil {
			logger.Printf("Warning: edge gateway disabled: %v", err)
		} else {
			go func() {
				if err := gateway.Start(ctx); err != nil {
					logger.Printf("Warning: edge gateway stopped: %v", err)
				}
			}()
		}

		go func() {
			if err := prober.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("Warning: prober stopped: %v", err)
			}
		}()

		// Refresh the reference caches on every Online transition; the
		// drain loop handles the queues.
		go refreshOnOnline(ctx, monitor, coordinator, st, logger)

		logger.Printf("Daemon started (db=%s server=%s)", cfg.DBPath, cfg.ServerURL)
		fmt.Printf("haulsync daemon started\n")
		fmt.Printf("  Status feed: ws://%s/ws\n", cfg.Status.Listen)
		fmt.Printf("  Edge gateway: http://%s\n", cfg.Edge.Listen)
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: sync loop failed: %v\n", err)
			os.Exit(1)
		}

		logger.Println("Daemon stopped")
	},
}

// refreshOnOnline reconciles the route and truck caches each time the
// link comes back.
func refreshOnOnline(ctx context.Context, monitor *connectivity.Monitor,
	coordinator *syncer.Coordinator, st *store.Store, logger *log.Logger) {
	states, cancel := monitor.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if state != connectivity.Online {
				continue
			}
			if err := coordinator.RefreshReference(ctx, st); err != nil {
				logger.Printf("Warning: reference refresh failed: %v", err)
			}
		}
	}
}

// daemonLogWriter tees daemon logs to stderr and, when configured, a
// size-rotated file.
func daemonLogWriter(cfg *config.Config) io.Writer {
	if cfg.Log.File == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

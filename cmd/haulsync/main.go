// haulsync is the on-truck sync agent for the field operations UI.
//
// It keeps a durable local copy of route and truck data, queues GPS
// samples and stop completions while the truck is out of coverage, and
// drains them to the backend whenever connectivity returns. It also
// runs the local network-edge gateway the UI points at.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/routeworks/haulsync/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "haulsync",
	Short: "Offline-first sync agent for field operations",
	Long: `haulsync keeps a waste-collection truck's field UI working without
coverage: routes and trucks are cached locally, GPS samples and stop
completions queue durably, and everything drains to the backend when
the link comes back.

Run 'haulsync daemon' on the vehicle unit; the other commands are
operator tools.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: ~/.haulsync/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration for commands that talk
// to the backend.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// loadConfigLocal loads configuration for commands that only touch
// local state and do not need a backend URL.
func loadConfigLocal() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

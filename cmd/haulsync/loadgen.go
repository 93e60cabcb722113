package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/routeworks/haulsync/internal/loadgen"
	"github.com/routeworks/haulsync/internal/queue"
	"github.com/routeworks/haulsync/internal/store"
)

var loadgenCmd = &cobra.Command{
	Use:     "loadgen",
	GroupID: "advanced",
	Short:   "Generate synthetic GPS traffic into the queue",
	Long: `Enqueue a synthetic GPS track to validate queue and drain behavior
at shift-scale volumes before a unit ships.

Example usage:
  haulsync loadgen --points 10000
  haulsync loadgen --points 3600 --rate 1 --route RT-104`,
	Run: func(cmd *cobra.Command, args []string) {
		points, _ := cmd.Flags().GetInt("points")
		rate, _ := cmd.Flags().GetInt("rate")
		route, _ := cmd.Flags().GetString("route")
		seed, _ := cmd.Flags().GetInt64("seed")

		cfg := loadConfigLocal()

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := loadgen.Run(ctx, queue.NewGPS(st, nil), loadgen.Options{
			Points:  points,
			Rate:    rate,
			RouteID: route,
			Seed:    seed,
		})
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		result.PrintStats()
	},
}

func init() {
	loadgenCmd.Flags().Int("points", 1000, "number of samples to enqueue")
	loadgenCmd.Flags().Int("rate", 0, "samples per second (0 = unthrottled)")
	loadgenCmd.Flags().String("route", "", "route id to stamp on samples")
	loadgenCmd.Flags().Int64("seed", 0, "random seed (0 = from clock)")
	rootCmd.AddCommand(loadgenCmd)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/routeworks/haulsync/internal/export"
	"github.com/routeworks/haulsync/internal/queue"
	"github.com/routeworks/haulsync/internal/store"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "data",
	Short:   "Dump pending queues to a JSONL file",
	Long: `Dump every pending GPS point and completion action to a JSONL file.
Used when swapping a vehicle unit: export on the old device, import on
the new one, and the backlog survives the hardware change.

The queues are not cleared; items drain normally on the next sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigLocal()

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		result, err := export.Dump(context.Background(),
			queue.NewGPS(st, nil), queue.NewCompletions(st, nil), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported %d GPS points and %d completion actions to %s\n",
			result.GPSPoints, result.Completions, args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Re-enqueue items from a JSONL dump",
	Long: `Read a dump produced by 'haulsync export' and enqueue every item.
Sequence numbers are reassigned; the dump's GPS order is preserved.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigLocal()

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		result, err := export.Load(context.Background(),
			queue.NewGPS(st, nil), queue.NewCompletions(st, nil), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d GPS points and %d completion actions\n",
			result.GPSPoints, result.Completions)
		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

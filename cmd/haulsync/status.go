package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/routeworks/haulsync/internal/syncer"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity and queue state",
	Long: `Show the running daemon's connectivity, sync state and pending
queue depths. Reads from the daemon's local status endpoint.`,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		cfg := loadConfigLocal()

		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get("http://" + cfg.Status.Listen + "/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: daemon not reachable at %s (is 'haulsync daemon' running?)\n",
				cfg.Status.Listen)
			os.Exit(1)
		}
		defer resp.Body.Close()

		var s syncer.Status
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			out, _ := json.MarshalIndent(s, "", "  ")
			fmt.Println(string(out))
			return
		}

		// Degrade styling on dumb terminals.
		if termenv.EnvColorProfile() == termenv.Ascii {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		conn := offlineStyle.Render("offline")
		if s.Online {
			conn = onlineStyle.Render("online")
		}
		syncing := "idle"
		if s.Syncing {
			syncing = "in progress"
		}
		lastSync := dimStyle.Render("never")
		if !s.LastSync.IsZero() {
			lastSync = s.LastSync.Local().Format("2006-01-02 15:04:05")
		}

		fmt.Println(labelStyle.Render("Connectivity:") + " " + conn)
		fmt.Println(labelStyle.Render("Sync:") + " " + syncing)
		fmt.Println(labelStyle.Render("Last sync:") + " " + lastSync)
		fmt.Println(labelStyle.Render("Pending:") + " " + fmt.Sprintf("%d (%d gps, %d completions)",
			s.Pending, s.GPSPending, s.CompletionPending))
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print raw JSON")
	rootCmd.AddCommand(statusCmd)
}

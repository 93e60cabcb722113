package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/routeworks/haulsync/internal/creds"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store the device's API token",
	Long: `Store the bearer token the agent authenticates with. The token is
issued per vehicle unit by the dispatch console and written to the
credentials file with owner-only permissions.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigLocal()
		store := creds.NewFileStore(cfg.CredentialsPath)

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			var err error
			token, err = promptToken()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := store.Save(token); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving credentials: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Credentials saved to %s\n", store.Path())
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Remove the stored API token",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigLocal()
		store := creds.NewFileStore(cfg.CredentialsPath)
		if err := store.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Credentials removed")
	},
}

// promptToken asks interactively, falling back to a plain masked read
// when the fancy form cannot run (no TTY capabilities, CI).
func promptToken() (string, error) {
	var token string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("API token").
			Description("Issued per vehicle in the dispatch console").
			EchoMode(huh.EchoModePassword).
			Value(&token),
	))

	if err := form.Run(); err == nil {
		return strings.TrimSpace(token), nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no terminal available; pass --token")
	}
	fmt.Fprint(os.Stderr, "API token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func init() {
	loginCmd.Flags().String("token", "", "API token (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

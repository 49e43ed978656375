// Package cmd provides the sage CLI commands.
//
// Commands:
//   - chat: interactive conversation grounded in synced sources
//   - search: retrieve indexed chunks for a query without generating
//   - sources: connect, disconnect and list knowledge sources
//   - sync: pull changed documents from connected sources
//   - version: build information
//
// Every command operates on behalf of one user, selected with the
// persistent --user flag or the SAGE_USER environment variable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagUser   string
	flagMemory bool
)

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "Sage is a personal assistant grounded in your own notes and data",
	Long: `Sage syncs documents from your knowledge sources (Notion, Obsidian
vaults, YNAB budgets, saved web articles) into a private per-user index
and answers questions with retrieved context and citations.

Run 'sage sources connect' first, then 'sage sync', then 'sage chat'.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command. It is the only entry point main calls.
func Execute() error {
	// Secrets for local development; a missing .env is not an error.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id (default $SAGE_USER)")
	rootCmd.PersistentFlags().BoolVar(&flagMemory, "memory", false, "keep all state in memory, nothing persisted")
}

// currentUser resolves the acting user from the flag or environment.
func currentUser() (string, error) {
	if flagUser != "" {
		return flagUser, nil
	}
	if u := os.Getenv("SAGE_USER"); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("no user selected: pass --user or set SAGE_USER")
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source]",
	Short: "Pull changed documents from connected sources",
	Long: `Sync fetches documents that changed since the last run, chunks and
embeds them, and updates the index. Without an argument every connected
source is synced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	sourceType := ""
	if len(args) == 1 {
		sourceType = args[0]
	}

	reports, err := app.assistant.Sync(ctx, userID, sourceType)
	for _, report := range reports {
		fmt.Printf("%-10s synced %d, skipped %d, failed %d (%s)\n",
			report.SourceType, report.Synced, report.Skipped, report.Failed,
			report.Duration.Round(10*time.Millisecond))
	}
	return err
}

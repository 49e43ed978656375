package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sagehq/sage/internal/source"
)

var flagCreds []string

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage knowledge source connections",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show connected sources and their sync state",
	RunE:  runSourcesList,
}

var sourcesConnectCmd = &cobra.Command{
	Use:   "connect <type>",
	Short: "Connect a source",
	Long: `Connect validates credentials against the source platform and stores
the connection. Credentials are passed as repeated --cred key=value
flags:

  sage sources connect notion --cred token=secret_...
  sage sources connect obsidian --cred vault_path=~/vault
  sage sources connect ynab --cred access_token=...
  sage sources connect webclip --cred urls=https://example.com/post`,
	Args: cobra.ExactArgs(1),
	RunE: runSourcesConnect,
}

var sourcesDisconnectCmd = &cobra.Command{
	Use:   "disconnect <type>",
	Short: "Disconnect a source and remove its indexed content",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesDisconnect,
}

func init() {
	sourcesConnectCmd.Flags().StringArrayVar(&flagCreds, "cred", nil, "credential as key=value, repeatable")
	sourcesCmd.AddCommand(sourcesListCmd, sourcesConnectCmd, sourcesDisconnectCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	statuses, err := app.assistant.SyncStatus(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("No sources connected. Run 'sage sources connect <type>'.")
		return nil
	}

	fmt.Printf("%-10s %-10s %6s  %-20s %s\n", "SOURCE", "STATUS", "DOCS", "LAST SYNC", "ERROR")
	for _, st := range statuses {
		status := "error"
		if st.Connected {
			status = "connected"
		}
		lastSync := "never"
		if !st.LastSyncedAt.IsZero() {
			lastSync = st.LastSyncedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-10s %-10s %6d  %-20s %s\n",
			st.SourceType, status, st.DocumentCount, lastSync, st.LastError)
	}
	return nil
}

func runSourcesConnect(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}
	creds, err := parseCreds(flagCreds)
	if err != nil {
		return err
	}

	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	sourceType := args[0]
	if err := app.assistant.Connect(cmd.Context(), userID, sourceType, creds); err != nil {
		return fmt.Errorf("connecting %s: %w", sourceType, err)
	}
	fmt.Printf("Connected %s. Run 'sage sync %s' to index it.\n", sourceType, sourceType)
	return nil
}

func runSourcesDisconnect(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	sourceType := args[0]
	if err := app.assistant.Disconnect(cmd.Context(), userID, sourceType); err != nil {
		return fmt.Errorf("disconnecting %s: %w", sourceType, err)
	}
	fmt.Printf("Disconnected %s and removed its indexed content.\n", sourceType)
	return nil
}

// parseCreds turns repeated key=value flags into source credentials.
func parseCreds(pairs []string) (source.Credentials, error) {
	creds := make(source.Credentials, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid credential %q, want key=value", pair)
		}
		creds[key] = value
	}
	return creds, nil
}

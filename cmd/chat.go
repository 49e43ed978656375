package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var flagConversation string

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with your assistant",
	Long: `Chat answers questions using context retrieved from your synced
sources. With a message argument it answers once and exits; without one
it starts an interactive session. Pass --conversation to continue an
earlier conversation.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&flagConversation, "conversation", "", "conversation id to continue")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	conversationID := uuid.Nil
	if flagConversation != "" {
		conversationID, err = uuid.Parse(flagConversation)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q: %w", flagConversation, err)
		}
	}

	if len(args) > 0 {
		_, err := ask(ctx, app, userID, conversationID, strings.Join(args, " "))
		return err
	}

	fmt.Println("sage chat. Type your question, or 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		id, err := ask(ctx, app, userID, conversationID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		conversationID = id
	}
	return scanner.Err()
}

// ask runs one exchange and prints the answer with its sources.
func ask(ctx context.Context, app *app, userID string, conversationID uuid.UUID, message string) (uuid.UUID, error) {
	result, err := app.assistant.Chat(ctx, userID, conversationID, message)
	if err != nil {
		return uuid.Nil, err
	}

	fmt.Println(result.Response)
	if len(result.SourceRefs) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, ref := range result.SourceRefs {
			fmt.Printf("  [%d] %s: %s\n", i+1, ref.SourceType, ref.Title)
		}
	}
	return result.ConversationID, nil
}

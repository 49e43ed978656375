package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagTopK      int
	flagThreshold float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search your indexed sources",
	Long: `Search retrieves the chunks most similar to the query from your
index and prints them with similarity scores, without calling a
generation model.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&flagTopK, "top", "k", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "minimum similarity (default from config)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	userID, err := currentUser()
	if err != nil {
		return err
	}

	app, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	query := strings.Join(args, " ")
	hits, err := app.assistant.Search(cmd.Context(), userID, query, flagTopK, flagThreshold)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matches. Have you run 'sage sync'?")
		return nil
	}

	for i, hit := range hits {
		fmt.Printf("%2d. [%.3f] %s\n", i+1, hit.Score, hit.Label)
		fmt.Printf("    %s\n", excerpt(hit.Chunk.Content, 160))
	}
	return nil
}

// excerpt trims text to one line of at most n bytes on a rune boundary.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "..."
}

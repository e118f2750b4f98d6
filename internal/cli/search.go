package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/spf13/cobra"
)

var searchK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find similar movies without asking the language model",
	Long: `Search the movie collection by similarity to the query.

Returns the closest movies with their similarity score. No answer is
generated; use 'ask' or 'chat' for that.

Examples:
  moviechat search "a witch in the woods"
  moviechat search "film tentang perang" -k 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "top-k", "k", 5, "number of movies")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := cmd.Context()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	results, err := a.Retriever.RetrieveScored(ctx, query, searchK)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printSearchResults(os.Stdout, results)
	return nil
}

func printSearchResults(w io.Writer, results []vectorstore.ScoredDocument) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No movies found.")
		return
	}

	fmt.Fprintf(w, "Found %d movies:\n\n", len(results))
	for _, r := range results {
		fmt.Fprintln(w, formatHit(r))
		if verbose {
			p := vectorstore.PayloadFromMap(r.Metadata)
			fmt.Fprintf(w, "  %s\n", p.Overview)
		}
	}
}

// formatHit renders one result as "- Title (Year) | Genre | Score: 0.873".
func formatHit(r vectorstore.ScoredDocument) string {
	p := vectorstore.PayloadFromMap(r.Metadata)
	line := "- " + p.Title
	if p.Year != "" {
		line += " (" + p.Year + ")"
	}
	if p.Genre != "" {
		line += " | " + p.Genre
	}
	return fmt.Sprintf("%s | Score: %.3f", line, r.Score)
}

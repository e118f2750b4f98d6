package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/raphaelgruber/moviechat/internal/client"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/spf13/cobra"
)

var statsServer string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics of a moviechat server",
	Long: `Show timing, token usage and turn outcomes of a running server.

Examples:
  moviechat stats
  moviechat stats --server http://chat.internal:8484`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsServer, "server", "", "server URL (default $MOVIECHAT_SERVER_URL or http://localhost:8484)")
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := client.New(statsServer).Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(os.Stdout, stats.Sessions, stats.Metrics)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, sessions int, s metrics.Snapshot) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", s.UptimeSeconds)
	fmt.Fprintf(w, "Open sessions: %d\n", sessions)

	if s.Turn != nil {
		fmt.Fprintf(w, "\nTurns:\n")
		printOpStats(w, s.Turn)
		fmt.Fprintf(w, "  Tool calls: %d\n", s.ToolCalls)
		printOutcomes(w, s.Outcomes)
	}

	if s.Embedding != nil {
		fmt.Fprintf(w, "\nEmbeddings:\n")
		printOpStats(w, s.Embedding)
	}

	if s.LLMGenerate != nil {
		fmt.Fprintf(w, "\nLLM Generate:\n")
		printOpStats(w, s.LLMGenerate)
		printTokenStats(w, s.LLMGenerate)
	}

	if s.VectorSearch != nil {
		fmt.Fprintf(w, "\nVector Search:\n")
		printOpStats(w, s.VectorSearch)
	}

	if s.VectorUpsert != nil {
		fmt.Fprintf(w, "\nVector Upsert:\n")
		printOpStats(w, s.VectorUpsert)
	}

	if s.ToolCall != nil {
		fmt.Fprintf(w, "\nTool Calls:\n")
		printOpStats(w, s.ToolCall)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(w, "  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Fprintf(w, ", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Fprintf(w, ", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Fprintln(w)
}

func printOutcomes(w io.Writer, outcomes map[string]int64) {
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %d\n", name+":", outcomes[name])
	}
}

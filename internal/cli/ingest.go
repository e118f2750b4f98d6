package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/moviechat/internal/ingest"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	ingestLimit       int
	ingestBatchSize   int
	ingestConcurrency int
	ingestRecreate    bool
	ingestContentIDs  bool
	ingestNoProgress  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <movies.csv>",
	Short: "Load movies from an IMDB CSV into the vector store",
	Long: `Load movies from an IMDB top 1000 CSV export into the vector store.

Each movie's overview is embedded and stored with its title, year, genre and
rating. Rows with an empty title or overview are skipped.

By default every run adds new points. Use --content-ids to derive ids from
the movie so re-running overwrites instead of duplicating, or --recreate to
start from an empty collection.

Examples:
  moviechat ingest imdb_top_1000.csv
  moviechat ingest imdb_top_1000.csv --limit 0 --recreate
  moviechat ingest imdb_top_1000.csv --content-ids --batch 32`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestLimit, "limit", "n", ingest.DefaultLimit, "max movies to ingest (0 = all)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch", ingest.DefaultBatchSize, "movies per embedding batch")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", ingest.DefaultConcurrency, "parallel batches")
	ingestCmd.Flags().BoolVar(&ingestRecreate, "recreate", false, "drop and recreate the collection first")
	ingestCmd.Flags().BoolVar(&ingestContentIDs, "content-ids", false, "derive point ids from movie content")
	ingestCmd.Flags().BoolVar(&ingestNoProgress, "no-progress", false, "print plain output instead of a progress bar")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	if ingestRecreate {
		err = a.Store.RecreateCollection(ctx)
	} else {
		err = a.Store.EnsureCollection(ctx)
	}
	if err != nil {
		return fmt.Errorf("prepare collection: %w", err)
	}

	opts := ingest.Options{
		BatchSize:   ingestBatchSize,
		Concurrency: ingestConcurrency,
	}
	if ingestContentIDs {
		opts.IDMode = ingest.IDContent
	}

	if !ingestNoProgress && term.IsTerminal(int(os.Stdout.Fd())) {
		_, err := RunIngestProgress(ctx, path, func(ctx context.Context, report func(done, total int)) (ingest.Stats, error) {
			opts.Progress = report
			return a.Ingester(opts).Ingest(ctx, f, ingestLimit)
		})
		return err
	}

	fmt.Printf("Ingesting %s into %q...\n", path, a.Config.Collection)
	stats, err := a.Ingester(opts).Ingest(ctx, f, ingestLimit)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Print(formatIngestStats(stats))
	return nil
}

package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
	// DefaultLimit matches the number of rows loaded by the reference dataset loader.
	DefaultLimit = 200
)

// IDMode selects how point ids are generated.
type IDMode int

const (
	// IDRandom assigns a random UUID to every row. Re-ingesting duplicates rows.
	IDRandom IDMode = iota
	// IDContent derives a UUID from title, year and overview so re-ingesting
	// overwrites existing points.
	IDContent
)

// movieNamespace is the UUID namespace for content-derived ids.
var movieNamespace = uuid.MustParse("6f0c1d3e-6a7b-4a4f-9d0e-2c1b5a8e7f10")

// BatchEmbedder embeds many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter writes movie records.
type Upserter interface {
	Upsert(ctx context.Context, records []vectorstore.MovieRecord) error
}

// Options configures an Ingester.
type Options struct {
	BatchSize   int
	Concurrency int
	IDMode      IDMode
	// Progress is called after each upserted batch with the number of
	// movies written so far. It may be called from several goroutines.
	Progress func(done, total int)
}

// Stats summarizes an ingestion run.
type Stats struct {
	Read     int
	Skipped  int
	Upserted int
}

// Ingester embeds movie overviews and upserts them into the store.
type Ingester struct {
	embedder BatchEmbedder
	store    Upserter
	opts     Options
	logger   *slog.Logger
}

// New creates an Ingester.
func New(embedder BatchEmbedder, store Upserter, opts Options, logger *slog.Logger) *Ingester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{embedder: embedder, store: store, opts: opts, logger: logger}
}

// Ingest reads the CSV from r and ingests up to limit movies (all when
// limit <= 0).
func (i *Ingester) Ingest(ctx context.Context, r io.Reader, limit int) (Stats, error) {
	read, err := ReadMovies(r, limit)
	if err != nil {
		return Stats{Read: read.Read, Skipped: read.Skipped}, err
	}
	stats, err := i.Run(ctx, read.Movies)
	stats.Read = read.Read
	stats.Skipped = read.Skipped
	return stats, err
}

// Run embeds and upserts movies in batches across a worker pool. The first
// failing batch cancels the rest and its error is returned.
func (i *Ingester) Run(ctx context.Context, movies []Movie) (Stats, error) {
	total := len(movies)
	i.logger.Info("starting ingestion", "movies", total, "batch_size", i.opts.BatchSize, "concurrency", i.opts.Concurrency)
	if total == 0 {
		return Stats{}, nil
	}

	batches := make(chan []Movie, (total+i.opts.BatchSize-1)/i.opts.BatchSize)
	for start := 0; start < total; start += i.opts.BatchSize {
		end := min(start+i.opts.BatchSize, total)
		batches <- movies[start:end]
	}
	close(batches)

	var upserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < i.opts.Concurrency; w++ {
		g.Go(func() error {
			for batch := range batches {
				if gctx.Err() != nil {
					return nil
				}
				if err := i.ingestBatch(gctx, batch); err != nil {
					return err
				}
				done := int(upserted.Add(int64(len(batch))))
				i.logger.Debug("batch upserted", "worker", w, "progress", fmt.Sprintf("%d/%d", done, total))
				if i.opts.Progress != nil {
					i.opts.Progress(done, total)
				}
			}
			return nil
		})
	}
	firstErr := g.Wait()

	stats := Stats{Upserted: int(upserted.Load())}
	if firstErr != nil {
		i.logger.Error("ingestion failed", "upserted", stats.Upserted, "error", firstErr)
		return stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	i.logger.Info("ingestion complete", "upserted", stats.Upserted)
	return stats, nil
}

func (i *Ingester) ingestBatch(ctx context.Context, batch []Movie) error {
	texts := make([]string, len(batch))
	for n, m := range batch {
		texts[n] = m.Overview
	}

	vectors, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed batch: got %d vectors for %d texts", len(vectors), len(batch))
	}

	records := make([]vectorstore.MovieRecord, len(batch))
	for n, m := range batch {
		records[n] = vectorstore.MovieRecord{
			ID:     i.recordID(m),
			Vector: vectors[n],
			Payload: vectorstore.MoviePayload{
				Title:    m.Title,
				Year:     m.Year,
				Genre:    m.Genre,
				Rating:   m.Rating,
				Overview: m.Overview,
			},
		}
	}

	if err := i.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (i *Ingester) recordID(m Movie) string {
	if i.opts.IDMode == IDContent {
		return ContentID(m)
	}
	return uuid.NewString()
}

// ContentID derives a stable id from a movie's title, year and overview.
func ContentID(m Movie) string {
	return uuid.NewSHA1(movieNamespace, []byte(m.Title+"|"+m.Year+"|"+m.Overview)).String()
}

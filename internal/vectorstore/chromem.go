package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/raphaelgruber/moviechat/internal/metrics"
)

// errNoEmbedder is returned by the collection's embedding func; the store
// always supplies precomputed vectors.
var errNoEmbedder = errors.New("chromem collection is queried by vector only")

// ChromemConfig holds embedded store configuration.
type ChromemConfig struct {
	// Path persists the database to a directory; empty keeps it in memory.
	Path       string
	Collection string
	Dimension  int
}

// ChromemStore is a Store backed by an embedded chromem-go database.
type ChromemStore struct {
	db         *chromem.DB
	name       string
	dimension  int
	metrics    *metrics.Collector
	logger     *slog.Logger
	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewChromem opens (or creates) the embedded database. An existing
// collection is picked up; a missing one is created by EnsureCollection.
func NewChromem(cfg ChromemConfig, collector *metrics.Collector, logger *slog.Logger) (*ChromemStore, error) {
	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, unavailable("open", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("chromem store opened", "path", cfg.Path, "collection", cfg.Collection)

	return &ChromemStore{
		db:         db,
		name:       cfg.Collection,
		dimension:  cfg.Dimension,
		metrics:    collector,
		logger:     logger,
		collection: db.GetCollection(cfg.Collection, noEmbedding),
	}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// EnsureCollection creates the collection if missing.
func (s *ChromemStore) EnsureCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection != nil {
		return nil
	}
	c, err := s.db.GetOrCreateCollection(s.name, s.collectionMetadata(), noEmbedding)
	if err != nil {
		return unavailable("create collection", err)
	}
	s.collection = c
	return nil
}

func (s *ChromemStore) collectionMetadata() map[string]string {
	return map[string]string{
		"dimension": strconv.Itoa(s.dimension),
		"distance":  "cosine",
	}
}

// RecreateCollection drops the collection and creates it empty.
func (s *ChromemStore) RecreateCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.name); err != nil {
		return unavailable("delete collection", err)
	}
	c, err := s.db.CreateCollection(s.name, s.collectionMetadata(), noEmbedding)
	if err != nil {
		return unavailable("create collection", err)
	}
	s.collection = c
	s.logger.Warn("chromem collection recreated", "collection", s.name)
	return nil
}

func (s *ChromemStore) current() (*chromem.Collection, error) {
	if s.collection == nil {
		return nil, fmt.Errorf("%w: collection %q not found", ErrStoreUnavailable, s.name)
	}
	return s.collection, nil
}

// Upsert adds records; chromem replaces documents with the same ID.
func (s *ChromemStore) Upsert(ctx context.Context, records []MovieRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.current()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Metadata:  stringMetadata(r.Payload),
			Embedding: r.Vector,
			Content:   r.Payload.Content(),
		})
	}

	start := time.Now()
	err = c.AddDocuments(ctx, docs, runtime.NumCPU())
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpVectorUpsert, duration)
		return fmt.Errorf("chromem upsert: %w", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorUpsert, duration)
	return nil
}

func stringMetadata(p MoviePayload) map[string]string {
	return map[string]string{
		FieldTitle:    p.Title,
		FieldYear:     p.Year,
		FieldGenre:    p.Genre,
		FieldRating:   strconv.FormatFloat(p.Rating, 'f', -1, 64),
		FieldOverview: p.Overview,
	}
}

// Search queries by vector. k is clamped to the collection size since
// chromem rejects larger result counts.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	if err := validateQuery(vector, k, s.dimension); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.current()
	if err != nil {
		return nil, err
	}

	n := min(k, c.Count())
	if n == 0 {
		return []ScoredDocument{}, nil
	}

	start := time.Now()
	results, err := c.QueryEmbedding(ctx, vector, n, nil, nil)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpVectorSearch, duration)
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorSearch, duration)

	docs := make([]ScoredDocument, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for key, v := range r.Metadata {
			meta[key] = v
		}
		docs = append(docs, ScoredDocument{
			Document: NewDocument(r.ID, PayloadFromMap(meta)),
			ID:       r.ID,
			Score:    r.Similarity,
		})
	}
	sortByScore(docs)
	return docs, nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.current()
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)

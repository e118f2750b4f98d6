package vectorstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SurrealConfig holds SurrealDB connection configuration.
type SurrealConfig struct {
	URL        string
	Namespace  string
	Database   string
	Username   string
	Password   string
	AuthLevel  string // "root" or "database"
	Collection string
	Dimension  int
}

// SurrealStore is a Store backed by a SurrealDB table with an HNSW index.
type SurrealStore struct {
	conn      *rews.Connection[*gorillaws.Connection]
	db        *surrealdb.DB
	table     string
	dimension int
	metrics   *metrics.Collector
	logger    logger.Logger
	exists    atomic.Bool
}

// NewSurreal connects to SurrealDB over an auto-reconnecting WebSocket.
func NewSurreal(ctx context.Context, cfg SurrealConfig, collector *metrics.Collector, log *slog.Logger) (*SurrealStore, error) {
	if !tableName.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("invalid collection name %q", cfg.Collection)
	}

	// Create logger adapter for SurrealDB SDK
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())

	// Use surrealcbor for CBOR encoding/decoding (handles SurrealDB custom tags)
	codec := surrealcbor.New()

	// gorillaws adds /rpc itself
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, unavailable("connect", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, unavailable("from connection", err)
	}

	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, unavailable("use", err)
	}

	sdkLogger.Info("SurrealDB connection established", "namespace", cfg.Namespace, "database", cfg.Database)
	return &SurrealStore{
		conn:      conn,
		db:        db,
		table:     cfg.Collection,
		dimension: cfg.Dimension,
		metrics:   collector,
		logger:    sdkLogger,
	}, nil
}

// schemaSQL defines the movie table and its vector index.
func (s *SurrealStore) schemaSQL() string {
	return fmt.Sprintf(`
		DEFINE TABLE IF NOT EXISTS %[1]s SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS title ON %[1]s TYPE string;
		DEFINE FIELD IF NOT EXISTS year ON %[1]s TYPE string;
		DEFINE FIELD IF NOT EXISTS genre ON %[1]s TYPE string;
		DEFINE FIELD IF NOT EXISTS rating ON %[1]s TYPE float;
		DEFINE FIELD IF NOT EXISTS overview ON %[1]s TYPE string;
		DEFINE FIELD IF NOT EXISTS embedding ON %[1]s TYPE array<float>;
		DEFINE INDEX IF NOT EXISTS %[1]s_embedding ON %[1]s FIELDS embedding HNSW DIMENSION %[2]d DIST COSINE TYPE F32;
	`, s.table, s.dimension)
}

// EnsureCollection defines the table and index if missing.
func (s *SurrealStore) EnsureCollection(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, s.schemaSQL(), nil); err != nil {
		return wrapSurrealError("define schema", err)
	}
	s.exists.Store(true)
	return nil
}

// RecreateCollection removes the table with its data and defines it again.
func (s *SurrealStore) RecreateCollection(ctx context.Context) error {
	s.logger.Warn("removing SurrealDB table", "table", s.table)
	if _, err := surrealdb.Query[any](ctx, s.db, fmt.Sprintf("REMOVE TABLE IF EXISTS %s", s.table), nil); err != nil {
		return wrapSurrealError("remove table", err)
	}
	s.exists.Store(false)
	return s.EnsureCollection(ctx)
}

// ensureExists fails with ErrStoreUnavailable when the table is missing.
// SurrealDB silently returns no rows for undefined tables.
func (s *SurrealStore) ensureExists(ctx context.Context) error {
	if s.exists.Load() {
		return nil
	}
	results, err := surrealdb.Query[bool](ctx, s.db,
		`RETURN object::keys((INFO FOR DB).tables) CONTAINS $table`,
		map[string]any{"table": s.table})
	if err != nil {
		return wrapSurrealError("info", err)
	}
	if results == nil || len(*results) == 0 || !(*results)[0].Result {
		return fmt.Errorf("%w: table %q not found", ErrStoreUnavailable, s.table)
	}
	s.exists.Store(true)
	return nil
}

// Upsert writes all records in one FOR statement.
func (s *SurrealStore) Upsert(ctx context.Context, records []MovieRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.dimension); err != nil {
		return err
	}
	if err := s.ensureExists(ctx); err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, r := range records {
		row := r.Payload.Map()
		row[FieldID] = r.ID
		row["embedding"] = r.Vector
		rows = append(rows, row)
	}

	sql := `
		FOR $r IN $records {
			UPSERT type::record($table, $r.id) SET
				title = $r.title,
				year = $r.year,
				genre = $r.genre,
				rating = <float>$r.rating,
				overview = $r.overview,
				embedding = $r.embedding;
		};
	`
	start := time.Now()
	_, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"table":   s.table,
		"records": rows,
	})
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpVectorUpsert, duration)
		return wrapSurrealError("upsert", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorUpsert, duration)
	return nil
}

type surrealHit struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Year     string  `json:"year"`
	Genre    string  `json:"genre"`
	Rating   float64 `json:"rating"`
	Overview string  `json:"overview"`
	Score    float64 `json:"score"`
}

// Search runs an HNSW KNN query (ef=40) and scores hits by cosine similarity.
func (s *SurrealStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	if err := validateQuery(vector, k, s.dimension); err != nil {
		return nil, err
	}
	if err := s.ensureExists(ctx); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT record::id(id) AS id, title, year, genre, rating, overview,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM %s
		WHERE embedding <|%d,40|> $emb
		ORDER BY score DESC
	`, s.table, k)

	start := time.Now()
	results, err := surrealdb.Query[[]surrealHit](ctx, s.db, sql, map[string]any{"emb": vector})
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpVectorSearch, duration)
		return nil, wrapSurrealError("search", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorSearch, duration)

	if results == nil || len(*results) == 0 {
		return []ScoredDocument{}, nil
	}

	hits := (*results)[0].Result
	docs := make([]ScoredDocument, 0, len(hits))
	for _, h := range hits {
		payload := MoviePayload{Title: h.Title, Year: h.Year, Genre: h.Genre, Rating: h.Rating, Overview: h.Overview}
		docs = append(docs, ScoredDocument{
			Document: NewDocument(h.ID, payload),
			ID:       h.ID,
			Score:    float32(h.Score),
		})
	}
	sortByScore(docs)
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

// Count returns the number of rows in the table.
func (s *SurrealStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureExists(ctx); err != nil {
		return 0, err
	}
	results, err := surrealdb.Query[[]struct {
		C int `json:"c"`
	}](ctx, s.db, fmt.Sprintf("SELECT count() AS c FROM %s GROUP ALL", s.table), nil)
	if err != nil {
		return 0, wrapSurrealError("count", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

// Close closes the SurrealDB connection.
func (s *SurrealStore) Close() error {
	s.logger.Info("closing SurrealDB connection")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Close(ctx)
}

// wrapSurrealError keeps database-level query errors as they are and treats
// everything else as a transport failure.
func wrapSurrealError(op string, err error) error {
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		if strings.Contains(queryErr.Message, "does not exist") {
			return unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}

var _ Store = (*SurrealStore)(nil)

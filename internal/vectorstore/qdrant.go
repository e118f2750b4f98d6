package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	qdrantRESTPort = 6333
	qdrantGRPCPort = 6334
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
}

// QdrantStore is a Store backed by a Qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// parseQdrantURL maps a Qdrant URL to a gRPC client config. An https scheme
// enables TLS; the REST port (or no port) maps to the gRPC port.
func parseQdrantURL(raw string) (*qdrant.Config, error) {
	// Accept bare host[:port] as well.
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid qdrant url %q", raw)
	}

	port := qdrantGRPCPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port %q", p)
		}
		if n != qdrantRESTPort {
			port = n
		}
	}

	return &qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		UseTLS: u.Scheme == "https",
	}, nil
}

// NewQdrant creates a Qdrant-backed store. The gRPC connection is
// established lazily on the first call.
func NewQdrant(cfg QdrantConfig, collector *metrics.Collector, logger *slog.Logger) (*QdrantStore, error) {
	qcfg, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	qcfg.APIKey = cfg.APIKey
	qcfg.SkipCompatibilityCheck = true

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, unavailable("connect", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("qdrant client created", "host", qcfg.Host, "port", qcfg.Port, "tls", qcfg.UseTLS, "collection", cfg.Collection)

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		metrics:    collector,
		logger:     logger,
	}, nil
}

// wrapQdrantError maps gRPC failures to store sentinels. Transport and
// not-found failures become ErrStoreUnavailable.
func (s *QdrantStore) wrapQdrantError(op string, err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", op, err)
	default:
		return unavailable(op, err)
	}
}

// EnsureCollection creates the collection with cosine distance if missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return s.wrapQdrantError("collection exists", err)
	}
	if exists {
		return nil
	}
	return s.create(ctx)
}

func (s *QdrantStore) create(ctx context.Context) error {
	s.logger.Info("creating qdrant collection", "collection", s.collection, "dimension", s.dimension)
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return s.wrapQdrantError("create collection", err)
	}
	return nil
}

// RecreateCollection drops the collection, if present, and creates it empty.
func (s *QdrantStore) RecreateCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return s.wrapQdrantError("collection exists", err)
	}
	if exists {
		s.logger.Warn("dropping qdrant collection", "collection", s.collection)
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return s.wrapQdrantError("delete collection", err)
		}
	}
	return s.create(ctx)
}

// Upsert writes records and waits for the write to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, records []MovieRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, s.dimension); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload, err := qdrant.TryValueMap(r.Payload.Map())
		if err != nil {
			return fmt.Errorf("payload for %s: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		})
	}

	start := time.Now()
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpVectorUpsert, duration)
		return s.wrapQdrantError("upsert", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorUpsert, duration)
	s.logger.Debug("qdrant upsert", "collection", s.collection, "points", len(points), "duration_ms", duration.Milliseconds())
	return nil
}

// Search runs a cosine nearest-neighbour query.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error) {
	if err := validateQuery(vector, k, s.dimension); err != nil {
		return nil, err
	}

	start := time.Now()
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordFailure(metrics.OpVectorSearch, duration)
		return nil, s.wrapQdrantError("query", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorSearch, duration)

	docs := make([]ScoredDocument, 0, len(points))
	for _, p := range points {
		id := p.GetId().GetUuid()
		if id == "" {
			id = strconv.FormatUint(p.GetId().GetNum(), 10)
		}
		payload := payloadFromQdrant(p.GetPayload())
		docs = append(docs, ScoredDocument{
			Document: NewDocument(id, payload),
			ID:       id,
			Score:    p.GetScore(),
		})
	}
	sortByScore(docs)
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

func payloadFromQdrant(values map[string]*qdrant.Value) MoviePayload {
	m := make(map[string]any, len(values))
	for key, v := range values {
		switch v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			m[key] = v.GetStringValue()
		case *qdrant.Value_DoubleValue:
			m[key] = v.GetDoubleValue()
		case *qdrant.Value_IntegerValue:
			m[key] = v.GetIntegerValue()
		}
	}
	return PayloadFromMap(m)
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, s.wrapQdrantError("count", err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*QdrantStore)(nil)

// Package vectorstore persists movie records with their embeddings and runs
// nearest-neighbour search over them. Qdrant, SurrealDB and an embedded
// chromem-go collection are supported behind the same Store interface.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sentinel errors for vector store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrStoreUnavailable indicates the store could not be reached or the
	// collection does not exist.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidK indicates a search with k < 1.
	ErrInvalidK = errors.New("k must be at least 1")
)

// Payload field names shared by every backend.
const (
	FieldTitle    = "title"
	FieldYear     = "year"
	FieldGenre    = "genre"
	FieldRating   = "rating"
	FieldOverview = "overview"
	FieldID       = "id"
)

// Store is a named collection of movie vectors.
// Implementations are safe for concurrent use.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context) error
	// RecreateCollection drops the collection and creates it empty.
	RecreateCollection(ctx context.Context) error
	// Upsert writes records, overwriting records with the same ID.
	Upsert(ctx context.Context, records []MovieRecord) error
	// Search returns at most k documents ordered by non-increasing cosine similarity.
	Search(ctx context.Context, vector []float32, k int) ([]ScoredDocument, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Close releases the underlying connection.
	Close() error
}

// MoviePayload is the stored metadata of one movie.
type MoviePayload struct {
	Title    string  `json:"title"`
	Year     string  `json:"year"`
	Genre    string  `json:"genre"`
	Rating   float64 `json:"rating"`
	Overview string  `json:"overview"`
}

// MovieRecord is one point in the collection.
type MovieRecord struct {
	ID      string
	Vector  []float32
	Payload MoviePayload
}

// Document is a retrieved movie rendered as text plus its metadata.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// ScoredDocument is a Document with its similarity to the query vector.
type ScoredDocument struct {
	Document
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// Content renders the payload the way documents are shown to the model.
func (p MoviePayload) Content() string {
	var sb strings.Builder
	sb.WriteString("Title: ")
	sb.WriteString(p.Title)
	if p.Year != "" {
		sb.WriteString(" (" + p.Year + ")")
	}
	sb.WriteString("\nGenre: ")
	sb.WriteString(p.Genre)
	sb.WriteString("\nRating: ")
	sb.WriteString(strconv.FormatFloat(p.Rating, 'f', -1, 64))
	sb.WriteString("\nOverview: ")
	sb.WriteString(p.Overview)
	return sb.String()
}

// Map returns the payload as a flat field map.
func (p MoviePayload) Map() map[string]any {
	return map[string]any{
		FieldTitle:    p.Title,
		FieldYear:     p.Year,
		FieldGenre:    p.Genre,
		FieldRating:   p.Rating,
		FieldOverview: p.Overview,
	}
}

// PayloadFromMap reads a payload from a field map, tolerating missing
// fields and numeric years or ratings stored as strings.
func PayloadFromMap(m map[string]any) MoviePayload {
	return MoviePayload{
		Title:    asString(m[FieldTitle]),
		Year:     asString(m[FieldYear]),
		Genre:    asString(m[FieldGenre]),
		Rating:   asFloat(m[FieldRating]),
		Overview: asString(m[FieldOverview]),
	}
}

// NewDocument builds the retrievable Document for a stored payload.
func NewDocument(id string, p MoviePayload) Document {
	meta := p.Map()
	meta[FieldID] = id
	return Document{Content: p.Content(), Metadata: meta}
}

// Title returns the document's movie title, if any.
func (d Document) Title() string {
	return asString(d.Metadata[FieldTitle])
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// validateRecords checks IDs and vector lengths before any write.
func validateRecords(records []MovieRecord, dimension int) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d: empty id", i)
		}
		if len(r.Vector) != dimension {
			return fmt.Errorf("%w: record %s has %d, want %d", ErrDimensionMismatch, r.ID, len(r.Vector), dimension)
		}
	}
	return nil
}

// validateQuery checks a search request.
func validateQuery(vector []float32, k, dimension int) error {
	if k < 1 {
		return ErrInvalidK
	}
	if len(vector) != dimension {
		return fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), dimension)
	}
	return nil
}

// sortByScore orders documents by descending score, keeping backend order on ties.
func sortByScore(docs []ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
}

// unavailable wraps err as ErrStoreUnavailable with an operation label.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/moviechat/internal/llm"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// maxSearchK bounds the k a caller may request.
const maxSearchK = 50

// noMovies is returned alongside error results so the output still
// matches the schema.
var noMovies = SearchOutput{Movies: []MovieHit{}}

// SearchInput defines the input schema for the search_movies tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"Plot, mood or theme to search for"`
	K     int    `json:"k,omitempty" jsonschema:"Number of movies to return, 1-50, default 3"`
}

// MovieHit is one search result.
type MovieHit struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Year     string  `json:"year,omitempty"`
	Genre    string  `json:"genre,omitempty"`
	Rating   float64 `json:"rating"`
	Overview string  `json:"overview"`
	Score    float32 `json:"score"`
}

// SearchOutput is the result of search_movies.
type SearchOutput struct {
	Movies []MovieHit `json:"movies"`
	Count  int        `json:"count"`
}

// NewSearchHandler creates the search_movies handler. Results are ordered
// by similarity to the query.
func NewSearchHandler(deps *Dependencies) mcp.ToolHandlerFor[SearchInput, SearchOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		if strings.TrimSpace(input.Query) == "" {
			return ErrorResult("Query cannot be empty", "Describe the movie you are looking for"), noMovies, nil
		}
		if input.K < 0 || input.K > maxSearchK {
			return ErrorResult("k must be 1-50", "Reduce k or omit it"), noMovies, nil
		}

		scored, err := deps.Retriever.RetrieveScored(ctx, input.Query, input.K)
		if err != nil {
			deps.Logger.Error("search failed", "error", err)
			return ErrorResult("Search failed", searchHint(err)), noMovies, nil
		}

		out := SearchOutput{Movies: make([]MovieHit, len(scored)), Count: len(scored)}
		for i, doc := range scored {
			p := vectorstore.PayloadFromMap(doc.Metadata)
			out.Movies[i] = MovieHit{
				ID:       doc.ID,
				Title:    p.Title,
				Year:     p.Year,
				Genre:    p.Genre,
				Rating:   p.Rating,
				Overview: p.Overview,
				Score:    doc.Score,
			}
		}

		deps.Logger.Info("search completed", "query", truncateQuery(input.Query), "results", out.Count)
		return JSONResult(out), out, nil
	}
}

func searchHint(err error) string {
	switch {
	case errors.Is(err, llm.ErrEmbeddingService):
		return "The embedding service is unavailable"
	case errors.Is(err, vectorstore.ErrStoreUnavailable):
		return "The movie database may be unavailable or not ingested yet"
	default:
		return ""
	}
}

// truncateQuery shortens a query to 30 bytes for logging.
func truncateQuery(q string) string {
	if len(q) > 30 {
		return q[:30] + "..."
	}
	return q
}

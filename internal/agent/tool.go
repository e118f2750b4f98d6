package agent

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/moviechat/internal/retrieval"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/tmc/langchaingo/tools"
)

// Observation is what a tool returns to the reasoning loop.
type Observation struct {
	Text    string
	Sources []vectorstore.Document
}

// Tool is a langchaingo tool that also reports the documents it used.
type Tool interface {
	tools.Tool
	Run(ctx context.Context, input string) (Observation, error)
}

const (
	SearchToolName = "search_movies"
	QAToolName     = "ask_movies"
)

// SearchTool looks up movies in the vector store.
type SearchTool struct {
	retriever    *retrieval.Retriever
	k            int
	contextChars int
}

// NewSearchTool creates the movie search tool. k <= 0 uses the retriever
// default and contextChars <= 0 the default context size.
func NewSearchTool(r *retrieval.Retriever, k, contextChars int) *SearchTool {
	return &SearchTool{retriever: r, k: k, contextChars: contextChars}
}

func (t *SearchTool) Name() string { return SearchToolName }

func (t *SearchTool) Description() string {
	return "Searches the IMDB movie database by meaning. Input is a search query such as " +
		"a plot description, title, genre or theme. Returns the closest movies with title, " +
		"year, genre, rating and overview."
}

func (t *SearchTool) Run(ctx context.Context, input string) (Observation, error) {
	docs, err := t.retriever.Retrieve(ctx, input, t.k)
	if err != nil {
		return Observation{}, fmt.Errorf("search movies: %w", err)
	}
	return Observation{Text: retrieval.BuildContext(docs, t.contextChars), Sources: docs}, nil
}

func (t *SearchTool) Call(ctx context.Context, input string) (string, error) {
	obs, err := t.Run(ctx, input)
	return obs.Text, err
}

// QATool answers a movie question with the retrieval-QA chain.
type QATool struct {
	qa *retrieval.QA
}

// NewQATool wraps a QA chain as a tool.
func NewQATool(qa *retrieval.QA) *QATool {
	return &QATool{qa: qa}
}

func (t *QATool) Name() string { return QAToolName }

func (t *QATool) Description() string {
	return "Answers a question about movies from the IMDB database. Input is a complete " +
		"question. Useful for questions about plots, genres, years and ratings."
}

func (t *QATool) Run(ctx context.Context, input string) (Observation, error) {
	answer, err := t.qa.Ask(ctx, input)
	if err != nil {
		return Observation{}, fmt.Errorf("ask movies: %w", err)
	}
	return Observation{Text: answer.Text, Sources: answer.Sources}, nil
}

func (t *QATool) Call(ctx context.Context, input string) (string, error) {
	obs, err := t.Run(ctx, input)
	return obs.Text, err
}

var (
	_ Tool = (*SearchTool)(nil)
	_ Tool = (*QATool)(nil)
)

package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/raphaelgruber/moviechat/internal/retrieval"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms/fake"
)

// axisEmbedder puts queries mentioning a witch on the first axis and
// everything else on the second.
type axisEmbedder struct{}

func (axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "witch") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func newTestRetriever(t *testing.T) *retrieval.Retriever {
	t.Helper()
	ctx := context.Background()
	store, err := vectorstore.NewChromem(vectorstore.ChromemConfig{Collection: "imdb_movies", Dimension: 2}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx))
	require.NoError(t, store.Upsert(ctx, []vectorstore.MovieRecord{
		{ID: "b7e1d9a0-0000-4000-8000-000000000001", Vector: []float32{1, 0.05}, Payload: vectorstore.MoviePayload{Title: "The Witch", Year: "2015", Genre: "Horror", Rating: 6.9, Overview: "A Puritan family is torn apart."}},
		{ID: "b7e1d9a0-0000-4000-8000-000000000002", Vector: []float32{0.05, 1}, Payload: vectorstore.MoviePayload{Title: "Heat", Year: "1995", Genre: "Crime", Rating: 8.3, Overview: "A heist in Los Angeles."}},
	}))
	return retrieval.New(axisEmbedder{}, store, 1, nil)
}

func TestSearchTool(t *testing.T) {
	tool := NewSearchTool(newTestRetriever(t), 0, 0)
	assert.Equal(t, SearchToolName, tool.Name())
	assert.NotEmpty(t, tool.Description())

	obs, err := tool.Run(context.Background(), "witch in the woods")
	require.NoError(t, err)
	require.Len(t, obs.Sources, 1)
	assert.Equal(t, "The Witch", obs.Sources[0].Title())
	assert.True(t, strings.HasPrefix(obs.Text, "[1] Title: The Witch (2015)"))

	text, err := tool.Call(context.Background(), "heist")
	require.NoError(t, err)
	assert.Contains(t, text, "Heat")
}

func TestQATool(t *testing.T) {
	model := fake.NewFakeLLM([]string{"The Witch (2015)."})
	tool := NewQATool(retrieval.NewQA(model, newTestRetriever(t), 1))
	assert.Equal(t, QAToolName, tool.Name())

	obs, err := tool.Run(context.Background(), "Which witch film is there?")
	require.NoError(t, err)
	assert.Equal(t, "The Witch (2015).", obs.Text)
	require.Len(t, obs.Sources, 1)
	assert.Equal(t, "The Witch", obs.Sources[0].Title())
}

package app

import (
	"context"
	"strings"
	"testing"

	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/raphaelgruber/moviechat/internal/ingest"
	"github.com/raphaelgruber/moviechat/internal/llm"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/fake"
)

const testDim = 3

const moviesCSV = `Series_Title,Released_Year,Genre,IMDB_Rating,Overview
The Witch,2015,Horror,6.9,A Puritan family is torn apart by witchcraft.
Heat,1995,Crime,8.3,A crew of thieves plans one last heist.
`

func keywordEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		text = strings.ToLower(text)
		v := []float32{0, 0, 0.1}
		if strings.Contains(text, "witch") || strings.Contains(text, "puritan") {
			v[0] = 1
		}
		if strings.Contains(text, "heist") || strings.Contains(text, "thieves") {
			v[1] = 1
		}
		out[i] = v
	}
	return out, nil
}

func testConfig(mode string) config.Config {
	cfg := config.Defaults()
	cfg.VectorBackend = config.BackendChromem
	cfg.VectorDimension = testDim
	cfg.ToolMode = mode
	cfg.RetrievalK = 1
	cfg.MemoryMaxTurns = 4
	return cfg
}

func newTestApp(t *testing.T, mode string, responses []string) *App {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig(mode)
	mc := metrics.NewCollector()

	store, err := NewStore(ctx, cfg, mc, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx))

	client, err := embeddings.NewEmbedder(embeddings.EmbedderClientFunc(keywordEmbeddings))
	require.NoError(t, err)
	embedder := llm.NewEmbedderFrom(client, "keyword", testDim, mc)
	model := llm.NewModelFrom(fake.NewFakeLLM(responses), "fake", 0.4, mc)

	a := Assemble(cfg, embedder, store, model, mc, nil)
	t.Cleanup(func() { _ = a.Close() })

	stats, err := a.Ingester(ingest.Options{IDMode: ingest.IDContent}).Ingest(ctx, strings.NewReader(moviesCSV), 0)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Upserted)
	return a
}

func TestAssembleSearchMode(t *testing.T) {
	a := newTestApp(t, config.ToolModeSearch, []string{
		`{"action": "search_movies", "action_input": "puritan witch"}`,
		`{"action": "Final Answer", "action_input": "You mean The Witch (2015)."}`,
	})

	docs, err := a.Retriever.Retrieve(context.Background(), "puritan family", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1, "k comes from configuration")
	assert.Equal(t, "The Witch", docs[0].Title())

	reply := a.Sessions.Create().Ask(context.Background(), "Which film is about a Puritan family?")
	assert.Equal(t, agent.OutcomeAnswered, reply.Outcome)
	assert.Equal(t, "You mean The Witch (2015).", reply.Answer)
	assert.Equal(t, 1, reply.ToolCalls)
	require.Len(t, reply.Sources, 1)
	assert.Equal(t, "The Witch", reply.Sources[0].Title())
}

func TestAssembleQAMode(t *testing.T) {
	a := newTestApp(t, config.ToolModeQA, []string{
		`{"action": "ask_movies", "action_input": "Which film is about a heist?"}`,
		`Heat (1995) is about a heist.`,
		`{"action": "Final Answer", "action_input": "Heat (1995)."}`,
	})

	reply := a.Sessions.Create().Ask(context.Background(), "Which film is about a heist?")
	assert.Equal(t, agent.OutcomeAnswered, reply.Outcome)
	assert.Equal(t, "Heat (1995).", reply.Answer)
	require.Len(t, reply.Sources, 1)
	assert.Equal(t, "Heat", reply.Sources[0].Title())
}

func TestAssembleAppliesLimits(t *testing.T) {
	a := newTestApp(t, config.ToolModeSearch, []string{"unused"})

	assert.Equal(t, agent.DefaultMaxToolCalls, a.Orchestrator.Config().MaxToolCalls)
	assert.Equal(t, agent.DefaultMaxTurnDuration, a.Orchestrator.Config().MaxTurnDuration)
	assert.Equal(t, 1, a.Retriever.DefaultK())

	deps := a.ToolDependencies()
	assert.Same(t, a.Retriever, deps.Retriever)
	assert.Same(t, a.Sessions, deps.Sessions)
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(config.ToolModeSearch)
	cfg.VectorBackend = "cassandra"

	_, err := NewStore(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestNewStoreChromemCount(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, testConfig(config.ToolModeSearch), nil, nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*vectorstore.ChromemStore)
	assert.True(t, ok)

	require.NoError(t, store.EnsureCollection(ctx))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

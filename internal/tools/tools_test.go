package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/retrieval"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/raphaelgruber/moviechat/internal/tools"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// axisEmbedder maps witch queries to the first axis and the rest to the second.
type axisEmbedder struct{ err error }

func (e axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if strings.Contains(strings.ToLower(text), "witch") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

// contextAnswerer answers with the rendered conversation it was given.
type contextAnswerer struct{ outcome agent.Outcome }

func (a contextAnswerer) Answer(_ context.Context, req agent.Request) agent.Response {
	outcome := a.outcome
	if outcome == "" {
		outcome = agent.OutcomeAnswered
	}
	return agent.Response{Answer: "context was: " + req.Context, Outcome: outcome, ToolCalls: 1}
}

type englishDetector struct{}

func (englishDetector) Detect(string) (language.Tag, error) { return language.English, nil }

func newDeps(t *testing.T, embedder axisEmbedder, answerer session.Answerer) *tools.Dependencies {
	t.Helper()
	ctx := context.Background()
	store, err := vectorstore.NewChromem(vectorstore.ChromemConfig{Collection: "imdb_movies", Dimension: 2}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx))
	require.NoError(t, store.Upsert(ctx, []vectorstore.MovieRecord{
		{ID: "6f1c2a3e-0000-4000-8000-000000000001", Vector: []float32{1, 0.1}, Payload: vectorstore.MoviePayload{Title: "The Witch", Year: "2015", Genre: "Horror", Rating: 6.9, Overview: "A Puritan family is torn apart by witchcraft."}},
		{ID: "6f1c2a3e-0000-4000-8000-000000000002", Vector: []float32{0.1, 1}, Payload: vectorstore.MoviePayload{Title: "Heat", Year: "1995", Genre: "Crime", Rating: 8.3, Overview: "A group of professional bank robbers."}},
	}))

	logger := testLogger()
	return &tools.Dependencies{
		Retriever: retrieval.New(embedder, store, 0, logger),
		Sessions:  session.NewManager(answerer, language.NewPolicy(englishDetector{}, logger), logger),
		Logger:    logger,
	}
}

func connect(t *testing.T, deps *tools.Dependencies) *mcp.ClientSession {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "test-moviechat", Version: "0.0.1-test"}, nil)
	tools.RegisterAll(server, deps)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go func() { _ = server.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect successfully")
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content should be TextContent")
	return result, text.Text
}

func TestListTools(t *testing.T) {
	cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{}))

	result, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	assert.ElementsMatch(t, []string{tools.PingToolName, tools.SearchToolName, tools.AskToolName}, names)
}

func TestPingTool(t *testing.T) {
	cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{}))

	result, text := callTool(t, cs, tools.PingToolName, map[string]any{})
	assert.Equal(t, "pong", text)
	assert.False(t, result.IsError)

	_, text = callTool(t, cs, tools.PingToolName, map[string]any{"echo": "hello world"})
	assert.Equal(t, "hello world", text)
}

func TestSearchMoviesTool(t *testing.T) {
	cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{}))

	result, text := callTool(t, cs, tools.SearchToolName, map[string]any{"query": "a witch haunts a family", "k": 1})
	require.False(t, result.IsError, text)

	var out tools.SearchOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "The Witch", out.Movies[0].Title)
	assert.Equal(t, "2015", out.Movies[0].Year)
	assert.Equal(t, 6.9, out.Movies[0].Rating)

	_, text = callTool(t, cs, tools.SearchToolName, map[string]any{"query": "bank robbery"})
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Equal(t, 2, out.Count, "default k is 3 and only two movies exist")
	assert.Equal(t, "Heat", out.Movies[0].Title)
	assert.GreaterOrEqual(t, out.Movies[0].Score, out.Movies[1].Score)
}

func TestSearchMoviesToolErrors(t *testing.T) {
	tests := []struct {
		name     string
		embedder axisEmbedder
		args     map[string]any
		want     string
	}{
		{"empty query", axisEmbedder{}, map[string]any{"query": "  "}, "Query cannot be empty"},
		{"k too large", axisEmbedder{}, map[string]any{"query": "witch", "k": 500}, "k must be 1-50"},
		{"embedding down", axisEmbedder{err: errors.New("connection refused")}, map[string]any{"query": "witch"}, "Search failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := connect(t, newDeps(t, tt.embedder, contextAnswerer{}))
			result, text := callTool(t, cs, tools.SearchToolName, tt.args)
			assert.True(t, result.IsError)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestAskMoviesTool(t *testing.T) {
	cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{}))

	result, text := callTool(t, cs, tools.AskToolName, map[string]any{
		"question": "What year was it released?",
		"prior_turns": []map[string]string{
			{"role": "user", "content": "Tell me about The Witch"},
			{"role": "assistant", "content": "It is a 2015 horror film."},
		},
	})
	assert.False(t, result.IsError)
	assert.Equal(t, "context was: user: Tell me about The Witch\nassistant: It is a 2015 horror film.", text)
}

func TestAskMoviesToolErrors(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{}))
		result, text := callTool(t, cs, tools.AskToolName, map[string]any{"question": ""})
		assert.True(t, result.IsError)
		assert.Contains(t, text, "Question cannot be empty")
	})

	t.Run("invalid role", func(t *testing.T) {
		cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{}))
		result, text := callTool(t, cs, tools.AskToolName, map[string]any{
			"question":    "hi",
			"prior_turns": []map[string]string{{"role": "critic", "content": "meh"}},
		})
		assert.True(t, result.IsError)
		assert.Contains(t, text, "invalid role")
	})

	t.Run("failed turn", func(t *testing.T) {
		cs := connect(t, newDeps(t, axisEmbedder{}, contextAnswerer{outcome: agent.OutcomeTimeout}))
		result, _ := callTool(t, cs, tools.AskToolName, map[string]any{"question": "hi"})
		assert.True(t, result.IsError)
	})
}

package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/client"
	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/server"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// witchAnswerer cites The Witch and echoes the conversation it saw.
type witchAnswerer struct{}

func (witchAnswerer) Answer(_ context.Context, req agent.Request) agent.Response {
	return agent.Response{
		Answer:    "[" + req.Context + "] " + req.Query,
		Outcome:   agent.OutcomeAnswered,
		ToolCalls: 1,
		Sources: []vectorstore.Document{
			vectorstore.NewDocument("6f1c2a3e-0000-4000-8000-000000000001", vectorstore.MoviePayload{Title: "The Witch", Year: "2015"}),
		},
	}
}

type englishDetector struct{}

func (englishDetector) Detect(string) (language.Tag, error) { return language.English, nil }

func newClient(t *testing.T) *client.Client {
	t.Helper()
	manager := session.NewManager(witchAnswerer{}, language.NewPolicy(englishDetector{}, nil), nil)
	ts := httptest.NewServer(server.New(manager, metrics.NewCollector(), nil).Handler())
	t.Cleanup(ts.Close)
	return client.New(ts.URL + "/query")
}

func TestHealth(t *testing.T) {
	c := newClient(t)
	assert.NoError(t, c.Health(context.Background()))
}

func TestNewAddsQueryPath(t *testing.T) {
	assert.Equal(t, "http://localhost:9000/query", client.New("http://localhost:9000").Endpoint())
	assert.Equal(t, "http://localhost:9000/query", client.New("http://localhost:9000/").Endpoint())
	assert.Equal(t, "http://example.com/graphql", client.New("http://example.com/graphql").Endpoint())

	t.Setenv("MOVIECHAT_SERVER_URL", "")
	assert.Equal(t, "http://localhost:8484/query", client.New("").Endpoint())
}

func TestUnreachableServer(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	assert.Error(t, c.Health(context.Background()))
}

func TestAsk(t *testing.T) {
	c := newClient(t)

	reply, err := c.Ask(context.Background(), "Rating?", []client.Turn{
		{Role: "user", Content: "Tell me about The Witch"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[user: Tell me about The Witch] Rating?", reply.Answer)
	assert.Equal(t, "answered", reply.Outcome)
	assert.Equal(t, "en", reply.Language)
	require.Len(t, reply.Sources, 1)
	assert.Equal(t, "The Witch", reply.Sources[0].Title)
	assert.Equal(t, "2015", reply.Sources[0].Year)
	assert.Equal(t, "6f1c2a3e-0000-4000-8000-000000000001", reply.Sources[0].ID)
	assert.Empty(t, reply.SessionID)

	_, err = c.Ask(context.Background(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")

	_, err = c.Ask(context.Background(), "Rating?", []client.Turn{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrator")
}

func TestSessions(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	id, err := c.CreateSession(ctx)
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, id, "first")
	require.NoError(t, err)
	reply, err := c.SendMessage(ctx, id, "second")
	require.NoError(t, err)
	assert.Equal(t, id, reply.SessionID)
	assert.Equal(t, "[user: first\nassistant: [] first] second", reply.Answer)

	history, err := c.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sessions)

	require.NoError(t, c.ResetSession(ctx, id))
	history, err = c.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, c.DeleteSession(ctx, id))
	_, err = c.History(ctx, id)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestChatConn(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := c.Chat(ctx)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotEmpty(t, conn.SessionID())

	reply, err := conn.Send(ctx, "Tell me about The Witch")
	require.NoError(t, err)
	assert.Equal(t, "[] Tell me about The Witch", reply.Answer)
	assert.Equal(t, conn.SessionID(), reply.SessionID)

	reply, err = conn.Send(ctx, "Its rating?")
	require.NoError(t, err)
	assert.Contains(t, reply.Answer, "user: Tell me about The Witch")

	require.NoError(t, conn.Reset(ctx))
	reply, err = conn.Send(ctx, "Fresh start")
	require.NoError(t, err)
	assert.Equal(t, "[] Fresh start", reply.Answer)

	_, err = conn.Send(ctx, "   ")
	assert.ErrorContains(t, err, "query is required")

	reply, err = conn.Send(ctx, "Still usable")
	require.NoError(t, err)
	assert.Contains(t, reply.Answer, "Still usable")
}

func TestChatConnCloseRemovesSession(t *testing.T) {
	manager := session.NewManager(witchAnswerer{}, language.NewPolicy(englishDetector{}, nil), nil)
	ts := httptest.NewServer(server.New(manager, metrics.NewCollector(), nil).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := client.New(ts.URL+"/query").Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Len())

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return manager.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

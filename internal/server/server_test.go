package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoAnswerer answers every query by echoing it and remembers requests.
type echoAnswerer struct {
	mu       sync.Mutex
	requests []agent.Request
}

func (e *echoAnswerer) Answer(_ context.Context, req agent.Request) agent.Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return agent.Response{Answer: "answer to " + req.Query, Outcome: agent.OutcomeAnswered}
}

func (e *echoAnswerer) last() agent.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

type englishDetector struct{}

func (englishDetector) Detect(string) (language.Tag, error) { return language.English, nil }

func newTestServer(t *testing.T) (*Server, *echoAnswerer, *metrics.Collector) {
	t.Helper()
	answerer := &echoAnswerer{}
	collector := metrics.NewCollector()
	manager := session.NewManager(answerer, language.NewPolicy(englishDetector{}, nil), nil)
	return New(manager, collector, nil), answerer, collector
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func postQuery(t *testing.T, h http.Handler, query string, vars map[string]any) graphQLResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp graphQLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestQueryEndpoint(t *testing.T) {
	srv, answerer, _ := newTestServer(t)

	resp := postQuery(t, srv.Handler(), `
		mutation Ask($query: String!, $priorTurns: [TurnInput!]) {
			ask(query: $query, priorTurns: $priorTurns) { answer outcome language }
		}
	`, map[string]any{
		"query":      "What is its rating?",
		"priorTurns": []map[string]any{{"role": "user", "content": "Tell me about The Witch"}},
	})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"ask": {"answer": "answer to What is its rating?", "outcome": "answered", "language": "en"}}`, string(resp.Data))
	assert.Equal(t, "user: Tell me about The Witch", answerer.last().Context)
}

func TestQueryRejectsSnakeCaseArguments(t *testing.T) {
	srv, answerer, _ := newTestServer(t)

	resp := postQuery(t, srv.Handler(), `mutation { ask(query: "hi", prior_turns: []) { answer } }`, nil)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0].Message, `Unknown argument "prior_turns"`)
	answerer.mu.Lock()
	defer answerer.mu.Unlock()
	assert.Empty(t, answerer.requests)
}

func TestPlayground(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/playground", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "moviechat GraphQL")
}

func TestStatsAndMetrics(t *testing.T) {
	srv, _, collector := newTestServer(t)
	h := srv.Handler()

	srv.sessions.Create()
	collector.RecordTurn(string(agent.OutcomeAnswered), 2*time.Second, 1)

	resp := postQuery(t, h, `{ stats { sessions turn { count } outcomes { outcome count } } }`, nil)
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"stats": {"sessions": 1, "turn": {"count": 1}, "outcomes": [{"outcome": "answered", "count": 1}]}}`, string(resp.Data))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `moviechat_turns_total{outcome="answered"} 1`)
}

func TestHTTPServerWriteTimeoutOutlastsTurn(t *testing.T) {
	srv, _, _ := newTestServer(t)

	hs := srv.HTTPServer(":8484", 120*time.Second)
	assert.Equal(t, ":8484", hs.Addr)
	assert.Equal(t, 150*time.Second, hs.WriteTimeout)
	assert.Greater(t, hs.WriteTimeout, 120*time.Second)

	hs = srv.HTTPServer(":8484", 0)
	assert.Equal(t, defaultTurnBudget+writeMargin, hs.WriteTimeout)
}

// wsMessage is a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func dialGraphQL(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(rawURL, "http") + "/query"
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	ack := readMessage(t, conn)
	require.Equal(t, "connection_ack", ack.Type)
	return conn
}

// readMessage returns the next protocol message, skipping keep-alives.
func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "ka", "ping", "pong":
			continue
		}
		return msg
	}
}

// operation runs one operation and returns the payloads it produced.
func operation(t *testing.T, conn *websocket.Conn, id, query string, vars map[string]any) []graphQLResponse {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsMessage{ID: id, Type: "subscribe", Payload: payload}))

	var out []graphQLResponse
	for {
		msg := readMessage(t, conn)
		require.Equal(t, id, msg.ID)
		switch msg.Type {
		case "next":
			var resp graphQLResponse
			require.NoError(t, json.Unmarshal(msg.Payload, &resp))
			out = append(out, resp)
		case "complete":
			return out
		case "error":
			var resp graphQLResponse
			require.NoError(t, json.Unmarshal(msg.Payload, &resp.Errors))
			return append(out, resp)
		default:
			t.Fatalf("unexpected %s message: %s", msg.Type, msg.Payload)
		}
	}
}

func createSession(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	resp := operation(t, conn, "create", `mutation { createSession { id } }`, nil)
	require.Len(t, resp, 1)
	var data struct {
		CreateSession struct {
			ID string `json:"id"`
		} `json:"createSession"`
	}
	require.NoError(t, json.Unmarshal(resp[0].Data, &data))
	require.NotEmpty(t, data.CreateSession.ID)
	return data.CreateSession.ID
}

const chatSubscription = `
	subscription Chat($id: ID!, $query: String!) {
		chat(id: $id, query: $query) { type sessionId reply { answer } }
	}
`

func TestChatSubscription(t *testing.T) {
	srv, answerer, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialGraphQL(t, ts.URL)
	defer conn.Close()

	id := createSession(t, conn)
	assert.Equal(t, 1, srv.sessions.Len())

	events := operation(t, conn, "1", chatSubscription, map[string]any{"id": id, "query": "Tell me about The Witch"})
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"chat": {"type": "STARTED", "sessionId": "`+id+`", "reply": null}}`, string(events[0].Data))
	assert.JSONEq(t, `{"chat": {"type": "ANSWER", "sessionId": "`+id+`", "reply": {"answer": "answer to Tell me about The Witch"}}}`, string(events[1].Data))

	events = operation(t, conn, "2", chatSubscription, map[string]any{"id": id, "query": "And its rating?"})
	require.Len(t, events, 2)
	assert.Equal(t, "user: Tell me about The Witch\nassistant: answer to Tell me about The Witch", answerer.last().Context)

	reset := operation(t, conn, "3", `mutation R($id: ID!) { resetSession(id: $id) }`, map[string]any{"id": id})
	require.Len(t, reset, 1)
	assert.JSONEq(t, `{"resetSession": true}`, string(reset[0].Data))

	operation(t, conn, "4", chatSubscription, map[string]any{"id": id, "query": "Fresh start"})
	assert.Empty(t, answerer.last().Context)

	failed := operation(t, conn, "5", chatSubscription, map[string]any{"id": "nope", "query": "hi"})
	require.Len(t, failed, 1)
	require.NotEmpty(t, failed[0].Errors)
	assert.Equal(t, "NOT_FOUND", failed[0].Errors[0].Extensions["code"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return srv.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIdleWebSocketOutlivesReadTimeout(t *testing.T) {
	srv, _, _ := newTestServer(t)

	hs := srv.HTTPServer("", time.Minute)
	hs.ReadTimeout = 200 * time.Millisecond
	hs.WriteTimeout = 200 * time.Millisecond
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = hs.Serve(ln) }()
	defer hs.Close()

	conn := dialGraphQL(t, "http://"+ln.Addr().String())
	defer conn.Close()
	id := createSession(t, conn)

	time.Sleep(3 * hs.ReadTimeout)

	events := operation(t, conn, "1", chatSubscription, map[string]any{"id": id, "query": "Still there?"})
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"chat": {"type": "ANSWER", "sessionId": "`+id+`", "reply": {"answer": "answer to Still there?"}}}`, string(events[1].Data))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

// Package client provides a GraphQL client for the moviechat server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/moviechat/internal/metrics"
)

// ErrNotFound is returned for an unknown session.
var ErrNotFound = errors.New("not found")

// Client is a GraphQL client for the moviechat server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new GraphQL client.
// If endpoint is empty, uses MOVIECHAT_SERVER_URL or defaults to localhost:8484.
// A bare server URL gets the /query path. Timeout can be configured via
// MOVIECHAT_CLIENT_TIMEOUT (default 2m, a turn is capped at 60s server-side).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("MOVIECHAT_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484/query"
	}
	if u, err := url.Parse(endpoint); err == nil && strings.Trim(u.Path, "/") == "" {
		u.Path = "/query"
		endpoint = u.String()
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("MOVIECHAT_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the GraphQL endpoint the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// responseError converts the first GraphQL error. Unknown sessions wrap
// ErrNotFound.
func responseError(errs []graphQLError) error {
	if len(errs) == 0 {
		return nil
	}
	if code, _ := errs[0].Extensions["code"].(string); code == "NOT_FOUND" {
		return fmt.Errorf("%w: %s", ErrNotFound, errs[0].Message)
	}
	return fmt.Errorf("graphql error: %s", errs[0].Message)
}

// Execute sends a GraphQL query/mutation and returns the result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	// Validation failures come back as 422 with a GraphQL error body.
	if err := responseError(gqlResp.Errors); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// =============================================================================
// TYPES (matching GraphQL schema)
// =============================================================================

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Source is a movie an answer drew on.
type Source struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Year     string  `json:"year"`
	Genre    string  `json:"genre"`
	Rating   float64 `json:"rating"`
	Overview string  `json:"overview"`
	Content  string  `json:"content"`
}

// Reply is the answer to one turn. SessionID is empty for stateless asks.
type Reply struct {
	SessionID string   `json:"sessionId"`
	Answer    string   `json:"answer"`
	Language  string   `json:"language"`
	Outcome   string   `json:"outcome"`
	ToolCalls int      `json:"toolCalls"`
	Sources   []Source `json:"sources"`
}

// Stats is the server's runtime statistics.
type Stats struct {
	Sessions int
	Metrics  metrics.Snapshot
}

const replyFields = `
	sessionId
	answer
	language
	outcome
	toolCalls
	sources { id title year genre rating overview content }
`

// =============================================================================
// OPERATIONS
// =============================================================================

// Health checks that the server answers GraphQL.
func (c *Client) Health(ctx context.Context) error {
	var result struct {
		Typename string `json:"__typename"`
	}
	if err := c.Execute(ctx, `query Health { __typename }`, nil, &result); err != nil {
		return err
	}
	if result.Typename != "Query" {
		return fmt.Errorf("unexpected health response %q", result.Typename)
	}
	return nil
}

// Ask answers query statelessly after priorTurns.
func (c *Client) Ask(ctx context.Context, query string, priorTurns []Turn) (*Reply, error) {
	const mutation = `
		mutation Ask($query: String!, $priorTurns: [TurnInput!]) {
			ask(query: $query, priorTurns: $priorTurns) {` + replyFields + `}
		}
	`

	vars := map[string]any{"query": query}
	if len(priorTurns) > 0 {
		vars["priorTurns"] = priorTurns
	}

	var result struct {
		Ask Reply `json:"ask"`
	}
	if err := c.Execute(ctx, mutation, vars, &result); err != nil {
		return nil, err
	}
	return &result.Ask, nil
}

// CreateSession starts a server-side conversation and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	const mutation = `mutation CreateSession { createSession { id } }`

	var result struct {
		CreateSession struct {
			ID string `json:"id"`
		} `json:"createSession"`
	}
	if err := c.Execute(ctx, mutation, nil, &result); err != nil {
		return "", err
	}
	return result.CreateSession.ID, nil
}

// SendMessage asks query within session id.
func (c *Client) SendMessage(ctx context.Context, id, query string) (*Reply, error) {
	const mutation = `
		mutation SendMessage($id: ID!, $query: String!) {
			sendMessage(id: $id, query: $query) {` + replyFields + `}
		}
	`

	var result struct {
		SendMessage Reply `json:"sendMessage"`
	}
	if err := c.Execute(ctx, mutation, map[string]any{"id": id, "query": query}, &result); err != nil {
		return nil, err
	}
	return &result.SendMessage, nil
}

// History returns the turns of session id.
func (c *Client) History(ctx context.Context, id string) ([]Turn, error) {
	const query = `query History($id: ID!) { history(id: $id) { role content } }`

	var result struct {
		History []Turn `json:"history"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	return result.History, nil
}

// ResetSession clears the conversation of session id.
func (c *Client) ResetSession(ctx context.Context, id string) error {
	const mutation = `mutation ResetSession($id: ID!) { resetSession(id: $id) }`
	return c.Execute(ctx, mutation, map[string]any{"id": id}, nil)
}

// DeleteSession removes session id.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	const mutation = `mutation DeleteSession($id: ID!) { deleteSession(id: $id) }`
	return c.Execute(ctx, mutation, map[string]any{"id": id}, nil)
}

// operationStats mirrors the OperationStats GraphQL type.
type operationStats struct {
	Count             int64    `json:"count"`
	Errors            int64    `json:"errors"`
	TotalTimeMs       int64    `json:"totalTimeMs"`
	AvgTimeMs         float64  `json:"avgTimeMs"`
	MinTimeMs         int64    `json:"minTimeMs"`
	MaxTimeMs         int64    `json:"maxTimeMs"`
	TotalInputTokens  *int64   `json:"totalInputTokens"`
	TotalOutputTokens *int64   `json:"totalOutputTokens"`
	AvgInputTokens    *float64 `json:"avgInputTokens"`
	AvgOutputTokens   *float64 `json:"avgOutputTokens"`
	MinInputTokens    *int64   `json:"minInputTokens"`
	MaxInputTokens    *int64   `json:"maxInputTokens"`
	MinOutputTokens   *int64   `json:"minOutputTokens"`
	MaxOutputTokens   *int64   `json:"maxOutputTokens"`
}

func (s *operationStats) snapshot() *metrics.OperationSnapshot {
	if s == nil {
		return nil
	}
	return &metrics.OperationSnapshot{
		Count:             s.Count,
		Errors:            s.Errors,
		TotalTimeMs:       s.TotalTimeMs,
		AvgTimeMs:         s.AvgTimeMs,
		MinTimeMs:         s.MinTimeMs,
		MaxTimeMs:         s.MaxTimeMs,
		TotalInputTokens:  s.TotalInputTokens,
		TotalOutputTokens: s.TotalOutputTokens,
		AvgInputTokens:    s.AvgInputTokens,
		AvgOutputTokens:   s.AvgOutputTokens,
		MinInputTokens:    s.MinInputTokens,
		MaxInputTokens:    s.MaxInputTokens,
		MinOutputTokens:   s.MinOutputTokens,
		MaxOutputTokens:   s.MaxOutputTokens,
	}
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	const opFields = `
		count errors totalTimeMs avgTimeMs minTimeMs maxTimeMs
		totalInputTokens totalOutputTokens
		avgInputTokens avgOutputTokens
		minInputTokens maxInputTokens
		minOutputTokens maxOutputTokens
	`
	const query = `
		query Stats {
			stats {
				sessions
				uptimeSeconds
				embedding {` + opFields + `}
				llmGenerate {` + opFields + `}
				vectorSearch {` + opFields + `}
				vectorUpsert {` + opFields + `}
				toolCall {` + opFields + `}
				turn {` + opFields + `}
				outcomes { outcome count }
				toolCalls
			}
		}
	`

	var result struct {
		Stats struct {
			Sessions      int             `json:"sessions"`
			UptimeSeconds float64         `json:"uptimeSeconds"`
			Embedding     *operationStats `json:"embedding"`
			LLMGenerate   *operationStats `json:"llmGenerate"`
			VectorSearch  *operationStats `json:"vectorSearch"`
			VectorUpsert  *operationStats `json:"vectorUpsert"`
			ToolCall      *operationStats `json:"toolCall"`
			Turn          *operationStats `json:"turn"`
			Outcomes      []struct {
				Outcome string `json:"outcome"`
				Count   int64  `json:"count"`
			} `json:"outcomes"`
			ToolCalls int64 `json:"toolCalls"`
		} `json:"stats"`
	}
	if err := c.Execute(ctx, query, nil, &result); err != nil {
		return nil, err
	}

	s := result.Stats
	snap := metrics.Snapshot{
		UptimeSeconds: s.UptimeSeconds,
		Embedding:     s.Embedding.snapshot(),
		LLMGenerate:   s.LLMGenerate.snapshot(),
		VectorSearch:  s.VectorSearch.snapshot(),
		VectorUpsert:  s.VectorUpsert.snapshot(),
		ToolCall:      s.ToolCall.snapshot(),
		Turn:          s.Turn.snapshot(),
		Outcomes:      make(map[string]int64, len(s.Outcomes)),
		ToolCalls:     s.ToolCalls,
	}
	for _, o := range s.Outcomes {
		snap.Outcomes[o.Outcome] = o.Count
	}
	return &Stats{Sessions: s.Sessions, Metrics: snap}, nil
}

// =============================================================================
// STREAMING OPERATIONS
// =============================================================================

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlPing                = "ping"
	gqlPong                = "pong"
	gqlSubscribe           = "subscribe"
	gqlNext                = "next"
	gqlError               = "error"
	gqlComplete            = "complete"
	gqlConnectionKeepAlive = "ka"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// chatEvent is one event of the chat subscription.
type chatEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Reply     *Reply `json:"reply"`
}

// ChatConn is a conversation over one WebSocket. The server removes the
// session when the connection closes. It is not safe for concurrent use:
// each Send waits for its answer.
type ChatConn struct {
	conn      *websocket.Conn
	sessionID string

	mu     sync.Mutex
	closed bool
}

// Chat opens a WebSocket connection and starts a session on it.
func (c *Client) Chat(ctx context.Context) (*ChatConn, error) {
	// Convert HTTP endpoint to WebSocket endpoint
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	// Connect with graphql-transport-ws subprotocol
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	if err := conn.WriteJSON(wsMessage{Type: gqlConnectionInit}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connection_ack: %w", err)
	}
	if ack.Type != gqlConnectionAck {
		conn.Close()
		return nil, fmt.Errorf("expected connection_ack, got %s", ack.Type)
	}

	cc := &ChatConn{conn: conn}
	var created struct {
		CreateSession struct {
			ID string `json:"id"`
		} `json:"createSession"`
	}
	err = cc.operation(ctx, `mutation CreateSession { createSession { id } }`, nil, func(data json.RawMessage) error {
		return json.Unmarshal(data, &created)
	})
	if err != nil {
		cc.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	cc.sessionID = created.CreateSession.ID
	return cc, nil
}

// SessionID returns the server-assigned session id.
func (c *ChatConn) SessionID() string {
	return c.sessionID
}

// Send asks query and waits for the answer. ctx cancellation closes the
// connection.
func (c *ChatConn) Send(ctx context.Context, query string) (*Reply, error) {
	const subscription = `
		subscription Chat($id: ID!, $query: String!) {
			chat(id: $id, query: $query) {
				type
				sessionId
				reply {` + replyFields + `}
			}
		}
	`

	var reply *Reply
	err := c.operation(ctx, subscription, map[string]any{"id": c.sessionID, "query": query}, func(data json.RawMessage) error {
		var payload struct {
			Chat chatEvent `json:"chat"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("unmarshal chat event: %w", err)
		}
		if payload.Chat.Type == "ANSWER" && payload.Chat.Reply != nil {
			reply = payload.Chat.Reply
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, errors.New("chat ended without an answer")
	}
	return reply, nil
}

// Reset clears the conversation on the server.
func (c *ChatConn) Reset(ctx context.Context) error {
	const mutation = `mutation ResetSession($id: ID!) { resetSession(id: $id) }`
	return c.operation(ctx, mutation, map[string]any{"id": c.sessionID}, nil)
}

// Close ends the conversation.
func (c *ChatConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// operation runs one GraphQL operation over the connection and passes the
// data of every result to onData until the server completes it.
func (c *ChatConn) operation(ctx context.Context, query string, variables map[string]any, onData func(json.RawMessage) error) error {
	id := uuid.New().String()
	payload, err := json.Marshal(wsSubscribePayload{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	if err := c.conn.WriteJSON(wsMessage{ID: id, Type: gqlSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	// Read messages until complete or error
	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			// Check if this was due to context cancellation
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case gqlPing:
			if err := c.conn.WriteJSON(wsMessage{Type: gqlPong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
			continue
		case gqlPong, gqlConnectionKeepAlive:
			continue
		}
		if msg.ID != id {
			// Leftovers of an operation abandoned after an error.
			continue
		}

		switch msg.Type {
		case gqlNext:
			var resp graphQLResponse
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				return fmt.Errorf("unmarshal next payload: %w", err)
			}
			if err := responseError(resp.Errors); err != nil {
				return err
			}
			if onData != nil {
				if err := onData(resp.Data); err != nil {
					return err
				}
			}

		case gqlError:
			var errs []graphQLError
			if err := json.Unmarshal(msg.Payload, &errs); err != nil {
				return fmt.Errorf("subscription error: %s", string(msg.Payload))
			}
			if err := responseError(errs); err != nil {
				return err
			}
			return fmt.Errorf("subscription error: unknown")

		case gqlComplete:
			return nil
		}
	}
}

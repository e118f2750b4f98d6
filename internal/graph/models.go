// Package graph provides GraphQL types and resolvers for moviechat.
package graph

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnInput is a prior turn passed to the stateless ask mutation.
type TurnInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session identifies a live conversation.
type Session struct {
	ID string `json:"id"`
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

// Reply is the answer to one turn.
type Reply struct {
	SessionID *string  `json:"sessionId"`
	Answer    string   `json:"answer"`
	Language  string   `json:"language"`
	Outcome   string   `json:"outcome"`
	ToolCalls int      `json:"toolCalls"`
	Sources   []Source `json:"sources"`
}

// ChatEventType is the kind of a chat subscription event.
type ChatEventType string

// Chat event types.
const (
	ChatEventStarted ChatEventType = "STARTED"
	ChatEventAnswer  ChatEventType = "ANSWER"
)

// ChatEvent is one event of the chat subscription.
type ChatEvent struct {
	Type      ChatEventType `json:"type"`
	SessionID string        `json:"sessionId"`
	Reply     *Reply        `json:"reply"`
}

// OperationStats mirrors metrics.OperationSnapshot.
type OperationStats struct {
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

// OutcomeCount is the number of turns that ended with one outcome.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// ServerStats is the runtime statistics of the server.
type ServerStats struct {
	Sessions      int             `json:"sessions"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
	Embedding     *OperationStats `json:"embedding"`
	LLMGenerate   *OperationStats `json:"llmGenerate"`
	VectorSearch  *OperationStats `json:"vectorSearch"`
	VectorUpsert  *OperationStats `json:"vectorUpsert"`
	ToolCall      *OperationStats `json:"toolCall"`
	Turn          *OperationStats `json:"turn"`
	Outcomes      []OutcomeCount  `json:"outcomes"`
	ToolCalls     int64           `json:"toolCalls"`
}

// Package memory holds the ordered turns of one conversation.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	lcmemory "github.com/tmc/langchaingo/memory"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Memory is an append-only conversation history. It is safe for
// concurrent use.
type Memory struct {
	mu       sync.Mutex
	history  *lcmemory.ChatMessageHistory
	maxTurns int
}

// Option configures a Memory.
type Option func(*Memory)

// WithMaxTurns keeps only the most recent n turns. n <= 0 keeps everything.
func WithMaxTurns(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxTurns = n
		}
	}
}

// WithTurns seeds the memory with prior turns.
func WithTurns(turns []Turn) Option {
	return func(m *Memory) {
		for _, t := range turns {
			_ = m.history.AddMessage(context.Background(), toChatMessage(t))
		}
	}
}

// New creates an empty Memory.
func New(opts ...Option) *Memory {
	m := &Memory{history: lcmemory.NewChatMessageHistory()}
	for _, opt := range opts {
		opt(m)
	}
	m.trim()
	return m
}

// Append adds a turn at the end of the history.
func (m *Memory) Append(turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.history.AddMessage(context.Background(), toChatMessage(turn))
	m.trim()
}

// AppendUser appends a user turn.
func (m *Memory) AppendUser(content string) {
	m.Append(Turn{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant turn.
func (m *Memory) AppendAssistant(content string) {
	m.Append(Turn{Role: RoleAssistant, Content: content})
}

// History returns a copy of all turns in insertion order.
func (m *Memory) History() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns()
}

// Len returns the number of stored turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, _ := m.history.Messages(context.Background())
	return len(msgs)
}

// Reset removes every turn.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.history.Clear(context.Background())
}

// RenderContext renders the history as "role: content" lines. Callers
// render before appending the turn being answered.
func (m *Memory) RenderContext() string {
	return Render(m.History())
}

// Messages returns the history as chat messages for a model call.
func (m *Memory) Messages() []llms.MessageContent {
	turns := m.History()
	out := make([]llms.MessageContent, len(turns))
	for i, t := range turns {
		out[i] = llms.TextParts(toChatMessage(t).GetType(), t.Content)
	}
	return out
}

// Render formats turns as "role: content" lines joined with newlines.
func Render(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = string(t.Role) + ": " + t.Content
	}
	return strings.Join(lines, "\n")
}

func (m *Memory) turns() []Turn {
	msgs, _ := m.history.Messages(context.Background())
	out := make([]Turn, len(msgs))
	for i, msg := range msgs {
		out[i] = fromChatMessage(msg)
	}
	return out
}

// trim drops the oldest turns beyond maxTurns. Callers hold mu or own m.
func (m *Memory) trim() {
	if m.maxTurns <= 0 {
		return
	}
	msgs, _ := m.history.Messages(context.Background())
	if len(msgs) <= m.maxTurns {
		return
	}
	kept := make([]llms.ChatMessage, m.maxTurns)
	copy(kept, msgs[len(msgs)-m.maxTurns:])
	_ = m.history.SetMessages(context.Background(), kept)
}

func toChatMessage(t Turn) llms.ChatMessage {
	switch t.Role {
	case RoleAssistant:
		return llms.AIChatMessage{Content: t.Content}
	case RoleSystem:
		return llms.SystemChatMessage{Content: t.Content}
	default:
		return llms.HumanChatMessage{Content: t.Content}
	}
}

func fromChatMessage(msg llms.ChatMessage) Turn {
	switch msg.GetType() {
	case llms.ChatMessageTypeAI:
		return Turn{Role: RoleAssistant, Content: msg.GetContent()}
	case llms.ChatMessageTypeSystem:
		return Turn{Role: RoleSystem, Content: msg.GetContent()}
	default:
		return Turn{Role: RoleUser, Content: msg.GetContent()}
	}
}

// Package session ties one conversation memory to the answering
// orchestrator and tracks live sessions for the servers.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/memory"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// Answerer runs one orchestrated turn.
type Answerer interface {
	Answer(ctx context.Context, req agent.Request) agent.Response
}

// Reply is the result of Session.Ask.
type Reply struct {
	SessionID string                 `json:"session_id"`
	Answer    string                 `json:"answer"`
	Language  language.Tag           `json:"language"`
	Outcome   agent.Outcome          `json:"outcome"`
	ToolCalls int                    `json:"tool_calls"`
	Sources   []vectorstore.Document `json:"sources,omitempty"`
	Err       error                  `json:"-"`
}

// Session is one conversation. Turns on a session are serialized.
type Session struct {
	id       string
	mu       sync.Mutex
	memory   *memory.Memory
	answerer Answerer
	policy   *language.Policy
	logger   *slog.Logger
}

// New creates a session with a fresh id.
func New(answerer Answerer, policy *language.Policy, mem *memory.Memory, logger *slog.Logger) *Session {
	if mem == nil {
		mem = memory.New()
	}
	if policy == nil {
		policy = language.NewPolicy(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		memory:   mem,
		answerer: answerer,
		policy:   policy,
		logger:   logger.With("session", id),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Ask answers query in the context of the conversation so far. The answer,
// fallback answers included, is appended to the history.
func (s *Session) Ask(ctx context.Context, query string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.memory.RenderContext()
	s.memory.AppendUser(query)
	tag, instruction := s.policy.Instruction(query)

	resp := s.answerer.Answer(ctx, agent.Request{
		Query:       query,
		Context:     history,
		Instruction: instruction,
	})
	s.memory.AppendAssistant(resp.Answer)

	s.logger.Debug("session turn", "language", tag, "outcome", resp.Outcome, "turns", s.memory.Len())
	return Reply{
		SessionID: s.id,
		Answer:    resp.Answer,
		Language:  tag,
		Outcome:   resp.Outcome,
		ToolCalls: resp.ToolCalls,
		Sources:   resp.Sources,
		Err:       resp.Err,
	}
}

// History returns the session's turns.
func (s *Session) History() []memory.Turn {
	return s.memory.History()
}

// Reset clears the conversation memory.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory.Reset()
	s.logger.Info("session reset")
}

// Answer is the stateless form of Ask: it answers query after priorTurns
// using a throwaway memory and never fails.
func Answer(ctx context.Context, answerer Answerer, policy *language.Policy, query string, priorTurns []memory.Turn) Reply {
	s := New(answerer, policy, memory.New(memory.WithTurns(priorTurns)), nil)
	reply := s.Ask(ctx, query)
	reply.SessionID = ""
	return reply
}

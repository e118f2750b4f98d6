package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/moviechat/internal/language"
	"github.com/raphaelgruber/moviechat/internal/memory"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Manager tracks live sessions by id. It is safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	answerer   Answerer
	policy     *language.Policy
	memoryOpts []memory.Option
	logger     *slog.Logger
}

// NewManager creates a Manager whose sessions share answerer and policy.
func NewManager(answerer Answerer, policy *language.Policy, logger *slog.Logger, memoryOpts ...memory.Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = language.NewPolicy(nil, logger)
	}
	return &Manager{
		sessions:   make(map[string]*Session),
		answerer:   answerer,
		policy:     policy,
		memoryOpts: memoryOpts,
		logger:     logger,
	}
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := New(m.answerer, m.policy, memory.New(m.memoryOpts...), m.logger)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.logger.Info("session created", "session", s.ID())
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete resets and forgets the session with id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Reset()
	m.logger.Info("session deleted", "session", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Answerer returns the shared answerer.
func (m *Manager) Answerer() Answerer {
	return m.answerer
}

// Policy returns the shared language policy.
func (m *Manager) Policy() *language.Policy {
	return m.policy
}

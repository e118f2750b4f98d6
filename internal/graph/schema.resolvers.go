package graph

import (
	"context"
	"strings"

	"github.com/raphaelgruber/moviechat/internal/session"
)

// Ask is the resolver for the ask field.
func (r *mutationResolver) Ask(ctx context.Context, query string, priorTurns []TurnInput) (*Reply, error) {
	if strings.TrimSpace(query) == "" {
		return nil, badInput("query is required")
	}
	turns, err := turnsFromInput(priorTurns)
	if err != nil {
		return nil, badInput(err.Error())
	}
	reply := session.Answer(ctx, r.sessions.Answerer(), r.sessions.Policy(), query, turns)
	return replyToGraphQL(reply), nil
}

// CreateSession is the resolver for the createSession field.
func (r *mutationResolver) CreateSession(ctx context.Context) (*Session, error) {
	s := r.sessions.Create()
	if owned := connSessionsFrom(ctx); owned != nil {
		owned.add(s.ID())
	}
	return &Session{ID: s.ID()}, nil
}

// SendMessage is the resolver for the sendMessage field.
func (r *mutationResolver) SendMessage(ctx context.Context, id string, query string) (*Reply, error) {
	if strings.TrimSpace(query) == "" {
		return nil, badInput("query is required")
	}
	s, err := r.sessions.Get(id)
	if err != nil {
		return nil, sessionError(err)
	}
	return replyToGraphQL(s.Ask(ctx, query)), nil
}

// ResetSession is the resolver for the resetSession field.
func (r *mutationResolver) ResetSession(ctx context.Context, id string) (bool, error) {
	s, err := r.sessions.Get(id)
	if err != nil {
		return false, sessionError(err)
	}
	s.Reset()
	return true, nil
}

// DeleteSession is the resolver for the deleteSession field.
func (r *mutationResolver) DeleteSession(ctx context.Context, id string) (bool, error) {
	if err := r.sessions.Delete(id); err != nil {
		return false, sessionError(err)
	}
	return true, nil
}

// History is the resolver for the history field.
func (r *queryResolver) History(ctx context.Context, id string) ([]Turn, error) {
	s, err := r.sessions.Get(id)
	if err != nil {
		return nil, sessionError(err)
	}
	return turnsToGraphQL(s.History()), nil
}

// Stats is the resolver for the stats field.
func (r *queryResolver) Stats(ctx context.Context) (*ServerStats, error) {
	return statsToGraphQL(r.sessions.Len(), r.metrics.Snapshot()), nil
}

// Chat is the resolver for the chat field.
func (r *subscriptionResolver) Chat(ctx context.Context, id string, query string) (<-chan *ChatEvent, error) {
	if strings.TrimSpace(query) == "" {
		return nil, badInput("query is required")
	}
	s, err := r.sessions.Get(id)
	if err != nil {
		return nil, sessionError(err)
	}

	events := make(chan *ChatEvent, 1)
	go func() {
		defer close(events)
		events <- &ChatEvent{Type: ChatEventStarted, SessionID: id}

		reply := replyToGraphQL(s.Ask(ctx, query))
		select {
		case events <- &ChatEvent{Type: ChatEventAnswer, SessionID: id, Reply: reply}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

// Package graph provides GraphQL resolvers for moviechat.
// It serves as dependency injection for the /query endpoint.
package graph

import (
	"context"
	"sync"

	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/raphaelgruber/moviechat/internal/session"
)

// Resolver is the root resolver with all dependencies.
type Resolver struct {
	sessions *session.Manager
	metrics  *metrics.Collector
}

// NewResolver creates a resolver over live sessions.
func NewResolver(sessions *session.Manager, collector *metrics.Collector) *Resolver {
	return &Resolver{
		sessions: sessions,
		metrics:  collector,
	}
}

// Mutation returns the mutation resolver.
func (r *Resolver) Mutation() MutationResolver { return &mutationResolver{r} }

// Query returns the query resolver.
func (r *Resolver) Query() QueryResolver { return &queryResolver{r} }

// Subscription returns the subscription resolver.
func (r *Resolver) Subscription() SubscriptionResolver { return &subscriptionResolver{r} }

type mutationResolver struct{ *Resolver }
type queryResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }

type connSessionsKey struct{}

// ConnSessions records the sessions created over one connection so they can
// be removed when it closes.
type ConnSessions struct {
	mu  sync.Mutex
	ids []string
}

// WithConnSessions returns a context that records sessions created under it.
func WithConnSessions(ctx context.Context) (context.Context, *ConnSessions) {
	owned := &ConnSessions{}
	return context.WithValue(ctx, connSessionsKey{}, owned), owned
}

func connSessionsFrom(ctx context.Context) *ConnSessions {
	owned, _ := ctx.Value(connSessionsKey{}).(*ConnSessions)
	return owned
}

func (c *ConnSessions) add(id string) {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
}

// Release deletes the recorded sessions that are still open and returns how
// many it removed.
func (c *ConnSessions) Release(sessions *session.Manager) int {
	c.mu.Lock()
	ids := c.ids
	c.ids = nil
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if sessions.Delete(id) == nil {
			n++
		}
	}
	return n
}

package server

import (
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/moviechat/internal/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// graphQL builds the /query handler: queries and mutations over HTTP,
// subscriptions over graphql-transport-ws.
func (s *Server) graphQL() http.Handler {
	srv := handler.New(graph.NewExecutableSchema(graph.Config{
		Resolvers: graph.NewResolver(s.sessions, s.metrics),
	}))

	srv.AddTransport(transport.Websocket{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, no browser origin to protect
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		KeepAlivePingInterval: 10 * time.Second,
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.AddTransport(transport.MultipartForm{})

	srv.SetQueryCache(lru.New[*ast.QueryDocument](1000))

	srv.Use(extension.Introspection{})
	srv.Use(extension.AutomaticPersistedQuery{
		Cache: lru.New[string](100),
	})

	return srv
}

// connectionSessions ties the sessions a WebSocket client creates to its
// connection: they are deleted when the connection closes.
func (s *Server) connectionSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, owned := graph.WithConnSessions(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
		if n := owned.Release(s.sessions); n > 0 {
			s.logger.Info("websocket client disconnected", "sessions_removed", n)
		}
	})
}

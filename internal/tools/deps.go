// Package tools provides MCP tool handlers and registration.
package tools

import (
	"log/slog"

	"github.com/raphaelgruber/moviechat/internal/retrieval"
	"github.com/raphaelgruber/moviechat/internal/session"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Retriever *retrieval.Retriever
	Sessions  *session.Manager
	Logger    *slog.Logger
}

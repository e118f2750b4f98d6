package server

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer wraps the MCP server with its logger and lifecycle.
type MCPServer struct {
	mcp    *mcp.Server
	logger *slog.Logger
}

// NewMCP creates the moviechat MCP server. Tools are registered on
// Server() before Run.
func NewMCP(version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	impl := &mcp.Implementation{
		Name:    "moviechat",
		Version: version,
	}

	s := &MCPServer{
		mcp:    mcp.NewServer(impl, nil),
		logger: logger,
	}
	s.mcp.AddReceivingMiddleware(LoggingMiddleware(logger))
	return s
}

// Run serves on stdio and blocks until the client disconnects or ctx is done.
func (s *MCPServer) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Server returns the underlying MCP server for tool registration.
func (s *MCPServer) Server() *mcp.Server {
	return s.mcp
}

package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names exposed over MCP.
const (
	PingToolName   = "ping"
	SearchToolName = "search_movies"
	AskToolName    = "ask_movies"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        PingToolName,
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        SearchToolName,
		Description: "Find IMDB movies whose plot is closest to a free-text description",
	}, NewSearchHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        AskToolName,
		Description: "Ask the movie assistant a question, optionally continuing an earlier conversation",
	}, NewAskHandler(deps))
}

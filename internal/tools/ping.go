package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PingInput defines the input schema for the ping tool.
type PingInput struct {
	Echo string `json:"echo,omitempty" jsonschema:"Text to echo back"`
}

// PingOutput reports liveness and the number of open chat sessions.
type PingOutput struct {
	Message  string `json:"message"`
	Sessions int    `json:"sessions"`
}

// NewPingHandler answers "pong", or the echo text when given.
func NewPingHandler(deps *Dependencies) mcp.ToolHandlerFor[PingInput, PingOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PingInput) (*mcp.CallToolResult, PingOutput, error) {
		out := PingOutput{Message: "pong"}
		if input.Echo != "" {
			out.Message = input.Echo
		}
		if deps != nil && deps.Sessions != nil {
			out.Sessions = deps.Sessions.Len()
		}
		if deps != nil && deps.Logger != nil {
			deps.Logger.Debug("ping tool called", "echo", input.Echo)
		}
		return TextResult(out.Message), out, nil
	}
}

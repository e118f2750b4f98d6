package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/moviechat/internal/agent"
	"github.com/raphaelgruber/moviechat/internal/memory"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// AskInput defines the input schema for the ask_movies tool.
type AskInput struct {
	Question   string        `json:"question" jsonschema:"The question about movies"`
	PriorTurns []memory.Turn `json:"prior_turns,omitempty" jsonschema:"Earlier turns of the conversation, oldest first"`
}

// AskOutput is the structured result of ask_movies.
type AskOutput struct {
	Answer    string        `json:"answer"`
	Language  string        `json:"language"`
	Outcome   string        `json:"outcome"`
	ToolCalls int           `json:"tool_calls"`
	Sources   []SourceMovie `json:"sources,omitempty"`
}

// SourceMovie names a movie the answer drew on.
type SourceMovie struct {
	Title string `json:"title"`
	Year  string `json:"year,omitempty"`
}

// NewAskHandler creates the ask_movies handler. Each call is a stateless
// turn; conversation state travels in prior_turns.
func NewAskHandler(deps *Dependencies) mcp.ToolHandlerFor[AskInput, AskOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		if strings.TrimSpace(input.Question) == "" {
			return ErrorResult("Question cannot be empty", "Ask something about a movie"), AskOutput{}, nil
		}
		for i, t := range input.PriorTurns {
			role, err := memory.ParseRole(string(t.Role))
			if err != nil {
				return ErrorResult(fmt.Sprintf("prior_turns[%d] has an invalid role", i), "Use user, assistant or system"), AskOutput{}, nil
			}
			input.PriorTurns[i].Role = role
		}

		reply := session.Answer(ctx, deps.Sessions.Answerer(), deps.Sessions.Policy(), input.Question, input.PriorTurns)

		out := AskOutput{
			Answer:    reply.Answer,
			Language:  string(reply.Language),
			Outcome:   string(reply.Outcome),
			ToolCalls: reply.ToolCalls,
		}
		for _, doc := range reply.Sources {
			p := vectorstore.PayloadFromMap(doc.Metadata)
			out.Sources = append(out.Sources, SourceMovie{Title: p.Title, Year: p.Year})
		}

		result := TextResult(reply.Answer)
		if reply.Outcome == agent.OutcomeError || reply.Outcome == agent.OutcomeTimeout {
			result.IsError = true
		}
		deps.Logger.Info("ask completed", "question", truncateQuery(input.Question), "outcome", reply.Outcome, "tool_calls", reply.ToolCalls)
		return result, out, nil
	}
}

package agent

import (
	"context"
	"errors"

	"github.com/raphaelgruber/moviechat/internal/llm"
	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

var (
	// ErrToolParse is returned when model output is neither a tool call nor
	// a final answer.
	ErrToolParse = errors.New("tool parse error")
	// ErrTurnTimeout is returned when a turn exceeds its time budget.
	ErrTurnTimeout = errors.New("turn timed out")
)

const fallbackPrefix = "An error occurred: "

// FallbackAnswer converts a turn failure into the user-visible answer.
func FallbackAnswer(err error) string {
	return fallbackPrefix + summarize(err)
}

func summarize(err error) string {
	switch {
	case errors.Is(err, ErrTurnTimeout), errors.Is(err, context.DeadlineExceeded):
		return "the answer took too long, please try again"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	case errors.Is(err, ErrToolParse):
		return "the assistant produced a reply it could not understand"
	case errors.Is(err, llm.ErrEmbeddingService):
		return "the embedding service is unavailable"
	case errors.Is(err, vectorstore.ErrStoreUnavailable):
		return "the movie database is unavailable"
	case errors.Is(err, llm.ErrFatalAPI):
		return "the language model rejected the request (check the API key, quota and billing)"
	case errors.Is(err, llm.ErrLanguageModel):
		return "the language model request failed"
	default:
		return "something went wrong while answering"
	}
}

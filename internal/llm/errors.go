package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmbeddingService wraps every failure reported by the embedding provider.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrLanguageModel wraps every failure reported by the chat model provider.
	ErrLanguageModel = errors.New("language model error")

	// ErrFatalAPI marks provider errors that retrying cannot fix
	// (credentials, billing, quota, rate limiting).
	ErrFatalAPI = errors.New("fatal API error")

	// ErrEmptyText is returned when asked to embed empty or whitespace-only text.
	ErrEmptyText = errors.New("text is empty")

	// ErrDimensionMismatch is returned when a provider yields vectors of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether err looks like an auth, billing or quota failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI and returns
// everything else unchanged.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}

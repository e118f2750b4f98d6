package graph

import (
	"errors"

	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Error codes set in the "code" extension of GraphQL errors.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeBadUserInput = "BAD_USER_INPUT"
)

func badInput(msg string) error {
	return &gqlerror.Error{
		Message:    msg,
		Extensions: map[string]any{"code": CodeBadUserInput},
	}
}

// sessionError tags unknown session ids with CodeNotFound.
func sessionError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return &gqlerror.Error{
			Message:    err.Error(),
			Extensions: map[string]any{"code": CodeNotFound},
		}
	}
	return err
}

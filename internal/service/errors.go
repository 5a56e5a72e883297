package service

import (
	"errors"
	"fmt"

	"marketplace-chat/internal/repositories"
)

// Error kinds surfaced by the messaging core. Returned errors wrap exactly one
// of them; anything else is an internal failure.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
)

func accessDenied(reason string) error {
	return fmt.Errorf("%w: %s", ErrAccessDenied, reason)
}

func invalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}

// classify attaches the error kind to repository sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrChatNotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrUserNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repositories.ErrSelfChat):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}

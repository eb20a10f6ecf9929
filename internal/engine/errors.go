// ABOUTME: Outcome classification for conversation turns.
// ABOUTME: Collaborator errors are wrapped with these sentinels and tested with errors.Is.

package engine

import (
	"errors"
	"fmt"

	"github.com/bitsacco/sacco-gateway/internal/fsm"
)

var (
	ErrValidation     = fsm.ErrValidation
	ErrUnknownCommand = fsm.ErrUnknownCommand
	ErrSessionCorrupt = fsm.ErrSessionCorrupt

	// ErrBackendUnavailable wraps wallet, assistant and price failures.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDeclined marks a definitive rejection by the wallet, e.g. insufficient funds.
	ErrDeclined = errors.New("declined by wallet")

	// ErrRateLimited marks input refused by a per-user limit.
	ErrRateLimited = errors.New("rate limited")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// classify names an outcome for logs.
func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrSessionCorrupt):
		return "session_corrupt"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrDeclined):
		return "declined"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	}
	return "error"
}

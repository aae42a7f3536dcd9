// Package apperr defines the error kinds shared by the front-ends, the registry
// and the runner. Callers classify errors with errors.Is against these sentinels.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotReady       = errors.New("not ready")
	ErrJobNotTerminal = errors.New("job is not finished")
	ErrQueueFull      = errors.New("job queue is full")

	ErrEngine            = errors.New("engine failure")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRender            = errors.New("render failure")
	ErrCancelled         = errors.New("cancelled")
)

// Invalid builds an ErrInvalidInput with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func NotFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

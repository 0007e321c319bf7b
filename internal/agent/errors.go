// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrNoOutput is returned when the model answers with an empty output list.
	ErrNoOutput = errors.New("no output from model")
	// ErrSafetyCheckRefused is returned when the operator declines a pending safety check.
	ErrSafetyCheckRefused = errors.New("safety check was not acknowledged")
	// ErrBlockedURL is returned when the browser lands on a blocklisted domain.
	ErrBlockedURL = errors.New("blocked URL")
	// ErrTooManySteps is returned when a single turn exceeds its model round-trip budget.
	ErrTooManySteps = errors.New("turn exceeded the maximum number of model steps")
	// ErrMissingAction is returned for a computer_call item that carries no action.
	ErrMissingAction = errors.New("computer_call item has no action")
)

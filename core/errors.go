package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the broad failure categories of the runtime. Callers
// classify failures with errors.Is; components wrap these with fmt.Errorf
// adding the offending identifier.
var (
	// ErrNotFound indicates an unknown session, agent, rule, template or
	// checkpoint id.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a malformed message, entry or configuration,
	// rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrCapacity indicates an agent at its concurrent-session limit or a
	// session at its participant limit.
	ErrCapacity = errors.New("capacity exceeded")
)

func wrapValidation(msg string) error { return fmt.Errorf("%s: %w", msg, ErrValidation) }

// StateTransitionError reports an illegal session lifecycle move. The message
// names the current state so callers can diagnose without extra lookups.
type StateTransitionError struct {
	SessionID string
	Current   string
	Attempted string
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("session %s: illegal transition to %s from current state %s", e.SessionID, e.Attempted, e.Current)
}

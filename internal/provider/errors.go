package provider

import (
	"errors"
	"fmt"
)

// State represents the specific kind of provider state failure.
type State string

const (
	NotStarted     State = "not_started"
	AlreadyStarted State = "already_started"
	NotInitialized State = "not_initialized"
	NotConnected   State = "not_connected"
)

// StateError reports a provider operation invoked in the wrong lifecycle
// state.
type StateError struct {
	State State
	Msg   string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare StateError values by State.
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for provider lifecycle states.
var (
	ErrNotStarted     = &StateError{State: NotStarted}
	ErrAlreadyStarted = &StateError{State: AlreadyStarted}
	ErrNotInitialized = &StateError{State: NotInitialized}
	ErrNotConnected   = &StateError{State: NotConnected}
)

// Operation errors.
var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnsupported   = errors.New("unsupported")
)

// IsState reports whether err is a StateError with the given state.
func IsState(err error, state State) bool {
	var serr *StateError
	if errors.As(err, &serr) {
		return serr.State == state
	}
	return false
}

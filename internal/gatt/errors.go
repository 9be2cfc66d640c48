package gatt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blekit/blekit/internal/transport"
)

// State identifies the specific kind of engine failure.
type State string

const (
	NotAvailable         State = "not_available"
	NotResponding        State = "not_responding"
	NotConfigured        State = "not_configured"
	ConfigurationFailed  State = "configuration_failed"
	AlreadyConnected     State = "already_connected"
	AlreadyDisconnected  State = "already_disconnected"
	OperationFailed      State = "operation_failed"
	EndpointConflict     State = "endpoint_conflict"
	RequiredEndpointGone State = "required_endpoint_missing"
)

// StateError represents any engine-level problem with a discriminating State.
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

// Predefined sentinel errors for the engine taxonomy.
var (
	ErrNotAvailable        = &StateError{State: NotAvailable}
	ErrNotResponding       = &StateError{State: NotResponding}
	ErrNotConfigured       = &StateError{State: NotConfigured}
	ErrConfigurationFailed = &StateError{State: ConfigurationFailed}
	ErrAlreadyConnected    = &StateError{State: AlreadyConnected}
	ErrAlreadyDisconnected = &StateError{State: AlreadyDisconnected}
	ErrOperationFailed     = &StateError{State: OperationFailed}
	ErrEndpointConflict    = &StateError{State: EndpointConflict}
)

// NormalizeError maps transport-level errors to the engine taxonomy.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, transport.ErrUnreachable) {
		return fmt.Errorf("%w: %v", ErrNotResponding, err)
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not connected"),
		containsIgnoreCase(msg, "connection canceled"):
		return fmt.Errorf("%w: %v", ErrNotResponding, err)
	case containsIgnoreCase(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
}

// IsState reports whether err carries a StateError with the given state.
func IsState(err error, state State) bool {
	var serr *StateError
	if errors.As(err, &serr) {
		return serr.State == state
	}
	return false
}

// containsIgnoreCase checks substring case-insensitively.
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

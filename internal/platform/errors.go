package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	InProgress       ConnectionState = "in_progress"
	NotReady         ConnectionState = "not_ready"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrInProgress       = &ConnectionError{State: InProgress}
	ErrNotReady         = &ConnectionError{State: NotReady}
)

// Operation errors
var (
	ErrBluetoothOff  = errors.New("bluetooth is turned off")
	ErrNoSuchObject  = errors.New("no such object")
	ErrNotPermitted  = errors.New("not permitted")
	ErrUnsupported   = errors.New("unsupported")
	ErrTimeout       = errors.New("timeout")
	ErrFailed        = errors.New("operation failed")
	ErrPlatformClose = errors.New("platform closed")
)

// NormalizeError maps known backend error names and messages onto the
// errors of this package. The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "org.bluez.Error.NotConnected"),
		containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "org.bluez.Error.AlreadyConnected"),
		containsIgnoreCase(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "org.bluez.Error.InProgress"),
		containsIgnoreCase(msg, "operation already in progress"):
		return fmt.Errorf("%w: %v", ErrInProgress, err)
	case containsIgnoreCase(msg, "org.bluez.Error.NotReady"),
		containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	case containsIgnoreCase(msg, "central manager has invalid state"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "org.bluez.Error.NotPowered"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "org.bluez.Error.DoesNotExist"),
		containsIgnoreCase(msg, "org.freedesktop.DBus.Error.UnknownObject"),
		containsIgnoreCase(msg, "org.freedesktop.DBus.Error.UnknownMethod"):
		return fmt.Errorf("%w: %v", ErrNoSuchObject, err)
	case containsIgnoreCase(msg, "org.bluez.Error.NotPermitted"),
		containsIgnoreCase(msg, "org.bluez.Error.NotAuthorized"),
		containsIgnoreCase(msg, "org.freedesktop.DBus.Error.AccessDenied"):
		return fmt.Errorf("%w: %v", ErrNotPermitted, err)
	case containsIgnoreCase(msg, "org.bluez.Error.NotSupported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case containsIgnoreCase(msg, "org.freedesktop.DBus.Error.NoReply"),
		containsIgnoreCase(msg, "timeout"),
		containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsIgnoreCase(msg, "org.bluez.Error.Failed"):
		return fmt.Errorf("%w: %v", ErrFailed, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

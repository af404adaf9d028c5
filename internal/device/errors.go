package device

import (
	"errors"
	"fmt"
)

// Fatal errors, returned from Driver.Run.
var (
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrPeripheralNotFound = errors.New("myo armband not found")
)

// Recoverable errors, reported to Handlers.OnError and handled by the driver.
var (
	ErrConnectFailed            = errors.New("connect failed")
	ErrServiceResolutionTimeout = errors.New("service resolution timed out")
	ErrCharacteristicUnbound    = errors.New("characteristic not bound")
	ErrNotReady                 = errors.New("myo not ready")
)

// AdapterError reports a failure to acquire or drive the local adapter.
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrAdapterUnavailable, e.Adapter)
	}
	return fmt.Sprintf("%s: %s: %v", ErrAdapterUnavailable, e.Adapter, e.Err)
}

// Is matches ErrAdapterUnavailable.
func (e *AdapterError) Is(target error) bool {
	return target == ErrAdapterUnavailable
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NotifyError reports a subscription that could not be changed.
type NotifyError struct {
	Kind    NotifyKind
	Enable  bool
	Attempt int
	Err     error
}

func (e *NotifyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	verb := "disable"
	if e.Enable {
		verb = "enable"
	}
	if e.Attempt > 0 {
		return fmt.Sprintf("%s %s notifications (attempt %d): %v", verb, e.Kind, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s %s notifications: %v", verb, e.Kind, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

package profile

import (
	"errors"
	"fmt"
)

// Sentinels matched by UnknownUUIDError and ServiceNotBoundError via errors.Is.
var (
	ErrUnknownServiceUUID        = errors.New("unknown service UUID")
	ErrUnknownCharacteristicUUID = errors.New("unknown characteristic UUID")
	ErrServiceNotBound           = errors.New("service not bound")
)

// UnknownUUIDError reports a GATT object that is not part of the profile.
type UnknownUUIDError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [service] or [service, characteristic]
}

func (e *UnknownUUIDError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("unknown %s", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q is not part of the profile", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q is not part of service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Is maps the error onto ErrUnknownServiceUUID or ErrUnknownCharacteristicUUID.
func (e *UnknownUUIDError) Is(target error) bool {
	switch target {
	case ErrUnknownServiceUUID:
		return e.Resource == "service"
	case ErrUnknownCharacteristicUUID:
		return e.Resource == "characteristic"
	}
	return false
}

// ServiceNotBoundError reports a characteristic bind attempted before its service.
type ServiceNotBoundError struct {
	Service string
}

func (e *ServiceNotBoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrServiceNotBound, e.Service)
}

func (e *ServiceNotBoundError) Is(target error) bool {
	return target == ErrServiceNotBound
}

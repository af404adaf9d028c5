package platform

import "fmt"

// Event is a change in the platform's object tree or the completion of an
// asynchronous operation.
type Event interface {
	isEvent()
}

// DeviceAdded announces a remote device, either newly discovered or already
// known to the platform when the backend started.
type DeviceAdded struct {
	Path             ObjectPath
	Adapter          ObjectPath
	Address          string
	Alias            string
	UUIDs            []string
	Connected        bool
	ServicesResolved bool
}

// DeviceChanged reports property changes of a device. Nil fields are unchanged.
type DeviceChanged struct {
	Path             ObjectPath
	Alias            *string
	UUIDs            []string
	Connected        *bool
	ServicesResolved *bool
}

// ServiceAdded announces a GATT service object.
type ServiceAdded struct {
	Path   ObjectPath
	Device ObjectPath
	UUID   string
}

// CharacteristicAdded announces a GATT characteristic object.
type CharacteristicAdded struct {
	Path    ObjectPath
	Service ObjectPath
	UUID    string
	Flags   []string
}

// ObjectRemoved reports that an object (device, service or characteristic) is gone.
type ObjectRemoved struct {
	Path ObjectPath
}

// ValueChanged carries a characteristic notification.
type ValueChanged struct {
	Path  ObjectPath
	Value []byte
}

// CallDone completes an asynchronous operation. Value is set for reads.
type CallDone struct {
	Op    Op
	Path  ObjectPath
	Value []byte
	Err   error
}

func (DeviceAdded) isEvent()         {}
func (DeviceChanged) isEvent()       {}
func (ServiceAdded) isEvent()        {}
func (CharacteristicAdded) isEvent() {}
func (ObjectRemoved) isEvent()       {}
func (ValueChanged) isEvent()        {}
func (CallDone) isEvent()            {}

// Op identifies an asynchronous operation in CallDone.
type Op uint8

const (
	OpConnect Op = iota + 1
	OpDisconnect
	OpStartDiscovery
	OpStopDiscovery
	OpRead
	OpWrite
	OpStartNotify
	OpStopNotify
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpStartDiscovery:
		return "start_discovery"
	case OpStopDiscovery:
		return "stop_discovery"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpStartNotify:
		return "start_notify"
	case OpStopNotify:
		return "stop_notify"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Bool returns a pointer to v, for building DeviceChanged.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for building DeviceChanged.
func String(v string) *string { return &v }

// Package platform describes the host Bluetooth stack as the driver sees it:
// a tree of objects (adapters, devices, GATT services, characteristics)
// named by object paths, a stream of events about that tree, and a set of
// asynchronous operations on it.
//
// Backends live in sub-packages. Every operation returns as soon as the
// request is issued; its outcome arrives later on Events() as a CallDone.
// An error returned directly means the request could not be issued at all.
package platform

import "context"

// ObjectPath names an object in the platform's tree.
type ObjectPath string

// AdapterInfo describes a local Bluetooth controller.
type AdapterInfo struct {
	Path    ObjectPath
	Name    string // e.g. "hci0"
	Address string
	Alias   string
	Powered bool
}

// Platform is the host Bluetooth stack.
type Platform interface {
	// Adapters lists the local controllers. It is the only blocking call.
	Adapters(ctx context.Context) ([]AdapterInfo, error)

	// Events delivers tree changes and call completions. Closed by Close.
	Events() <-chan Event

	StartDiscovery(adapter ObjectPath, uuids []string) error
	StopDiscovery(adapter ObjectPath) error

	Connect(device ObjectPath) error
	Disconnect(device ObjectPath) error

	// Refresh re-announces the GATT objects already known under device as
	// ServiceAdded and CharacteristicAdded events.
	Refresh(device ObjectPath) error

	// Watch makes sure property changes of device are delivered.
	Watch(device ObjectPath) error

	ReadValue(char ObjectPath) error
	WriteValue(char ObjectPath, value []byte) error
	StartNotify(char ObjectPath) error
	StopNotify(char ObjectPath) error

	Close() error
}

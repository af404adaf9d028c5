package main

import (
	"errors"

	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

// FormatUserError returns the error text followed by a hint for the failures
// a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	switch {
	case errors.Is(err, platform.ErrBluetoothOff):
		return msg + "\n  hint: power the adapter on, e.g. `bluetoothctl power on`"
	case errors.Is(err, platform.ErrNotPermitted):
		return msg + "\n  hint: the D-Bus policy or HCI socket requires elevated permissions"
	case errors.Is(err, platform.ErrNoSuchObject) && errors.Is(err, device.ErrAdapterUnavailable):
		return msg + "\n  hint: list controllers with `myobluez adapters` and pass --adapter"
	case errors.Is(err, device.ErrAdapterUnavailable):
		return msg + "\n  hint: check that bluetoothd is running and a controller is present"
	case errors.Is(err, device.ErrPeripheralNotFound):
		return msg + "\n  hint: wake the armband by moving it, or raise --scan-timeout (0 waits forever)"
	}
	return msg
}

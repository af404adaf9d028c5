//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

func newDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: go-ble has no backend for %s", platform.ErrUnsupported, runtime.GOOS)
}

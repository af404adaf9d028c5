package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
		hint     bool
	}{
		{
			name:     "bluetooth off",
			err:      &device.AdapterError{Adapter: "hci0", Err: platform.ErrBluetoothOff},
			contains: "bluetoothctl power on",
			hint:     true,
		},
		{
			name:     "unknown adapter",
			err:      &device.AdapterError{Adapter: "hci7", Err: platform.ErrNoSuchObject},
			contains: "myobluez adapters",
			hint:     true,
		},
		{
			name:     "adapter without cause",
			err:      &device.AdapterError{Adapter: "hci0"},
			contains: "bluetoothd is running",
			hint:     true,
		},
		{
			name:     "permission denied",
			err:      fmt.Errorf("open: %w", platform.ErrNotPermitted),
			contains: "elevated permissions",
			hint:     true,
		},
		{
			name:     "not found",
			err:      fmt.Errorf("scan: %w", device.ErrPeripheralNotFound),
			contains: "wake the armband",
			hint:     true,
		},
		{
			name:     "plain error",
			err:      errors.New("something else"),
			contains: "something else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatUserError(tt.err)
			assert.Contains(t, msg, tt.err.Error(), "original message MUST be kept")
			assert.Contains(t, msg, tt.contains)
			if tt.hint {
				assert.Contains(t, msg, "hint:")
			} else {
				assert.NotContains(t, msg, "hint:")
			}
		})
	}

	assert.Empty(t, FormatUserError(nil))
}

package platform_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

type ErrorsTestSuite struct {
	suite.Suite
}

func (suite *ErrorsTestSuite) TestNormalizeError() {
	// GOAL: Verify backend error names and messages map onto the shared taxonomy
	//
	// TEST SCENARIO: raw backend error → NormalizeError → errors.Is matches the expected sentinel

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"bluez not connected", "org.bluez.Error.NotConnected: Not Connected", platform.ErrNotConnected},
		{"go-ble disconnected", "ble: disconnected", platform.ErrNotConnected},
		{"bluez already connected", "org.bluez.Error.AlreadyConnected", platform.ErrAlreadyConnected},
		{"bluez in progress", "org.bluez.Error.InProgress: Operation already in progress", platform.ErrInProgress},
		{"bluez not ready", "org.bluez.Error.NotReady: Resource Not Ready", platform.ErrNotReady},
		{"darwin powered off", "central manager has invalid state: have=4 want=5: is Bluetooth turned on?", platform.ErrBluetoothOff},
		{"bluez does not exist", "org.bluez.Error.DoesNotExist: Does Not Exist", platform.ErrNoSuchObject},
		{"dbus unknown object", "org.freedesktop.DBus.Error.UnknownObject: Method \"Connect\" doesn't exist", platform.ErrNoSuchObject},
		{"bluez not permitted", "org.bluez.Error.NotPermitted: Read not permitted", platform.ErrNotPermitted},
		{"bluez not supported", "org.bluez.Error.NotSupported", platform.ErrUnsupported},
		{"dbus no reply", "org.freedesktop.DBus.Error.NoReply: Did not receive a reply", platform.ErrTimeout},
		{"bluez failed", "org.bluez.Error.Failed: le-connection-abort-by-local", platform.ErrFailed},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			raw := errors.New(tt.raw)
			got := platform.NormalizeError(raw)

			suite.ErrorIs(got, tt.want)
			suite.Contains(got.Error(), tt.raw, "original message MUST be preserved")
		})
	}

	suite.Run("unknown passes through", func() {
		raw := errors.New("something else")
		suite.Same(raw, platform.NormalizeError(raw))
	})

	suite.Run("nil", func() {
		suite.NoError(platform.NormalizeError(nil))
	})
}

func (suite *ErrorsTestSuite) TestConnectionState() {
	err := platform.NormalizeError(errors.New("org.bluez.Error.NotConnected"))

	suite.True(platform.IsConnectionState(err, platform.NotConnected))
	suite.False(platform.IsConnectionState(err, platform.AlreadyConnected))
	suite.NotErrorIs(err, platform.ErrAlreadyConnected)
}

func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}

package main

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
	"github.com/yodaldevoid/MyoBlueZ/internal/testutils"
	"github.com/yodaldevoid/MyoBlueZ/pkg/config"
)

func imuPayload(w, x, y, z int16, accel [3]int16) []byte {
	b := make([]byte, protocol.IMUSampleSize)
	for i, v := range []int16{w, x, y, z, accel[0], accel[1], accel[2]} {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

type runResult struct {
	stdout string
	stderr string
	err    error
}

// startRun executes the run command in the background.
func (suite *CommandTestSuite) startRun(ctx context.Context, args ...string) (*syncBuffer, <-chan runResult) {
	done := make(chan runResult, 1)
	ready := make(chan *syncBuffer, 1)
	go func() {
		stdout, stderr := &syncBuffer{}, &syncBuffer{}
		rootCmd.SetOut(stdout)
		rootCmd.SetErr(stderr)
		rootCmd.SetArgs(append([]string{"run"}, args...))
		setContext(rootCmd, ctx)
		ready <- stdout
		err := rootCmd.ExecuteContext(ctx)
		done <- runResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
	}()
	return <-ready, done
}

func (suite *CommandTestSuite) finish(cancel context.CancelFunc, done <-chan runResult) runResult {
	cancel()
	select {
	case res := <-done:
		return res
	case <-time.After(waitTimeout):
		suite.FailNow("run did not return")
		return runResult{}
	}
}

func lineOfType(output, typ string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, `"type":"`+typ+`"`) {
			return line
		}
	}
	return ""
}

func (suite *CommandTestSuite) TestRunStreamsJSONLines() {
	// GOAL: Verify run connects, initializes and writes decoded records as JSON lines
	//
	// TEST SCENARIO: Myo in range → mode command and vibration written → IMU notification → imu record → Ctrl+C → exit without error

	suite.fake.AddPeripheral(suite.periph)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout, done := suite.startRun(ctx, "--format", "json", "--vibrate", "medium", "--imu", "all")
	suite.waitCalls("WriteValue", 2, "mode and vibrate commands MUST be written")

	writes := suite.fake.Writes()
	suite.Equal([]byte{0x01, 0x03, 0x00, 0x03, 0x01}, writes[0], "--imu MUST reach the mode command")
	suite.Equal([]byte{0x03, 0x01, 0x02}, writes[1], "--vibrate MUST send the vibrate command")

	suite.fake.Notify(suite.periph.PathOf(profile.IMUDataChar.String()), imuPayload(16384, 0, 0, 0, [3]int16{0, 0, 2048}))
	suite.Eventually(func() bool {
		return lineOfType(stdout.String(), "imu") != ""
	}, waitTimeout, 10*time.Millisecond, "imu record MUST be written")

	res := suite.finish(cancel, done)
	suite.Require().NoError(res.err, "cancellation MUST be a clean exit")

	ja := testutils.NewJSONAsserter(suite.T())
	ja.Assert(lineOfType(res.stdout, "imu"), `{
		"time": "<<PRESENCE>>",
		"type": "imu",
		"value": {
			"orientation": {"w": 16384, "x": 0, "y": 0, "z": 0},
			"accelerometer": [0, 0, 2048],
			"gyroscope": [0, 0, 0]
		}
	}`)
	ja.Assert(lineOfType(res.stdout, "firmware_version"), `{
		"type": "firmware_version",
		"value": {"major": 1, "minor": 5, "patch": 1970, "hardware_rev": 2}
	}`)
	ja.Assert(lineOfType(res.stdout, "battery"), `{"type": "battery", "value": 87}`)

	var statuses []string
	for _, line := range strings.Split(res.stdout, "\n") {
		if strings.Contains(line, `"type":"status"`) {
			statuses = append(statuses, line)
		}
	}
	suite.Require().GreaterOrEqual(len(statuses), 2)
	suite.Contains(statuses[0], `"value":"connecting"`)
	suite.Contains(statuses[1], `"value":"connected"`)

	suite.True(suite.fake.Closed(), "platform MUST be closed on exit")
	suite.Contains(res.stderr, "Connection status changed", "status changes MUST be logged to stderr")
}

func (suite *CommandTestSuite) TestRunTextOutput() {
	// GOAL: Verify the default text output renders records without color when not on a terminal

	suite.fake.AddPeripheral(suite.periph)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout, done := suite.startRun(ctx)
	suite.waitCalls("WriteValue", 1, "mode command MUST be written")

	suite.fake.Notify(suite.periph.PathOf(profile.ClassifierChar.String()), []byte{0x03, 0x02, 0x00})
	suite.Eventually(func() bool {
		return strings.Contains(stdout.String(), "pose Wave in")
	}, waitTimeout, 10*time.Millisecond, "pose MUST be printed")

	res := suite.finish(cancel, done)
	suite.Require().NoError(res.err)
	suite.Contains(res.stdout, "firmware_version 1.5.1970.2")
	suite.Contains(res.stdout, "battery    87%")
	suite.NotContains(res.stdout, "\x1b[", "non-terminal output MUST NOT carry color codes")
}

func (suite *CommandTestSuite) TestRunPeripheralNotFound() {
	// GOAL: Verify the scan timeout ends run with ErrPeripheralNotFound and a hint

	_, _, err := suite.execute(context.Background(), "run", "--scan-timeout", "50ms")

	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrPeripheralNotFound)
	suite.Contains(FormatUserError(err), "--scan-timeout")
	suite.Equal(50*time.Millisecond, suite.cfg.ScanTimeout)
}

func (suite *CommandTestSuite) TestRunBackendUnavailable() {
	// GOAL: Verify a backend that cannot be opened is reported as an adapter failure

	newPlatform = func(*config.Config, *logrus.Logger) (platform.Platform, error) {
		return nil, platform.ErrBluetoothOff
	}

	_, _, err := suite.execute(context.Background(), "run", "--adapter", "hci1")

	suite.ErrorIs(err, device.ErrAdapterUnavailable)
	suite.ErrorIs(err, platform.ErrBluetoothOff)
	var adapterErr *device.AdapterError
	suite.Require().True(errors.As(err, &adapterErr))
	suite.Equal("hci1", adapterErr.Adapter)
	suite.Contains(FormatUserError(err), "bluetoothctl power on")
}

func (suite *CommandTestSuite) TestRunRejectsInvalidFlags() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "emg mode", args: []string{"run", "--emg", "loud"}, wantErr: "emg_mode"},
		{name: "classifier mode", args: []string{"run", "--classifier", "maybe"}, wantErr: "classifier_mode"},
		{name: "vibration", args: []string{"run", "--vibrate", "buzz"}, wantErr: "invalid vibration"},
		{name: "backend", args: []string{"run", "--backend", "winrt"}, wantErr: "backend"},
		{name: "log level", args: []string{"run", "--log-level", "trace"}, wantErr: "invalid log level"},
		{name: "format", args: []string{"run", "--format", "csv"}, wantErr: "output_format"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			defer resetFlags(rootCmd)
			_, _, err := suite.execute(context.Background(), tt.args...)
			suite.ErrorContains(err, tt.wantErr)
			suite.Empty(suite.fake.Calls(), "no platform call MUST happen before the flags are valid")
		})
	}
}

func (suite *CommandTestSuite) TestConfigFileAndFlagPrecedence() {
	// GOAL: Verify --config values apply and explicit flags override them

	path := filepath.Join(suite.T().TempDir(), "myobluez.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("backend: goble\noutput_format: json\nadapter: hci2\n"), 0o600))

	stdout, _, err := suite.execute(context.Background(), "adapters", "--config", path, "--adapter", "hci0")
	suite.Require().NoError(err)

	suite.Equal(config.BackendGoBLE, suite.cfg.Backend, "file values MUST apply")
	suite.Equal("hci0", suite.cfg.Adapter, "flags MUST override the file")
	suite.True(strings.HasPrefix(strings.TrimSpace(stdout.String()), "["), "output_format from the file MUST select JSON")
}

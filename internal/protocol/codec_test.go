package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
)

type CodecTestSuite struct {
	suite.Suite
}

func (suite *CodecTestSuite) TestDecodeFirmwareVersion() {
	// GOAL: Verify the firmware version record is decoded little-endian at fixed offsets
	//
	// TEST SCENARIO: 8 byte record → four uint16 fields → values match the little-endian layout

	suite.Run("decodes well-formed record", func() {
		v, err := protocol.DecodeFirmwareVersion([]byte{0x01, 0x00, 0x05, 0x00, 0x78, 0x07, 0x02, 0x00})

		suite.Require().NoError(err)
		suite.Equal(protocol.FirmwareVersion{Major: 1, Minor: 5, Patch: 1912, HardwareRev: 2}, v)
		suite.Equal("1.5.1912.2", v.String())
	})

	suite.Run("is deterministic", func() {
		in := []byte{0xff, 0xff, 0x00, 0x80, 0x01, 0x02, 0x03, 0x04}
		a, errA := protocol.DecodeFirmwareVersion(in)
		b, errB := protocol.DecodeFirmwareVersion(in)

		suite.NoError(errA)
		suite.NoError(errB)
		suite.Equal(a, b, "decoding the same bytes MUST give the same value")
		suite.Equal(uint16(0xffff), a.Major)
		suite.Equal(uint16(0x8000), a.Minor)
		suite.Equal(uint16(0x0201), a.Patch)
		suite.Equal(uint16(0x0403), a.HardwareRev)
	})
}

func (suite *CodecTestSuite) TestShortInputIsMalformed() {
	// GOAL: Verify every decoder rejects short buffers without panicking
	//
	// TEST SCENARIO: each decoder gets every length below its record size → ErrMalformedPayload

	decoders := []struct {
		name string
		size int
		fn   func([]byte) error
	}{
		{"firmware version", protocol.FirmwareVersionSize, func(b []byte) error { _, err := protocol.DecodeFirmwareVersion(b); return err }},
		{"firmware info", protocol.FirmwareInfoSize, func(b []byte) error { _, err := protocol.DecodeFirmwareInfo(b); return err }},
		{"IMU sample", protocol.IMUSampleSize, func(b []byte) error { _, err := protocol.DecodeIMUSample(b); return err }},
		{"classifier event", protocol.ClassifierEventSize, func(b []byte) error { _, err := protocol.DecodeClassifierEvent(b); return err }},
		{"EMG frame", protocol.EMGFrameSize, func(b []byte) error { _, err := protocol.DecodeEMGFrame(b); return err }},
		{"battery level", protocol.BatteryLevelSize, func(b []byte) error { _, err := protocol.DecodeBatteryLevel(b); return err }},
	}

	for _, tt := range decoders {
		suite.Run(tt.name, func() {
			for n := 0; n < tt.size; n++ {
				buf := make([]byte, n)
				var err error
				suite.NotPanics(func() { err = tt.fn(buf) }, "decoder MUST NOT panic on %d bytes", n)
				suite.ErrorIs(err, protocol.ErrMalformedPayload, "%d bytes MUST be malformed", n)

				var mErr *protocol.MalformedPayloadError
				suite.Require().ErrorAs(err, &mErr)
				suite.Equal(tt.size, mErr.Want)
				suite.Equal(n, mErr.Got)
			}
			suite.NoError(tt.fn(make([]byte, tt.size)), "exact length MUST decode")
			suite.NoError(tt.fn(make([]byte, tt.size+4)), "trailing bytes MUST be ignored")
		})
	}
}

func (suite *CodecTestSuite) TestDecodeIMUSample() {
	// GOAL: Verify the IMU sample layout: orientation [0,8), accel [8,14), gyro [14,20)

	raw := []byte{
		0x00, 0x40, // w = 16384
		0x01, 0x00, // x = 1
		0xff, 0xff, // y = -1
		0x00, 0xc0, // z = -16384
		0x00, 0x08, // ax = 2048
		0x02, 0x00, // ay = 2
		0xfe, 0xff, // az = -2
		0x10, 0x00, // gx = 16
		0x20, 0x00, // gy = 32
		0xf0, 0xff, // gz = -16
	}

	s, err := protocol.DecodeIMUSample(raw)
	suite.Require().NoError(err)

	suite.Equal(protocol.Quaternion{W: 16384, X: 1, Y: -1, Z: -16384}, s.Orientation)
	suite.Equal([3]int16{2048, 2, -2}, s.Accelerometer)
	suite.Equal([3]int16{16, 32, -16}, s.Gyroscope)

	suite.InDelta(1.0, s.OrientationUnit()[0], 1e-9)
	suite.InDelta(-1.0, s.OrientationUnit()[3], 1e-9)
	suite.InDelta(1.0, s.AccelerationG()[0], 1e-9)
	suite.InDelta(-1.0, s.AngularVelocity()[2], 1e-9)
}

func (suite *CodecTestSuite) TestDecodeClassifierEvent() {
	// GOAL: Verify tag-dependent interpretation and the never-fail policy for unknown tags

	tests := []struct {
		name string
		raw  []byte
		want protocol.ClassifierEvent
	}{
		{
			name: "pose",
			raw:  []byte{0x03, 0x01, 0x00, 0x00},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierPose, Tag: 0x03, Pose: protocol.PoseFist},
		},
		{
			name: "pose unknown",
			raw:  []byte{0x03, 0xff, 0xff},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierPose, Tag: 0x03, Pose: protocol.PoseUnknown},
		},
		{
			name: "arm synced",
			raw:  []byte{0x01, 0x02, 0x01},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierArmSynced, Tag: 0x01, Arm: protocol.ArmLeft, XDirection: protocol.XDirectionTowardWrist},
		},
		{
			name: "arm unsynced carries no payload",
			raw:  []byte{0x02, 0x55, 0x55},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierArmUnsynced, Tag: 0x02},
		},
		{
			name: "unlocked",
			raw:  []byte{0x04, 0x00, 0x00},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierUnlocked, Tag: 0x04},
		},
		{
			name: "locked",
			raw:  []byte{0x05, 0x00, 0x00},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierLocked, Tag: 0x05},
		},
		{
			name: "sync failed",
			raw:  []byte{0x06, 0x01, 0x00},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierSyncFailed, Tag: 0x06, SyncResult: 1},
		},
		{
			name: "unknown tag",
			raw:  []byte{0xff, 0x12, 0x34},
			want: protocol.ClassifierEvent{Kind: protocol.ClassifierUnknown, Tag: 0xff},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			ev, err := protocol.DecodeClassifierEvent(tt.raw)

			suite.NoError(err, "classifier decode MUST NOT fail on well-formed length")
			suite.Equal(tt.want, ev)
		})
	}
}

func (suite *CodecTestSuite) TestDecodeEMGFrame() {
	raw := []byte{
		0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00,
		0xff, 0xff, 0xfe, 0xff, 0x00, 0x80, 0xff, 0x7f,
		0xa5,
	}

	f, err := protocol.DecodeEMGFrame(raw)

	suite.Require().NoError(err)
	suite.Equal([8]int16{1, 2, 3, 4, -1, -2, -32768, 32767}, f.Channels)
	suite.Equal(uint8(0xa5), f.Moving, "trailing byte MUST be passed through untouched")
}

func (suite *CodecTestSuite) TestDecodeFirmwareInfo() {
	raw := []byte{
		0x11, 0x22, 0x33, 0x44, 0x55, 0x66, // serial
		0x05, 0x00, // unlock pose: double tap
		0x01, 0x02, // classifier type, index
		0x01, 0x00, // custom classifier, stream indicating
		0x02,                                     // sku
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // reserved
	}

	info, err := protocol.DecodeFirmwareInfo(raw)

	suite.Require().NoError(err)
	suite.Equal([6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, info.SerialNumber)
	suite.Equal(protocol.PoseDoubleTap, info.UnlockPose)
	suite.Equal(uint8(1), info.ActiveClassifierType)
	suite.Equal(uint8(2), info.ActiveClassifierIndex)
	suite.True(info.HasCustomClassifier)
	suite.False(info.StreamIndicating)
	suite.Equal(protocol.SKUWhite, info.SKU)
}

func (suite *CodecTestSuite) TestEncodeCommands() {
	// GOAL: Verify command records are bit-exact

	suite.Run("set mode", func() {
		got := protocol.EncodeModeCommand(protocol.EMGModeNone, protocol.IMUModeSendData, protocol.ClassifierModeEnabled)
		suite.Equal([]byte{0x01, 0x03, 0x00, 0x01, 0x01}, got)
	})

	suite.Run("set mode raw emg, all imu", func() {
		got := protocol.EncodeModeCommand(protocol.EMGModeRaw, protocol.IMUModeSendAll, protocol.ClassifierModeDisabled)
		suite.Equal([]byte{0x01, 0x03, 0x03, 0x03, 0x00}, got)
	})

	suite.Run("vibrate", func() {
		suite.Equal([]byte{0x03, 0x01, 0x02}, protocol.EncodeVibrateCommand(protocol.VibrationMedium))
	})

	suite.Run("sleep mode", func() {
		suite.Equal([]byte{0x09, 0x01, 0x01}, protocol.EncodeSleepModeCommand(protocol.SleepModeNeverSleep))
	})

	suite.Run("deep sleep has no payload", func() {
		suite.Equal([]byte{0x04, 0x00}, protocol.EncodeDeepSleepCommand())
	})

	suite.Run("imu events use the device value", func() {
		got := protocol.EncodeModeCommand(protocol.EMGModeNone, protocol.IMUModeSendEvents, protocol.ClassifierModeEnabled)
		suite.Equal([]byte{0x01, 0x03, 0x00, 0x02, 0x01}, got, "send_events MUST be written as 2")
	})
}

func (suite *CodecTestSuite) TestParseModes() {
	emg, err := protocol.ParseEMGMode("Raw")
	suite.NoError(err)
	suite.Equal(protocol.EMGModeRaw, emg)

	imu, err := protocol.ParseIMUMode("send_events")
	suite.NoError(err)
	suite.Equal(protocol.IMUModeSendEvents, imu)

	cls, err := protocol.ParseClassifierMode("on")
	suite.NoError(err)
	suite.Equal(protocol.ClassifierModeEnabled, cls)

	_, err = protocol.ParseIMUMode("sideways")
	suite.Error(err, "unknown mode names MUST be rejected")
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}

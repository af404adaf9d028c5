package protocol

import (
	"fmt"
	"strings"
)

// Record lengths on the wire.
const (
	FirmwareVersionSize = 8
	FirmwareInfoSize    = 20
	IMUSampleSize       = 20
	ClassifierEventSize = 3
	EMGFrameSize        = 17
	BatteryLevelSize    = 1
)

// Scale factors published for the IMU data characteristic.
const (
	OrientationScale   = 16384.0
	AccelerometerScale = 2048.0
	GyroscopeScale     = 16.0
)

// Command identifies a record written to the control command characteristic.
type Command uint8

const (
	CommandSetMode      Command = 0x01
	CommandVibrate      Command = 0x03
	CommandDeepSleep    Command = 0x04
	CommandSetSleepMode Command = 0x09
)

// EMGMode selects what the armband streams on the EMG characteristic.
type EMGMode uint8

const (
	EMGModeNone     EMGMode = 0x00
	EMGModeFiltered EMGMode = 0x02
	EMGModeRaw      EMGMode = 0x03
)

func (m EMGMode) String() string {
	switch m {
	case EMGModeNone:
		return "none"
	case EMGModeFiltered:
		return "filtered"
	case EMGModeRaw:
		return "raw"
	default:
		return fmt.Sprintf("emg(0x%02x)", uint8(m))
	}
}

// ParseEMGMode converts a configuration string into an EMGMode.
func ParseEMGMode(s string) (EMGMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return EMGModeNone, nil
	case "filtered", "send", "on":
		return EMGModeFiltered, nil
	case "raw":
		return EMGModeRaw, nil
	default:
		return 0, fmt.Errorf("invalid EMG mode %q: use none, filtered or raw", s)
	}
}

// IMUMode selects what the armband streams on the IMU characteristics.
type IMUMode uint8

const (
	IMUModeNone       IMUMode = 0x00
	IMUModeSendData   IMUMode = 0x01
	IMUModeSendEvents IMUMode = 0x02
	IMUModeSendAll    IMUMode = 0x03
	IMUModeSendRaw    IMUMode = 0x04
)

func (m IMUMode) String() string {
	switch m {
	case IMUModeNone:
		return "none"
	case IMUModeSendData:
		return "data"
	case IMUModeSendEvents:
		return "events"
	case IMUModeSendAll:
		return "all"
	case IMUModeSendRaw:
		return "raw"
	default:
		return fmt.Sprintf("imu(0x%02x)", uint8(m))
	}
}

// ParseIMUMode converts a configuration string into an IMUMode.
func ParseIMUMode(s string) (IMUMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return IMUModeNone, nil
	case "data", "send_data":
		return IMUModeSendData, nil
	case "events", "send_events":
		return IMUModeSendEvents, nil
	case "all", "send_all":
		return IMUModeSendAll, nil
	case "raw", "send_raw":
		return IMUModeSendRaw, nil
	default:
		return 0, fmt.Errorf("invalid IMU mode %q: use none, data, events, all or raw", s)
	}
}

// ClassifierMode toggles the on-board pose classifier.
type ClassifierMode uint8

const (
	ClassifierModeDisabled ClassifierMode = 0x00
	ClassifierModeEnabled  ClassifierMode = 0x01
)

func (m ClassifierMode) String() string {
	switch m {
	case ClassifierModeDisabled:
		return "disabled"
	case ClassifierModeEnabled:
		return "enabled"
	default:
		return fmt.Sprintf("classifier(0x%02x)", uint8(m))
	}
}

// ParseClassifierMode converts a configuration string into a ClassifierMode.
func ParseClassifierMode(s string) (ClassifierMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled", "off", "false":
		return ClassifierModeDisabled, nil
	case "enabled", "on", "true":
		return ClassifierModeEnabled, nil
	default:
		return 0, fmt.Errorf("invalid classifier mode %q: use enabled or disabled", s)
	}
}

// Vibration is the duration class of a vibrate command.
type Vibration uint8

const (
	VibrationNone   Vibration = 0x00
	VibrationShort  Vibration = 0x01
	VibrationMedium Vibration = 0x02
	VibrationLong   Vibration = 0x03
)

// SleepMode controls whether the armband sleeps when idle.
type SleepMode uint8

const (
	SleepModeNormal     SleepMode = 0x00
	SleepModeNeverSleep SleepMode = 0x01
)

// Pose is a gesture recognised by the on-board classifier.
type Pose uint16

const (
	PoseRest          Pose = 0x0000
	PoseFist          Pose = 0x0001
	PoseWaveIn        Pose = 0x0002
	PoseWaveOut       Pose = 0x0003
	PoseFingersSpread Pose = 0x0004
	PoseDoubleTap     Pose = 0x0005
	PoseUnknown       Pose = 0xffff
)

func (p Pose) String() string {
	switch p {
	case PoseRest:
		return "Rest"
	case PoseFist:
		return "Fist"
	case PoseWaveIn:
		return "Wave in"
	case PoseWaveOut:
		return "Wave out"
	case PoseFingersSpread:
		return "Spread"
	case PoseDoubleTap:
		return "Double Tap"
	default:
		return "Unknown"
	}
}

// Arm is the arm the armband reports being synced to.
type Arm uint8

const (
	ArmRight   Arm = 0x01
	ArmLeft    Arm = 0x02
	ArmUnknown Arm = 0xff
)

func (a Arm) String() string {
	switch a {
	case ArmRight:
		return "Right"
	case ArmLeft:
		return "Left"
	default:
		return "Unknown"
	}
}

// XDirection is the orientation of the armband's +x axis on the arm.
type XDirection uint8

const (
	XDirectionTowardWrist XDirection = 0x01
	XDirectionTowardElbow XDirection = 0x02
	XDirectionUnknown     XDirection = 0xff
)

func (d XDirection) String() string {
	switch d {
	case XDirectionTowardWrist:
		return "Wrist"
	case XDirectionTowardElbow:
		return "Elbow"
	default:
		return "Unknown"
	}
}

// SKU identifies the hardware variant.
type SKU uint8

const (
	SKUUnknown SKU = 0x00
	SKUBlack   SKU = 0x01
	SKUWhite   SKU = 0x02
)

func (s SKU) String() string {
	switch s {
	case SKUBlack:
		return "black"
	case SKUWhite:
		return "white"
	default:
		return "unknown"
	}
}

// Event is implemented by every decoded value delivered to the application.
type Event interface {
	EventType() string
}

// FirmwareVersion is the content of the firmware version characteristic.
type FirmwareVersion struct {
	Major       uint16 `json:"major"`
	Minor       uint16 `json:"minor"`
	Patch       uint16 `json:"patch"`
	HardwareRev uint16 `json:"hardware_rev"`
}

func (FirmwareVersion) EventType() string { return "firmware_version" }

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.HardwareRev)
}

// FirmwareInfo is the content of the Myo info characteristic.
type FirmwareInfo struct {
	SerialNumber          [6]byte `json:"serial_number"`
	UnlockPose            Pose    `json:"unlock_pose"`
	ActiveClassifierType  uint8   `json:"active_classifier_type"`
	ActiveClassifierIndex uint8   `json:"active_classifier_index"`
	HasCustomClassifier   bool    `json:"has_custom_classifier"`
	StreamIndicating      bool    `json:"stream_indicating"`
	SKU                   SKU     `json:"sku"`
}

func (FirmwareInfo) EventType() string { return "firmware_info" }

// Quaternion is the raw fixed-point orientation.
type Quaternion struct {
	W int16 `json:"w"`
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// IMUSample is one notification of the IMU data characteristic.
type IMUSample struct {
	Orientation   Quaternion `json:"orientation"`
	Accelerometer [3]int16   `json:"accelerometer"`
	Gyroscope     [3]int16   `json:"gyroscope"`
}

func (IMUSample) EventType() string { return "imu" }

// OrientationUnit returns the orientation as a unit quaternion (w, x, y, z).
func (s IMUSample) OrientationUnit() [4]float64 {
	return [4]float64{
		float64(s.Orientation.W) / OrientationScale,
		float64(s.Orientation.X) / OrientationScale,
		float64(s.Orientation.Y) / OrientationScale,
		float64(s.Orientation.Z) / OrientationScale,
	}
}

// AccelerationG returns the accelerometer reading in units of g.
func (s IMUSample) AccelerationG() [3]float64 {
	var out [3]float64
	for i, v := range s.Accelerometer {
		out[i] = float64(v) / AccelerometerScale
	}
	return out
}

// AngularVelocity returns the gyroscope reading in degrees per second.
func (s IMUSample) AngularVelocity() [3]float64 {
	var out [3]float64
	for i, v := range s.Gyroscope {
		out[i] = float64(v) / GyroscopeScale
	}
	return out
}

// ClassifierKind is the sub-type tag of a classifier event.
type ClassifierKind uint8

const (
	ClassifierUnknown     ClassifierKind = 0x00
	ClassifierArmSynced   ClassifierKind = 0x01
	ClassifierArmUnsynced ClassifierKind = 0x02
	ClassifierPose        ClassifierKind = 0x03
	ClassifierUnlocked    ClassifierKind = 0x04
	ClassifierLocked      ClassifierKind = 0x05
	ClassifierSyncFailed  ClassifierKind = 0x06
)

func (k ClassifierKind) String() string {
	switch k {
	case ClassifierArmSynced:
		return "arm_synced"
	case ClassifierArmUnsynced:
		return "arm_unsynced"
	case ClassifierPose:
		return "pose"
	case ClassifierUnlocked:
		return "unlocked"
	case ClassifierLocked:
		return "locked"
	case ClassifierSyncFailed:
		return "sync_failed"
	default:
		return "unknown"
	}
}

// ClassifierEvent is one notification of the classifier characteristic.
// Only the fields relevant to Kind are populated; Tag always carries the raw
// sub-type byte.
type ClassifierEvent struct {
	Kind       ClassifierKind `json:"kind"`
	Tag        uint8          `json:"tag"`
	Arm        Arm            `json:"arm,omitempty"`
	XDirection XDirection     `json:"x_direction,omitempty"`
	Pose       Pose           `json:"pose,omitempty"`
	SyncResult uint8          `json:"sync_result,omitempty"`
}

func (ClassifierEvent) EventType() string { return "classifier" }

func (e ClassifierEvent) String() string {
	switch e.Kind {
	case ClassifierArmSynced:
		return fmt.Sprintf("arm synced (side %s, x toward %s)", e.Arm, e.XDirection)
	case ClassifierPose:
		return fmt.Sprintf("pose %s", e.Pose)
	case ClassifierSyncFailed:
		return fmt.Sprintf("sync failed (result %d)", e.SyncResult)
	case ClassifierUnknown:
		return fmt.Sprintf("unknown event 0x%02x", e.Tag)
	default:
		return strings.ReplaceAll(e.Kind.String(), "_", " ")
	}
}

// EMGFrame is one notification of the EMG characteristic. Moving is passed
// through uninterpreted.
type EMGFrame struct {
	Channels [8]int16 `json:"channels"`
	Moving   uint8    `json:"moving"`
}

func (EMGFrame) EventType() string { return "emg" }

// BatteryLevel is the battery charge in percent.
type BatteryLevel uint8

func (BatteryLevel) EventType() string { return "battery" }

// Package protocol decodes and encodes the Myo armband's vendor GATT records.
//
// All functions are pure. Multi-byte fields are little-endian and every
// decoder checks the buffer length before touching a field, so short input
// yields ErrMalformedPayload instead of a panic. Longer input is accepted and
// the trailing bytes are ignored.
package protocol

import "encoding/binary"

var le = binary.LittleEndian

// DecodeFirmwareVersion decodes the firmware version characteristic.
func DecodeFirmwareVersion(b []byte) (FirmwareVersion, error) {
	if err := checkLen("firmware version", b, FirmwareVersionSize); err != nil {
		return FirmwareVersion{}, err
	}
	return FirmwareVersion{
		Major:       le.Uint16(b[0:2]),
		Minor:       le.Uint16(b[2:4]),
		Patch:       le.Uint16(b[4:6]),
		HardwareRev: le.Uint16(b[6:8]),
	}, nil
}

// DecodeFirmwareInfo decodes the Myo info characteristic.
func DecodeFirmwareInfo(b []byte) (FirmwareInfo, error) {
	if err := checkLen("firmware info", b, FirmwareInfoSize); err != nil {
		return FirmwareInfo{}, err
	}
	var info FirmwareInfo
	copy(info.SerialNumber[:], b[0:6])
	info.UnlockPose = Pose(le.Uint16(b[6:8]))
	info.ActiveClassifierType = b[8]
	info.ActiveClassifierIndex = b[9]
	info.HasCustomClassifier = b[10] != 0
	info.StreamIndicating = b[11] != 0
	info.SKU = SKU(b[12])
	return info, nil
}

// DecodeIMUSample decodes a notification of the IMU data characteristic.
func DecodeIMUSample(b []byte) (IMUSample, error) {
	if err := checkLen("IMU sample", b, IMUSampleSize); err != nil {
		return IMUSample{}, err
	}
	s := IMUSample{
		Orientation: Quaternion{
			W: int16(le.Uint16(b[0:2])),
			X: int16(le.Uint16(b[2:4])),
			Y: int16(le.Uint16(b[4:6])),
			Z: int16(le.Uint16(b[6:8])),
		},
	}
	for i := 0; i < 3; i++ {
		s.Accelerometer[i] = int16(le.Uint16(b[8+2*i:]))
		s.Gyroscope[i] = int16(le.Uint16(b[14+2*i:]))
	}
	return s, nil
}

// DecodeClassifierEvent decodes a notification of the classifier characteristic.
// Tags the firmware documents nowhere decode to ClassifierUnknown.
func DecodeClassifierEvent(b []byte) (ClassifierEvent, error) {
	if err := checkLen("classifier event", b, ClassifierEventSize); err != nil {
		return ClassifierEvent{}, err
	}
	ev := ClassifierEvent{Kind: ClassifierKind(b[0]), Tag: b[0]}
	switch ev.Kind {
	case ClassifierArmSynced:
		ev.Arm = Arm(b[1])
		ev.XDirection = XDirection(b[2])
	case ClassifierPose:
		ev.Pose = Pose(le.Uint16(b[1:3]))
	case ClassifierSyncFailed:
		ev.SyncResult = b[1]
	case ClassifierArmUnsynced, ClassifierUnlocked, ClassifierLocked:
	default:
		ev.Kind = ClassifierUnknown
	}
	return ev, nil
}

// DecodeEMGFrame decodes a notification of the EMG characteristic.
func DecodeEMGFrame(b []byte) (EMGFrame, error) {
	if err := checkLen("EMG frame", b, EMGFrameSize); err != nil {
		return EMGFrame{}, err
	}
	var f EMGFrame
	for i := range f.Channels {
		f.Channels[i] = int16(le.Uint16(b[2*i:]))
	}
	f.Moving = b[16]
	return f, nil
}

// DecodeBatteryLevel decodes the standard battery level characteristic.
func DecodeBatteryLevel(b []byte) (BatteryLevel, error) {
	if err := checkLen("battery level", b, BatteryLevelSize); err != nil {
		return 0, err
	}
	return BatteryLevel(b[0]), nil
}

// EncodeModeCommand builds the "set mode" command record.
func EncodeModeCommand(emg EMGMode, imu IMUMode, classifier ClassifierMode) []byte {
	return command(CommandSetMode, byte(emg), byte(imu), byte(classifier))
}

// EncodeVibrateCommand builds the "vibrate" command record.
func EncodeVibrateCommand(v Vibration) []byte {
	return command(CommandVibrate, byte(v))
}

// EncodeSleepModeCommand builds the "set sleep mode" command record.
func EncodeSleepModeCommand(m SleepMode) []byte {
	return command(CommandSetSleepMode, byte(m))
}

// EncodeDeepSleepCommand builds the "deep sleep" command record. The armband
// powers off and only wakes again on USB charge.
func EncodeDeepSleepCommand() []byte {
	return command(CommandDeepSleep)
}

// command prefixes payload with the two byte header (command id, payload size).
func command(id Command, payload ...byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = append(out, byte(id), byte(len(payload)))
	return append(out, payload...)
}

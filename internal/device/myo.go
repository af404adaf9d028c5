package device

import (
	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
)

// Myo is the application's handle on the armband. Its methods must be called
// on the driver's event loop, i.e. from a handler or through Driver.Post.
// Read results are delivered to the given callback, also on the loop.
type Myo struct {
	d *Driver
}

// Name is the device alias reported by the platform.
func (m *Myo) Name() string {
	if a := m.d.active; a != nil {
		return a.Peripheral().Alias
	}
	return ""
}

func (m *Myo) Address() string {
	if a := m.d.active; a != nil {
		return a.Peripheral().Address
	}
	return ""
}

func (m *Myo) Status() ConnectionStatus {
	if a := m.d.active; a != nil {
		return a.Status()
	}
	return StatusDisconnected
}

// Logger returns the driver's logger.
func (m *Myo) Logger() *logrus.Logger { return m.d.logger }

func (m *Myo) ReadFirmwareVersion(cb func(protocol.FirmwareVersion, error)) {
	m.readRole(profile.RoleFirmwareVersion, func(b []byte, err error) {
		if err != nil {
			cb(protocol.FirmwareVersion{}, err)
			return
		}
		cb(protocol.DecodeFirmwareVersion(b))
	})
}

func (m *Myo) ReadFirmwareInfo(cb func(protocol.FirmwareInfo, error)) {
	m.readRole(profile.RoleInfo, func(b []byte, err error) {
		if err != nil {
			cb(protocol.FirmwareInfo{}, err)
			return
		}
		cb(protocol.DecodeFirmwareInfo(b))
	})
}

func (m *Myo) ReadBatteryLevel(cb func(protocol.BatteryLevel, error)) {
	m.readRole(profile.RoleBatteryLevel, func(b []byte, err error) {
		if err != nil {
			cb(0, err)
			return
		}
		level, err := protocol.DecodeBatteryLevel(b)
		if err == nil {
			m.d.metrics.ObserveBattery(uint8(level))
		}
		cb(level, err)
	})
}

// ReadName reads the GAP device name characteristic.
func (m *Myo) ReadName(cb func(string, error)) {
	m.readRole(profile.RoleDeviceName, func(b []byte, err error) {
		if err != nil {
			cb("", err)
			return
		}
		cb(string(b), nil)
	})
}

func (m *Myo) readRole(role profile.Role, cb readCallback) {
	a, err := m.d.ready()
	if err != nil {
		m.d.later(func() { cb(nil, err) })
		return
	}
	c, ok := a.Profile().ByRole(role)
	if !ok || !c.Bound() {
		m.d.later(func() { cb(nil, ErrCharacteristicUnbound) })
		return
	}
	m.d.read(platform.ObjectPath(c.Handle), cb)
}

// SetMode sends the set-mode command. The modes are remembered and sent
// again whenever the armband becomes ready after a reconnect.
func (m *Myo) SetMode(modes Modes) error {
	m.d.lastMode = &modes
	m.d.logger.WithFields(logrus.Fields{
		"emg":        modes.EMG,
		"imu":        modes.IMU,
		"classifier": modes.Classifier,
	}).Debug("Setting mode")
	return m.d.writeCommand(protocol.EncodeModeCommand(modes.EMG, modes.IMU, modes.Classifier))
}

// SetNotify enables or disables notifications of kind. Repeating the
// current state does nothing.
func (m *Myo) SetNotify(kind NotifyKind, enabled bool) error {
	return m.d.dispatcher.SetNotify(kind, enabled)
}

func (m *Myo) Vibrate(v protocol.Vibration) error {
	return m.d.writeCommand(protocol.EncodeVibrateCommand(v))
}

func (m *Myo) SetSleepMode(mode protocol.SleepMode) error {
	return m.d.writeCommand(protocol.EncodeSleepModeCommand(mode))
}

// DeepSleep powers the armband off. It stays off until plugged into USB, so
// the link drops right after the write.
func (m *Myo) DeepSleep() error {
	m.d.logger.Warn("Sending deep sleep command")
	return m.d.writeCommand(protocol.EncodeDeepSleepCommand())
}

// DefaultInitializer returns an Initialize handler that reads the firmware
// version and device name, enables the notifications the modes need and
// sends the mode command. Decoded records are passed to sink if set.
//
// Modes carry the armband's own numbering, so IMU send_events goes out as 2
// and the default data/enabled selection encodes as 01 03 00 01 01.
func DefaultInitializer(modes Modes, sink func(protocol.Event)) func(*Myo) {
	return func(m *Myo) {
		m.ReadFirmwareVersion(func(v protocol.FirmwareVersion, err error) {
			if err != nil {
				m.d.reportError(err)
				return
			}
			m.Logger().WithField("firmware", v.String()).Info("Firmware version")
			if sink != nil {
				sink(v)
			}
		})
		m.ReadName(func(name string, err error) {
			if err != nil {
				m.d.reportError(err)
				return
			}
			m.Logger().WithField("name", name).Info("Connected to Myo")
		})

		if modes.IMU != protocol.IMUModeNone {
			m.d.reportError(m.SetNotify(NotifyIMU, true))
		}
		if modes.Classifier == protocol.ClassifierModeEnabled {
			m.d.reportError(m.SetNotify(NotifyClassifier, true))
		}
		if modes.EMG != protocol.EMGModeNone {
			m.d.reportError(m.SetNotify(NotifyEMG, true))
		}
		m.d.reportError(m.SetMode(modes))
	}
}

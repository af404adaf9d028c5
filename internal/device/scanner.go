package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
)

// Admission is the scanner's verdict on an advertised UUID set.
type Admission uint8

const (
	AdmissionReject Admission = iota
	AdmissionDefer
	AdmissionAdmit
)

func (a Admission) String() string {
	switch a {
	case AdmissionReject:
		return "reject"
	case AdmissionDefer:
		return "defer"
	case AdmissionAdmit:
		return "admit"
	default:
		return fmt.Sprintf("admission(%d)", uint8(a))
	}
}

// Admit admits UUID sets carrying the Myo control service, defers empty
// ones and rejects the rest.
func Admit(uuids []string) Admission {
	if len(uuids) == 0 {
		return AdmissionDefer
	}
	control := profile.ControlService.String()
	for _, u := range uuids {
		if profile.SameUUID(u, control) {
			return AdmissionAdmit
		}
	}
	return AdmissionReject
}

var errNoAdapter = errors.New("no adapter acquired")

// Scanner holds the local adapter and drives discovery on it.
type Scanner struct {
	plat     platform.Platform
	logger   *logrus.Logger
	adapter  *platform.AdapterInfo
	scanning bool
}

func NewScanner(plat platform.Platform, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{plat: plat, logger: logger}
}

// Acquire selects the adapter by name, path or address. An empty name picks
// the first powered adapter.
func (s *Scanner) Acquire(ctx context.Context, name string) (platform.AdapterInfo, error) {
	adapters, err := s.plat.Adapters(ctx)
	if err != nil {
		return platform.AdapterInfo{}, &AdapterError{Adapter: name, Err: err}
	}
	if len(adapters) == 0 {
		return platform.AdapterInfo{}, &AdapterError{Adapter: name, Err: platform.ErrNoSuchObject}
	}

	var found *platform.AdapterInfo
	for i := range adapters {
		a := &adapters[i]
		if name == "" {
			if a.Powered {
				found = a
				break
			}
			continue
		}
		if a.Name == name || string(a.Path) == name || strings.EqualFold(a.Address, name) {
			found = a
			break
		}
	}
	if found == nil && name == "" {
		found = &adapters[0]
	}
	if found == nil {
		return platform.AdapterInfo{}, &AdapterError{Adapter: name, Err: platform.ErrNoSuchObject}
	}
	if !found.Powered {
		return platform.AdapterInfo{}, &AdapterError{Adapter: found.Name, Err: platform.ErrBluetoothOff}
	}

	s.adapter = found
	s.logger.WithFields(logrus.Fields{
		"adapter": found.Name,
		"address": found.Address,
		"path":    found.Path,
	}).Info("Using Bluetooth adapter")
	return *found, nil
}

// Adapter returns the acquired adapter, or the zero value.
func (s *Scanner) Adapter() platform.AdapterInfo {
	if s.adapter == nil {
		return platform.AdapterInfo{}
	}
	return *s.adapter
}

func (s *Scanner) Scanning() bool { return s.scanning }

// StartScan starts discovery filtered on the Myo control service.
func (s *Scanner) StartScan() error {
	if s.adapter == nil {
		return &AdapterError{Err: errNoAdapter}
	}
	if s.scanning {
		return nil
	}
	if err := s.plat.StartDiscovery(s.adapter.Path, []string{profile.ControlService.String()}); err != nil {
		return &AdapterError{Adapter: s.adapter.Name, Err: err}
	}
	s.scanning = true
	s.logger.WithField("adapter", s.adapter.Name).Info("Scanning for Myo...")
	return nil
}

// StopScan stops discovery. It is a no-op when not scanning.
func (s *Scanner) StopScan() error {
	if s.adapter == nil {
		return &AdapterError{Err: errNoAdapter}
	}
	if !s.scanning {
		return nil
	}
	s.scanning = false
	if err := s.plat.StopDiscovery(s.adapter.Path); err != nil {
		return &AdapterError{Adapter: s.adapter.Name, Err: err}
	}
	s.logger.WithField("adapter", s.adapter.Name).Debug("Scan stopped")
	return nil
}

// OnCallDone consumes discovery completions. A failed start is fatal and
// returned as an *AdapterError.
func (s *Scanner) OnCallDone(e platform.CallDone) error {
	if s.adapter == nil || e.Path != s.adapter.Path {
		return nil
	}
	switch e.Op {
	case platform.OpStartDiscovery:
		if e.Err == nil {
			return nil
		}
		s.scanning = false
		return &AdapterError{Adapter: s.adapter.Name, Err: e.Err}
	case platform.OpStopDiscovery:
		if e.Err != nil {
			s.logger.WithError(e.Err).Debug("Stop discovery failed")
		}
		s.scanning = false
	}
	return nil
}

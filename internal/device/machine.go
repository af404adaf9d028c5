package device

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
)

// State is the resolution state of one peripheral.
type State uint8

const (
	StateUnknown State = iota
	StateAwaitingUUIDs
	StateUUIDsKnown
	StateConnecting
	StateConnected
	StateResolvingServices
	StateBindingCharacteristics
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAwaitingUUIDs:
		return "awaiting_uuids"
	case StateUUIDsKnown:
		return "uuids_known"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateResolvingServices:
		return "resolving_services"
	case StateBindingCharacteristics:
		return "binding_characteristics"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// linked reports whether the state belongs to a live or pending link.
func (s State) linked() bool {
	return s >= StateConnecting && s <= StateReady
}

// Status maps the state onto the coarse connection status.
func (s State) Status() ConnectionStatus {
	switch {
	case s == StateConnecting:
		return StatusConnecting
	case s > StateConnecting && s <= StateReady:
		return StatusConnected
	default:
		return StatusDisconnected
	}
}

// ConnectionStatus is what the application sees of the link.
type ConnectionStatus uint8

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Effect is a side effect requested by a transition. The driver executes them
// in order.
type Effect interface {
	isEffect()
}

// Watch asks the platform to deliver property changes of the device.
type Watch struct{}

// StopScan stops discovery on the adapter.
type StopScan struct{}

// Connect starts connecting to the device.
type Connect struct{}

// RefreshObjects re-announces the device's GATT objects.
type RefreshObjects struct{}

// ArmResolveTimer (re)starts the service resolution timer. Expiry must be
// fed back through ResolveTimeout with Gen.
type ArmResolveTimer struct {
	Gen   uint64
	Delay time.Duration
}

// Initialize runs the application initializer on first readiness.
type Initialize struct{}

// Restore re-establishes subscriptions and the last mode on later readiness.
type Restore struct{}

// InvalidateSubscriptions marks every subscription inactive.
type InvalidateSubscriptions struct{}

// ScheduleReconnect asks for ReconnectDue(Gen) after Delay.
type ScheduleReconnect struct {
	Gen     uint64
	Delay   time.Duration
	Attempt int
}

// Release hands the machine back to the driver. Gone is set when the device
// object itself was removed.
type Release struct {
	Gone bool
}

// ReportError surfaces a recoverable error to the application.
type ReportError struct {
	Err error
}

func (Watch) isEffect()                   {}
func (StopScan) isEffect()                {}
func (Connect) isEffect()                 {}
func (RefreshObjects) isEffect()          {}
func (ArmResolveTimer) isEffect()         {}
func (Initialize) isEffect()              {}
func (Restore) isEffect()                 {}
func (InvalidateSubscriptions) isEffect() {}
func (ScheduleReconnect) isEffect()       {}
func (Release) isEffect()                 {}
func (ReportError) isEffect()             {}

// Peripheral is what the platform told us about a remote device.
type Peripheral struct {
	Path    platform.ObjectPath
	Adapter platform.ObjectPath
	Address string
	Alias   string
	UUIDs   []string
}

// MachineOptions tunes timers of a Machine.
type MachineOptions struct {
	ResolveTimeout time.Duration
	ReconnectMax   time.Duration
}

const (
	DefaultResolveTimeout = 10 * time.Second
	DefaultReconnectMax   = 30 * time.Second
)

// Machine tracks one peripheral from discovery to readiness and back.
//
// Apply is a pure transition function over the machine's own state: it
// never performs I/O and returns the effects the driver must execute.
// A Machine is not safe for concurrent use; the driver's event loop owns it.
type Machine struct {
	peripheral Peripheral
	state      State
	profile    *profile.Profile

	// services maps service object paths to their UUIDs, bound or not.
	services map[platform.ObjectPath]string
	// deferred holds characteristics seen before their service was bound.
	deferred []platform.CharacteristicAdded

	connected        bool
	servicesResolved bool

	readyCount   int
	attempts     int
	resolveGen   uint64
	reconnectGen uint64

	opts   MachineOptions
	logger *logrus.Logger

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// NewMachine creates a machine for the device at path in StateUnknown.
func NewMachine(path platform.ObjectPath, opts MachineOptions, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}
	return &Machine{
		peripheral: Peripheral{Path: path},
		profile:    profile.Declare(),
		services:   make(map[platform.ObjectPath]string),
		opts:       opts,
		logger:     logger,
	}
}

func (m *Machine) Path() platform.ObjectPath { return m.peripheral.Path }

func (m *Machine) State() State { return m.state }

func (m *Machine) Status() ConnectionStatus { return m.state.Status() }

func (m *Machine) Profile() *profile.Profile { return m.profile }

// Peripheral returns a copy of what is known about the device.
func (m *Machine) Peripheral() Peripheral {
	p := m.peripheral
	p.UUIDs = slices.Clone(p.UUIDs)
	return p
}

// Attempts is the number of consecutive failed links since the last Ready.
func (m *Machine) Attempts() int { return m.attempts }

// Apply feeds a platform event for this device or one of its GATT objects.
func (m *Machine) Apply(ev platform.Event) []Effect {
	switch e := ev.(type) {
	case platform.DeviceAdded:
		return m.onDeviceAdded(e)
	case platform.DeviceChanged:
		return m.onDeviceChanged(e)
	case platform.ServiceAdded:
		return m.onServiceAdded(e)
	case platform.CharacteristicAdded:
		return m.onCharacteristicAdded(e)
	case platform.ObjectRemoved:
		return m.onObjectRemoved(e)
	case platform.CallDone:
		return m.onCallDone(e)
	}
	return nil
}

// Claim grants this machine the driver's single active slot.
func (m *Machine) Claim() []Effect {
	if m.state != StateUUIDsKnown {
		return nil
	}
	m.setState(StateConnecting)
	return []Effect{StopScan{}, Connect{}}
}

// ReconnectDue fires the reconnect timer scheduled with gen.
func (m *Machine) ReconnectDue(gen uint64) []Effect {
	if gen != m.reconnectGen || m.state != StateDisconnected {
		return nil
	}
	m.setState(StateConnecting)
	return []Effect{Connect{}}
}

// ResolveTimeout fires the resolution timer armed with gen. Resolution is
// restarted from a fresh object enumeration.
func (m *Machine) ResolveTimeout(gen uint64) []Effect {
	if gen != m.resolveGen {
		return nil
	}
	switch m.state {
	case StateConnected, StateResolvingServices, StateBindingCharacteristics:
	default:
		return nil
	}

	missing := m.profile.Missing()
	m.logger.WithFields(logrus.Fields{
		"path":    m.peripheral.Path,
		"state":   m.state,
		"missing": missing,
	}).Warn("Service resolution timed out, re-resolving")

	effects := []Effect{ReportError{Err: fmt.Errorf("%w: %s: missing %v", ErrServiceResolutionTimeout, m.peripheral.Address, missing)}}
	return append(effects, m.resolve()...)
}

func (m *Machine) onDeviceAdded(e platform.DeviceAdded) []Effect {
	m.peripheral.Adapter = e.Adapter
	m.peripheral.Address = e.Address
	m.peripheral.Alias = e.Alias
	m.peripheral.UUIDs = slices.Clone(e.UUIDs)
	m.connected = e.Connected
	m.servicesResolved = e.ServicesResolved
	return m.admit()
}

func (m *Machine) onDeviceChanged(e platform.DeviceChanged) []Effect {
	var effects []Effect
	if e.Alias != nil {
		m.peripheral.Alias = *e.Alias
	}
	if e.UUIDs != nil {
		m.peripheral.UUIDs = slices.Clone(e.UUIDs)
		effects = append(effects, m.admit()...)
	}
	if e.Connected != nil {
		m.connected = *e.Connected
		if m.connected {
			effects = append(effects, m.linkUp()...)
		} else {
			effects = append(effects, m.linkLost(nil)...)
		}
	}
	if e.ServicesResolved != nil {
		m.servicesResolved = *e.ServicesResolved
		if m.servicesResolved {
			if m.state == StateConnected {
				effects = append(effects, m.resolve()...)
			}
		} else {
			effects = append(effects, m.unresolve()...)
		}
	}
	return effects
}

// admit decides, from the advertised UUIDs, whether this is a Myo.
func (m *Machine) admit() []Effect {
	if m.state != StateUnknown && m.state != StateAwaitingUUIDs {
		return nil
	}
	switch Admit(m.peripheral.UUIDs) {
	case AdmissionDefer:
		if m.state == StateAwaitingUUIDs {
			return nil
		}
		m.setState(StateAwaitingUUIDs)
		return []Effect{Watch{}}
	case AdmissionAdmit:
		m.setState(StateUUIDsKnown)
		return nil
	default:
		m.setState(StateUnknown)
		return []Effect{Release{}}
	}
}

func (m *Machine) linkUp() []Effect {
	if m.state != StateConnecting {
		return nil
	}
	return m.enterConnected()
}

func (m *Machine) enterConnected() []Effect {
	m.connected = true
	m.setState(StateConnected)
	effects := []Effect{m.armResolve()}
	if m.servicesResolved {
		effects = append(effects, m.resolve()...)
	}
	return effects
}

// resolve walks ResolvingServices into BindingCharacteristics. Bindings that
// arrived earlier are kept, so readiness may be reached immediately.
func (m *Machine) resolve() []Effect {
	m.setState(StateResolvingServices)
	effects := []Effect{RefreshObjects{}, m.armResolve()}
	m.setState(StateBindingCharacteristics)
	return append(effects, m.checkReady()...)
}

func (m *Machine) unresolve() []Effect {
	switch m.state {
	case StateResolvingServices, StateBindingCharacteristics, StateReady:
	default:
		return nil
	}
	wasReady := m.state == StateReady
	m.setState(StateConnected)
	var effects []Effect
	if wasReady {
		effects = append(effects, InvalidateSubscriptions{})
	}
	return append(effects, m.armResolve())
}

func (m *Machine) armResolve() Effect {
	m.resolveGen++
	return ArmResolveTimer{Gen: m.resolveGen, Delay: m.opts.ResolveTimeout}
}

func (m *Machine) onServiceAdded(e platform.ServiceAdded) []Effect {
	if m.state == StateUnknown {
		return nil
	}
	m.services[e.Path] = e.UUID
	var previous profile.Handle
	if svc, ok := m.profile.Service(e.UUID); ok {
		previous = svc.Handle
	}
	if err := m.profile.BindService(e.UUID, profile.Handle(e.Path)); err != nil {
		m.logger.WithFields(logrus.Fields{
			"path": e.Path,
			"uuid": e.UUID,
		}).Debug("Ignoring undeclared service")
		return nil
	}
	m.logger.WithFields(logrus.Fields{
		"path": e.Path,
		"uuid": e.UUID,
	}).Debug("Service bound")

	effects := m.rebound(previous != "" && previous != profile.Handle(e.Path))

	pending := m.deferred
	m.deferred = nil
	for _, c := range pending {
		m.bindCharacteristic(c)
	}
	return append(effects, m.checkReady()...)
}

func (m *Machine) onCharacteristicAdded(e platform.CharacteristicAdded) []Effect {
	if m.state == StateUnknown {
		return nil
	}
	var previous profile.Handle
	if c, ok := m.profile.Characteristic(e.UUID); ok {
		previous = c.Handle
	}
	m.bindCharacteristic(e)

	var current profile.Handle
	if c, ok := m.profile.Characteristic(e.UUID); ok {
		current = c.Handle
	}
	effects := m.rebound(previous != "" && current != previous)
	return append(effects, m.checkReady()...)
}

// rebound leaves Ready when a bound handle moved or went away. Readiness is
// earned again through checkReady, which emits Restore.
func (m *Machine) rebound(changed bool) []Effect {
	if !changed || m.state != StateReady {
		return nil
	}
	m.setState(StateBindingCharacteristics)
	return []Effect{InvalidateSubscriptions{}, m.armResolve()}
}

func (m *Machine) bindCharacteristic(e platform.CharacteristicAdded) {
	svcUUID, ok := m.services[e.Service]
	if !ok {
		m.deferCharacteristic(e)
		return
	}
	err := m.profile.BindCharacteristic(svcUUID, e.UUID, profile.Handle(e.Path))
	switch {
	case err == nil:
		m.logger.WithFields(logrus.Fields{
			"path": e.Path,
			"uuid": e.UUID,
		}).Debug("Characteristic bound")
	case errors.Is(err, profile.ErrServiceNotBound):
		m.deferCharacteristic(e)
	default:
		m.logger.WithFields(logrus.Fields{
			"path":  e.Path,
			"uuid":  e.UUID,
			"error": err,
		}).Debug("Ignoring undeclared characteristic")
	}
}

func (m *Machine) deferCharacteristic(e platform.CharacteristicAdded) {
	for i, c := range m.deferred {
		if c.Path == e.Path {
			m.deferred[i] = e
			return
		}
	}
	m.deferred = append(m.deferred, e)
}

// Deferred returns the number of characteristics waiting for their service.
func (m *Machine) Deferred() int { return len(m.deferred) }

func (m *Machine) checkReady() []Effect {
	if m.state != StateBindingCharacteristics || !m.profile.IsReady() {
		return nil
	}
	m.setState(StateReady)
	m.attempts = 0
	m.resolveGen++
	m.readyCount++
	if m.readyCount == 1 {
		return []Effect{Initialize{}}
	}
	return []Effect{Restore{}}
}

func (m *Machine) onObjectRemoved(e platform.ObjectRemoved) []Effect {
	if e.Path == m.peripheral.Path {
		return m.removed()
	}

	if _, ok := m.services[e.Path]; ok {
		delete(m.services, e.Path)
		m.deferred = slices.DeleteFunc(m.deferred, func(c platform.CharacteristicAdded) bool {
			return c.Service == e.Path
		})
	} else {
		m.deferred = slices.DeleteFunc(m.deferred, func(c platform.CharacteristicAdded) bool {
			return c.Path == e.Path
		})
	}
	return m.rebound(m.profile.Unbind(profile.Handle(e.Path)))
}

// removed handles the device object itself disappearing.
func (m *Machine) removed() []Effect {
	wasLinked := m.state.linked() || m.state == StateDisconnected
	m.clear()
	m.connected = false
	m.servicesResolved = false
	m.resolveGen++
	m.reconnectGen++
	m.setState(StateUnknown)

	var effects []Effect
	if wasLinked {
		effects = append(effects, InvalidateSubscriptions{})
	}
	return append(effects, Release{Gone: true})
}

func (m *Machine) onCallDone(e platform.CallDone) []Effect {
	if e.Op != platform.OpConnect || m.state != StateConnecting {
		return nil
	}
	switch {
	case e.Err == nil, errors.Is(e.Err, platform.ErrAlreadyConnected):
		return m.enterConnected()
	case errors.Is(e.Err, platform.ErrInProgress):
		return nil
	default:
		return m.linkLost(fmt.Errorf("%w: %s: %w", ErrConnectFailed, m.peripheral.Address, e.Err))
	}
}

// linkLost moves a linked machine to Disconnected and schedules a reconnect.
func (m *Machine) linkLost(cause error) []Effect {
	if !m.state.linked() {
		return nil
	}
	m.clear()
	m.connected = false
	m.servicesResolved = false
	m.resolveGen++
	m.reconnectGen++
	m.attempts++
	m.setState(StateDisconnected)

	effects := []Effect{InvalidateSubscriptions{}}
	if cause != nil {
		effects = append(effects, ReportError{Err: cause})
	}
	return append(effects, ScheduleReconnect{
		Gen:     m.reconnectGen,
		Delay:   m.backoff(m.attempts),
		Attempt: m.attempts,
	})
}

func (m *Machine) clear() {
	m.profile.Reset()
	m.deferred = nil
	clear(m.services)
}

// backoff: the first retry is immediate, then 1s, 2s, 4s... capped at
// ReconnectMax.
func (m *Machine) backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	shift := attempt - 2
	if shift > 30 {
		return m.opts.ReconnectMax
	}
	d := time.Second << shift
	if d > m.opts.ReconnectMax {
		return m.opts.ReconnectMax
	}
	return d
}

func (m *Machine) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.WithFields(logrus.Fields{
		"path": m.peripheral.Path,
		"from": from,
		"to":   to,
	}).Debug("State transition")
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

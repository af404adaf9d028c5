package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/yodaldevoid/MyoBlueZ/internal/metrics"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
)

const DefaultShutdownTimeout = 5 * time.Second

// MaxIgnoredDevices bounds the rejected devices kept for a later UUID change.
// The oldest entry is forgotten first.
const MaxIgnoredDevices = 256

// Modes is the streaming configuration sent with the set-mode command.
type Modes struct {
	EMG        protocol.EMGMode
	IMU        protocol.IMUMode
	Classifier protocol.ClassifierMode
}

// Options configures a Driver. Zero durations fall back to defaults, except
// ScanTimeout where zero waits forever.
type Options struct {
	Adapter         string
	ScanTimeout     time.Duration
	ResolveTimeout  time.Duration
	ReconnectMax    time.Duration
	ShutdownTimeout time.Duration
	NotifyRetries   int
}

// Handlers are the application callbacks. All of them run on the driver's
// event loop goroutine; nil handlers are skipped.
type Handlers struct {
	// Initialize runs once, the first time the armband becomes ready.
	Initialize   func(*Myo)
	OnIMU        func(*Myo, protocol.IMUSample)
	OnClassifier func(*Myo, protocol.ClassifierEvent)
	OnEMG        func(*Myo, protocol.EMGFrame)
	OnStatus     func(*Myo, ConnectionStatus)
	OnError      func(*Myo, error)
}

type readCallback func([]byte, error)

type opKey struct {
	op   platform.Op
	path platform.ObjectPath
}

// Driver is the context of one driver instance: the platform, the scanner,
// one resolution machine per candidate device, the dispatcher and the
// application handlers. Run is its single event loop.
type Driver struct {
	plat     platform.Platform
	handlers Handlers
	opts     Options
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	scanner    *Scanner
	dispatcher *Dispatcher
	myo        *Myo

	machines map[platform.ObjectPath]*Machine
	ignored  *orderedmap.OrderedMap[platform.ObjectPath, platform.DeviceAdded]
	active   *Machine

	initialized bool
	lastMode    *Modes
	status      ConnectionStatus
	reads       map[platform.ObjectPath][]readCallback

	inbox     chan func()
	queue     []func()
	done      chan struct{}
	fatal     error
	scanTimer *time.Timer
}

// New creates a driver on plat. The driver owns plat from Run on and closes it.
func New(plat platform.Platform, handlers Handlers, opts Options, logger *logrus.Logger, m *metrics.Metrics) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	d := &Driver{
		plat:     plat,
		handlers: handlers,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		scanner:  NewScanner(plat, logger),
		machines: make(map[platform.ObjectPath]*Machine),
		ignored:  orderedmap.New[platform.ObjectPath, platform.DeviceAdded](),
		reads:    make(map[platform.ObjectPath][]readCallback),
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	d.myo = &Myo{d: d}
	d.dispatcher = NewDispatcher(plat, opts.NotifyRetries, logger, m)
	d.dispatcher.OnIMU = func(s protocol.IMUSample) {
		if d.handlers.OnIMU != nil {
			d.handlers.OnIMU(d.myo, s)
		}
	}
	d.dispatcher.OnClassifier = func(ev protocol.ClassifierEvent) {
		if d.handlers.OnClassifier != nil {
			d.handlers.OnClassifier(d.myo, ev)
		}
	}
	d.dispatcher.OnEMG = func(f protocol.EMGFrame) {
		if d.handlers.OnEMG != nil {
			d.handlers.OnEMG(d.myo, f)
		}
	}
	d.dispatcher.OnError = d.reportError
	return d
}

// Myo returns the handle passed to every callback.
func (d *Driver) Myo() *Myo { return d.myo }

// Post runs fn with the Myo handle on the event loop. It reports false once
// the loop has stopped.
func (d *Driver) Post(fn func(*Myo)) bool {
	return d.post(func() { fn(d.myo) })
}

func (d *Driver) post(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.inbox <- fn:
		return true
	case <-d.done:
		return false
	}
}

// later queues fn to run on the loop after the current event.
func (d *Driver) later(fn func()) {
	d.queue = append(d.queue, fn)
}

// after posts fn into the loop once delay elapsed.
func (d *Driver) after(delay time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(delay, func() { d.post(fn) })
}

// Run acquires the adapter, scans, and processes events until ctx is done or
// a fatal error occurs. Cancellation is a clean shutdown and returns nil.
// The platform is closed on return.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.done)

	if _, err := d.scanner.Acquire(ctx, d.opts.Adapter); err != nil {
		d.logger.WithError(err).Error("Cannot acquire Bluetooth adapter")
		d.closePlatform()
		return err
	}
	if err := d.scanner.StartScan(); err != nil {
		d.logger.WithError(err).Error("Cannot start scanning")
		d.closePlatform()
		return err
	}
	if d.opts.ScanTimeout > 0 {
		d.scanTimer = d.after(d.opts.ScanTimeout, d.onScanTimeout)
	}

	err := d.loop(ctx)
	if err != nil {
		d.logger.WithError(err).Error("Driver stopped")
	} else {
		d.logger.Info("Shutting down...")
	}
	d.teardown()
	return err
}

func (d *Driver) loop(ctx context.Context) error {
	events := d.plat.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return &AdapterError{Adapter: d.scanner.Adapter().Name, Err: platform.ErrPlatformClose}
			}
			d.handle(ev)
		case fn := <-d.inbox:
			fn()
		}

		d.syncStatus()
		for len(d.queue) > 0 {
			fn := d.queue[0]
			d.queue = d.queue[1:]
			fn()
			d.syncStatus()
		}
		if d.fatal != nil {
			return d.fatal
		}
	}
}

func (d *Driver) handle(ev platform.Event) {
	switch e := ev.(type) {
	case platform.CallDone:
		d.onCallDone(e)
	case platform.ValueChanged:
		if d.active != nil && under(e.Path, d.active.Path()) {
			d.dispatcher.OnValueChanged(profile.Handle(e.Path), e.Value)
		}
	case platform.DeviceAdded:
		d.onDeviceAdded(e)
	case platform.DeviceChanged:
		d.onDeviceChanged(e)
	case platform.ServiceAdded:
		d.route(e.Path, ev)
	case platform.CharacteristicAdded:
		d.route(e.Path, ev)
	case platform.ObjectRemoved:
		if _, ok := d.ignored.Delete(e.Path); ok {
			return
		}
		d.route(e.Path, ev)
	}
}

func (d *Driver) onDeviceAdded(e platform.DeviceAdded) {
	if m, ok := d.machines[e.Path]; ok {
		d.apply(m, m.Apply(e))
		return
	}
	adapter := d.scanner.Adapter().Path
	if e.Adapter != "" && adapter != "" && e.Adapter != adapter {
		return
	}
	d.ignored.Delete(e.Path)
	d.apply(d.newMachine(e.Path), nil, e)
}

func (d *Driver) onDeviceChanged(e platform.DeviceChanged) {
	if m, ok := d.machines[e.Path]; ok {
		d.apply(m, m.Apply(e))
		return
	}
	added, ok := d.ignored.Get(e.Path)
	if !ok {
		return
	}
	if e.Alias != nil {
		added.Alias = *e.Alias
	}
	if e.Connected != nil {
		added.Connected = *e.Connected
	}
	if e.ServicesResolved != nil {
		added.ServicesResolved = *e.ServicesResolved
	}
	if e.UUIDs == nil || Admit(e.UUIDs) == AdmissionReject {
		if e.UUIDs != nil {
			added.UUIDs = e.UUIDs
		}
		d.ignored.Set(e.Path, added)
		return
	}

	added.UUIDs = e.UUIDs
	d.ignored.Delete(e.Path)
	d.apply(d.newMachine(e.Path), nil, added)
}

// route hands ev to the machine owning path.
func (d *Driver) route(path platform.ObjectPath, ev platform.Event) {
	for _, m := range d.machines {
		if under(path, m.Path()) {
			d.apply(m, m.Apply(ev))
			return
		}
	}
}

func (d *Driver) newMachine(path platform.ObjectPath) *Machine {
	m := NewMachine(path, MachineOptions{
		ResolveTimeout: d.opts.ResolveTimeout,
		ReconnectMax:   d.opts.ReconnectMax,
	}, d.logger)
	m.OnTransition = func(from, to State) {
		if m == d.active {
			d.metrics.ObserveTransition(from.String(), to.String())
		}
	}
	d.machines[path] = m
	return m
}

// apply executes effects for m, then feeds any extra events to it.
func (d *Driver) apply(m *Machine, effects []Effect, events ...platform.Event) {
	for _, ev := range events {
		effects = append(effects, m.Apply(ev)...)
	}
	for _, eff := range effects {
		d.execute(m, eff)
	}
	if d.active == nil && m.State() == StateUUIDsKnown {
		if _, ok := d.machines[m.Path()]; ok {
			d.claim(m)
		}
	}
}

func (d *Driver) execute(m *Machine, eff Effect) {
	path := m.Path()
	log := d.logger.WithField("path", path)

	switch e := eff.(type) {
	case Watch:
		if err := d.plat.Watch(path); err != nil {
			log.WithError(err).Warn("Cannot watch device properties")
		}
	case StopScan:
		d.stopScanTimer()
		if err := d.scanner.StopScan(); err != nil {
			log.WithError(err).Warn("Cannot stop scanning")
		}
	case Connect:
		log.WithField("address", m.Peripheral().Address).Info("Connecting to Myo...")
		if err := d.plat.Connect(path); err != nil {
			done := platform.CallDone{Op: platform.OpConnect, Path: path, Err: platform.NormalizeError(err)}
			d.later(func() { d.apply(m, m.Apply(done)) })
		}
	case RefreshObjects:
		if err := d.plat.Refresh(path); err != nil {
			log.WithError(err).Warn("Cannot enumerate GATT objects")
		}
	case ArmResolveTimer:
		d.after(e.Delay, func() { d.apply(m, m.ResolveTimeout(e.Gen)) })
	case Initialize:
		d.onReady(m, true)
	case Restore:
		d.onReady(m, false)
	case InvalidateSubscriptions:
		if m == d.active {
			d.dispatcher.Invalidate()
			d.failReads(ErrNotReady)
		}
	case ScheduleReconnect:
		d.metrics.ObserveReconnect()
		log.WithFields(logrus.Fields{
			"attempt": e.Attempt,
			"delay":   e.Delay,
		}).Warn("Link lost, reconnecting")
		if e.Delay <= 0 {
			d.later(func() { d.apply(m, m.ReconnectDue(e.Gen)) })
		} else {
			d.after(e.Delay, func() { d.apply(m, m.ReconnectDue(e.Gen)) })
		}
	case Release:
		d.release(m, e)
	case ReportError:
		d.reportError(e.Err)
	}
}

func (d *Driver) ignore(added platform.DeviceAdded) {
	d.ignored.Set(added.Path, added)
	for d.ignored.Len() > MaxIgnoredDevices {
		oldest := d.ignored.Oldest()
		d.logger.WithField("path", oldest.Key).Debug("Forgetting ignored device")
		d.ignored.Delete(oldest.Key)
	}
}

func (d *Driver) claim(m *Machine) {
	p := m.Peripheral()
	d.logger.WithFields(logrus.Fields{
		"path":    p.Path,
		"address": p.Address,
		"name":    p.Alias,
	}).Info("Found Myo")
	d.active = m
	d.metrics.ObserveTransition(StateUnknown.String(), m.State().String())
	d.dispatcher.SetProfile(m.Profile())
	d.apply(m, m.Claim())
}

func (d *Driver) release(m *Machine, r Release) {
	delete(d.machines, m.Path())
	if !r.Gone {
		p := m.Peripheral()
		d.ignore(platform.DeviceAdded{
			Path:    p.Path,
			Adapter: p.Adapter,
			Address: p.Address,
			Alias:   p.Alias,
			UUIDs:   p.UUIDs,
		})
		d.logger.WithFields(logrus.Fields{
			"path":  p.Path,
			"uuids": p.UUIDs,
		}).Debug("Ignoring device")
	}
	if m != d.active {
		return
	}

	d.logger.WithField("path", m.Path()).Warn("Myo removed, scanning again")
	d.active = nil
	d.dispatcher.SetProfile(nil)
	d.failReads(ErrNotReady)
	if err := d.scanner.StartScan(); err != nil {
		d.fatal = err
		return
	}
	for _, other := range d.machines {
		if other.State() == StateUUIDsKnown {
			d.claim(other)
			return
		}
	}
}

func (d *Driver) onReady(m *Machine, first bool) {
	if m != d.active {
		return
	}
	p := m.Peripheral()
	d.logger.WithFields(logrus.Fields{
		"address": p.Address,
		"name":    p.Alias,
	}).Info("Myo ready")

	if first && !d.initialized {
		d.initialized = true
		if d.handlers.Initialize != nil {
			d.handlers.Initialize(d.myo)
		}
		return
	}
	if err := d.dispatcher.Resubscribe(); err != nil {
		d.reportError(err)
	}
	if d.lastMode != nil {
		if err := d.writeCommand(protocol.EncodeModeCommand(d.lastMode.EMG, d.lastMode.IMU, d.lastMode.Classifier)); err != nil {
			d.reportError(err)
		}
	}
}

func (d *Driver) onCallDone(e platform.CallDone) {
	switch e.Op {
	case platform.OpStartDiscovery, platform.OpStopDiscovery:
		if err := d.scanner.OnCallDone(e); err != nil {
			d.fatal = err
		}
	case platform.OpStartNotify, platform.OpStopNotify:
		d.dispatcher.OnCallDone(e)
	case platform.OpRead:
		d.completeRead(e)
	case platform.OpWrite:
		if e.Err != nil {
			d.logger.WithFields(logrus.Fields{
				"path":  e.Path,
				"error": e.Err,
			}).Warn("Write failed")
			d.reportError(fmt.Errorf("write %s: %w", e.Path, e.Err))
		}
	case platform.OpConnect, platform.OpDisconnect:
		if m, ok := d.machines[e.Path]; ok {
			d.apply(m, m.Apply(e))
		}
	}
}

func (d *Driver) onScanTimeout() {
	if d.active != nil {
		return
	}
	d.fatal = fmt.Errorf("%w within %s", ErrPeripheralNotFound, d.opts.ScanTimeout)
}

func (d *Driver) stopScanTimer() {
	if d.scanTimer != nil {
		d.scanTimer.Stop()
		d.scanTimer = nil
	}
}

func (d *Driver) syncStatus() {
	st := StatusDisconnected
	if d.active != nil {
		st = d.active.Status()
	}
	if st == d.status {
		return
	}
	d.logger.WithFields(logrus.Fields{
		"from": d.status,
		"to":   st,
	}).Info("Connection status changed")
	d.status = st
	if d.handlers.OnStatus != nil {
		d.handlers.OnStatus(d.myo, st)
	}
}

func (d *Driver) reportError(err error) {
	if err == nil {
		return
	}
	if d.handlers.OnError != nil {
		d.handlers.OnError(d.myo, err)
	}
}

// ready returns the active machine if it is Ready.
func (d *Driver) ready() (*Machine, error) {
	if d.active == nil || d.active.State() != StateReady {
		return nil, ErrNotReady
	}
	return d.active, nil
}

func (d *Driver) read(path platform.ObjectPath, cb readCallback) {
	if err := d.plat.ReadValue(path); err != nil {
		d.later(func() { cb(nil, platform.NormalizeError(err)) })
		return
	}
	d.reads[path] = append(d.reads[path], cb)
}

func (d *Driver) completeRead(e platform.CallDone) {
	pending := d.reads[e.Path]
	if len(pending) == 0 {
		return
	}
	cb := pending[0]
	if len(pending) == 1 {
		delete(d.reads, e.Path)
	} else {
		d.reads[e.Path] = pending[1:]
	}
	cb(e.Value, e.Err)
}

func (d *Driver) failReads(err error) {
	pending := d.reads
	d.reads = make(map[platform.ObjectPath][]readCallback)
	for _, cbs := range pending {
		for _, cb := range cbs {
			cb(nil, err)
		}
	}
}

func (d *Driver) writeCommand(b []byte) error {
	m, err := d.ready()
	if err != nil {
		return err
	}
	c, ok := m.Profile().ByRole(profile.RoleCommand)
	if !ok || !c.Bound() {
		return ErrCharacteristicUnbound
	}
	return d.plat.WriteValue(platform.ObjectPath(c.Handle), b)
}

// teardown stops notifications, disconnects, stops the scan and closes the
// platform. Each step is best effort and the whole is bounded by
// ShutdownTimeout.
func (d *Driver) teardown() {
	d.stopScanTimer()
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
	defer cancel()

	if m := d.active; m != nil {
		want := make(map[opKey]bool)
		for _, h := range d.dispatcher.ActiveHandles() {
			if err := d.plat.StopNotify(h); err == nil {
				want[opKey{platform.OpStopNotify, h}] = true
			}
		}
		d.await(ctx, want)
		d.dispatcher.Invalidate()

		if m.Status() != StatusDisconnected {
			want = make(map[opKey]bool)
			if err := d.plat.Disconnect(m.Path()); err == nil {
				want[opKey{platform.OpDisconnect, m.Path()}] = true
			}
			d.await(ctx, want)
		}
	}

	if d.scanner.Scanning() {
		adapter := d.scanner.Adapter().Path
		want := make(map[opKey]bool)
		if err := d.scanner.StopScan(); err == nil {
			want[opKey{platform.OpStopDiscovery, adapter}] = true
		}
		d.await(ctx, want)
	}

	d.failReads(context.Canceled)
	d.closePlatform()
}

// await drains platform events until every wanted completion arrived or ctx
// is done.
func (d *Driver) await(ctx context.Context, want map[opKey]bool) {
	events := d.plat.Events()
	for len(want) > 0 {
		select {
		case <-ctx.Done():
			d.logger.WithField("pending", len(want)).Warn("Shutdown step timed out")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if done, isDone := ev.(platform.CallDone); isDone {
				delete(want, opKey{done.Op, done.Path})
			}
		}
	}
}

func (d *Driver) closePlatform() {
	if err := d.plat.Close(); err != nil && !errors.Is(err, platform.ErrPlatformClose) {
		d.logger.WithError(err).Warn("Closing platform failed")
	}
}

// under reports whether path is root or one of its descendants.
func under(path, root platform.ObjectPath) bool {
	return path == root || strings.HasPrefix(string(path), string(root)+"/")
}

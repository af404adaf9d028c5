// Package bluez implements platform.Platform on top of BlueZ over the
// system D-Bus.
//
// The object tree is mirrored through the ObjectManager: the managed objects
// present at startup are replayed as "added" events, after which
// InterfacesAdded, InterfacesRemoved and PropertiesChanged signals keep the
// driver up to date. Method calls are issued with BusObject.Go and their
// replies are delivered as platform.CallDone.
package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/groutine"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

const (
	bluezBus = "org.bluez"

	adapter1            = "org.bluez.Adapter1"
	device1             = "org.bluez.Device1"
	gattService1        = "org.bluez.GattService1"
	gattCharacteristic1 = "org.bluez.GattCharacteristic1"

	objectManager     = "org.freedesktop.DBus.ObjectManager"
	properties        = "org.freedesktop.DBus.Properties"
	interfacesAdded   = objectManager + ".InterfacesAdded"
	interfacesRemoved = objectManager + ".InterfacesRemoved"
	propertiesChanged = properties + ".PropertiesChanged"

	eventBuffer  = 256
	signalBuffer = 256
)

// Bus is a platform.Platform backed by BlueZ.
type Bus struct {
	conn    *dbus.Conn
	logger  *logrus.Logger
	events  chan platform.Event
	signals chan *dbus.Signal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watched map[dbus.ObjectPath]bool
	closed  bool
}

// New connects to the system bus, subscribes to BlueZ signals and starts
// replaying the current object tree onto Events().
func New(logger *logrus.Logger) (*Bus, error) {
	if logger == nil {
		logger = logrus.New()
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", platform.NormalizeError(err))
	}
	return newBus(conn, logger)
}

func newBus(conn *dbus.Conn, logger *logrus.Logger) (*Bus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		conn:    conn,
		logger:  logger,
		events:  make(chan platform.Event, eventBuffer),
		signals: make(chan *dbus.Signal, signalBuffer),
		ctx:     ctx,
		cancel:  cancel,
		watched: make(map[dbus.ObjectPath]bool),
	}

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(objectManager), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(objectManager), dbus.WithMatchMember("InterfacesRemoved")},
		{dbus.WithMatchSender(bluezBus), dbus.WithMatchInterface(properties), dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace("/org/bluez")},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			cancel()
			_ = conn.Close()
			return nil, fmt.Errorf("add signal match: %w", platform.NormalizeError(err))
		}
	}
	conn.Signal(b.signals)

	b.spawn("bluez-signals", b.pump)
	return b, nil
}

// pump replays the managed objects and then forwards translated signals.
func (b *Bus) pump(ctx context.Context) {
	objects, err := b.managedObjects(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("Initial object replay failed")
	} else {
		for _, ev := range replayEvents(objects, "") {
			if !b.emit(ctx, ev) {
				return
			}
		}
		b.logger.WithField("objects", len(objects)).Debug("Replayed BlueZ object tree")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			for _, ev := range signalEvents(sig) {
				if !b.emit(ctx, ev) {
					return
				}
			}
		}
	}
}

func (b *Bus) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	call := b.conn.Object(bluezBus, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, platform.NormalizeError(call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// spawn runs fn on a named goroutine tracked by Close.
func (b *Bus) spawn(name string, fn func(ctx context.Context)) {
	b.wg.Add(1)
	groutine.Go(b.ctx, b.logger, name, func(ctx context.Context) {
		defer b.wg.Done()
		fn(ctx)
	})
}

// emit delivers ev unless the bus is shutting down.
func (b *Bus) emit(ctx context.Context, ev platform.Event) bool {
	select {
	case b.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// goCall issues method on path asynchronously and reports the reply as CallDone.
func (b *Bus) goCall(op platform.Op, p platform.ObjectPath, method string, args ...interface{}) error {
	if b.isClosed() {
		return platform.ErrPlatformClose
	}
	call := b.conn.Object(bluezBus, dbus.ObjectPath(p)).Go(method, 0, make(chan *dbus.Call, 1), args...)
	b.spawn("bluez-"+op.String(), func(ctx context.Context) {
		select {
		case <-call.Done:
		case <-ctx.Done():
			return
		}
		done := platform.CallDone{Op: op, Path: p}
		switch {
		case call.Err != nil:
			done.Err = platform.NormalizeError(call.Err)
		case op == platform.OpRead:
			var v []byte
			if err := call.Store(&v); err != nil {
				done.Err = err
			} else {
				done.Value = v
			}
		}
		b.logger.WithFields(logrus.Fields{
			"op":    op.String(),
			"path":  p,
			"error": done.Err,
		}).Debug("D-Bus call completed")
		b.emit(ctx, done)
	})
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Adapters lists the BlueZ controllers.
func (b *Bus) Adapters(ctx context.Context) ([]platform.AdapterInfo, error) {
	objects, err := b.managedObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	return adapterInfos(objects), nil
}

// Events implements platform.Platform.
func (b *Bus) Events() <-chan platform.Event {
	return b.events
}

// StartDiscovery sets an LE discovery filter for uuids and starts discovery.
// A rejected filter is logged and discovery proceeds unfiltered.
func (b *Bus) StartDiscovery(adapter platform.ObjectPath, uuids []string) error {
	if b.isClosed() {
		return platform.ErrPlatformClose
	}
	obj := b.conn.Object(bluezBus, dbus.ObjectPath(adapter))
	b.spawn("bluez-discovery-filter", func(ctx context.Context) {
		filter := map[string]dbus.Variant{
			"Transport": dbus.MakeVariant("le"),
		}
		if len(uuids) > 0 {
			filter["UUIDs"] = dbus.MakeVariant(uuids)
		}
		if call := obj.CallWithContext(ctx, adapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
			b.logger.WithError(call.Err).WithField("adapter", adapter).Warn("Discovery filter rejected")
		}
		if err := b.goCall(platform.OpStartDiscovery, adapter, adapter1+".StartDiscovery"); err != nil {
			b.emit(ctx, platform.CallDone{Op: platform.OpStartDiscovery, Path: adapter, Err: err})
		}
	})
	return nil
}

// StopDiscovery implements platform.Platform.
func (b *Bus) StopDiscovery(adapter platform.ObjectPath) error {
	return b.goCall(platform.OpStopDiscovery, adapter, adapter1+".StopDiscovery")
}

// Connect implements platform.Platform.
func (b *Bus) Connect(device platform.ObjectPath) error {
	return b.goCall(platform.OpConnect, device, device1+".Connect")
}

// Disconnect implements platform.Platform.
func (b *Bus) Disconnect(device platform.ObjectPath) error {
	return b.goCall(platform.OpDisconnect, device, device1+".Disconnect")
}

// Refresh re-reads the managed objects under device and announces its
// services and characteristics.
func (b *Bus) Refresh(device platform.ObjectPath) error {
	if b.isClosed() {
		return platform.ErrPlatformClose
	}
	b.spawn("bluez-refresh", func(ctx context.Context) {
		objects, err := b.managedObjects(ctx)
		if err != nil {
			b.logger.WithError(err).WithField("device", device).Warn("Refresh failed")
			return
		}
		for _, ev := range replayEvents(objects, dbus.ObjectPath(device)) {
			if _, isDevice := ev.(platform.DeviceAdded); isDevice {
				continue
			}
			if !b.emit(ctx, ev) {
				return
			}
		}
	})
	return nil
}

// Watch adds a match for the device's own signals and publishes its current
// properties, so a change that raced the initial replay is not lost.
func (b *Bus) Watch(device platform.ObjectPath) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return platform.ErrPlatformClose
	}
	first := !b.watched[dbus.ObjectPath(device)]
	b.watched[dbus.ObjectPath(device)] = true
	b.mu.Unlock()

	if first {
		err := b.conn.AddMatchSignal(
			dbus.WithMatchSender(bluezBus),
			dbus.WithMatchObjectPath(dbus.ObjectPath(device)),
			dbus.WithMatchInterface(properties),
			dbus.WithMatchMember("PropertiesChanged"),
		)
		if err != nil {
			return fmt.Errorf("watch %s: %w", device, platform.NormalizeError(err))
		}
	}

	b.spawn("bluez-watch", func(ctx context.Context) {
		var props map[string]dbus.Variant
		call := b.conn.Object(bluezBus, dbus.ObjectPath(device)).CallWithContext(ctx, properties+".GetAll", 0, device1)
		if call.Err != nil {
			b.logger.WithError(call.Err).WithField("device", device).Debug("Device properties unavailable")
			return
		}
		if err := call.Store(&props); err != nil {
			return
		}
		if ev := propertiesEvent(dbus.ObjectPath(device), device1, props); ev != nil {
			b.emit(ctx, ev)
		}
	})
	return nil
}

// ReadValue implements platform.Platform.
func (b *Bus) ReadValue(char platform.ObjectPath) error {
	return b.goCall(platform.OpRead, char, gattCharacteristic1+".ReadValue", map[string]dbus.Variant{})
}

// WriteValue writes with response.
func (b *Bus) WriteValue(char platform.ObjectPath, value []byte) error {
	return b.goCall(platform.OpWrite, char, gattCharacteristic1+".WriteValue", value, map[string]dbus.Variant{
		"type": dbus.MakeVariant("request"),
	})
}

// StartNotify implements platform.Platform.
func (b *Bus) StartNotify(char platform.ObjectPath) error {
	return b.goCall(platform.OpStartNotify, char, gattCharacteristic1+".StartNotify")
}

// StopNotify implements platform.Platform.
func (b *Bus) StopNotify(char platform.ObjectPath) error {
	return b.goCall(platform.OpStopNotify, char, gattCharacteristic1+".StopNotify")
}

// Close stops every goroutine, closes the bus connection and then the
// event channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.conn.RemoveSignal(b.signals)
	err := b.conn.Close()
	b.wg.Wait()
	close(b.events)
	return err
}

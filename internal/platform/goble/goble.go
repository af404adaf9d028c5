// Package goble implements platform.Platform on top of the go-ble HCI and
// CoreBluetooth stacks.
//
// go-ble has no object tree of its own. Advertisements are turned into
// device objects, DiscoverProfile results into service and characteristic
// objects, and everything is named with BlueZ-style paths under /goble so
// the driver cannot tell the backends apart.
package goble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/yodaldevoid/MyoBlueZ/internal/groutine"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

const (
	// DefaultConnectTimeout bounds a single Dial.
	DefaultConnectTimeout = 30 * time.Second

	defaultAdapterName = "hci0"
	eventBuffer        = 256
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDevice

// peer is a remote device seen while scanning.
type peer struct {
	path    platform.ObjectPath
	addr    string
	mu      sync.Mutex
	alias   string
	uuids   []string
	client  ble.Client
	objects []platform.Event // ServiceAdded and CharacteristicAdded in discovery order
}

// charRef ties a characteristic path to its live go-ble object.
type charRef struct {
	peer *peer
	char *ble.Characteristic
}

// Backend is a platform.Platform backed by go-ble.
type Backend struct {
	dev     ble.Device
	adapter platform.ObjectPath
	logger  *logrus.Logger
	events  chan platform.Event

	peers *hashmap.Map[platform.ObjectPath, *peer]
	chars *hashmap.Map[platform.ObjectPath, *charRef]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex // guards closed; held for reading while emitting
	closed bool

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{} // closed once the scan goroutine has reported
}

// New opens the host controller through DeviceFactory.
func New(logger *logrus.Logger) (*Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", platform.NormalizeError(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		dev:     dev,
		adapter: adapterPath(defaultAdapterName),
		logger:  logger,
		events:  make(chan platform.Event, eventBuffer),
		peers:   hashmap.New[platform.ObjectPath, *peer](),
		chars:   hashmap.New[platform.ObjectPath, *charRef](),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// spawn runs fn on a named goroutine tracked by Close.
func (b *Backend) spawn(name string, fn func(ctx context.Context)) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return platform.ErrPlatformClose
	}
	b.wg.Add(1)
	groutine.Go(b.ctx, b.logger, name, func(ctx context.Context) {
		defer b.wg.Done()
		fn(ctx)
	})
	return nil
}

// emit delivers ev unless the backend is closed. It is also called from
// go-ble's own notification goroutines, hence the read lock.
func (b *Backend) emit(ev platform.Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.events <- ev:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *Backend) done(op platform.Op, p platform.ObjectPath, value []byte, err error) {
	b.emit(platform.CallDone{Op: op, Path: p, Value: value, Err: platform.NormalizeError(err)})
}

// Adapters reports the single controller go-ble drives.
func (b *Backend) Adapters(context.Context) ([]platform.AdapterInfo, error) {
	return []platform.AdapterInfo{{
		Path:    b.adapter,
		Name:    defaultAdapterName,
		Powered: true,
	}}, nil
}

// Events implements platform.Platform.
func (b *Backend) Events() <-chan platform.Event {
	return b.events
}

// StartDiscovery scans until StopDiscovery or Close. go-ble cannot filter by
// service, so uuids only decides what gets logged.
func (b *Backend) StartDiscovery(adapter platform.ObjectPath, uuids []string) error {
	b.scanMu.Lock()
	if b.scanCancel != nil {
		b.scanMu.Unlock()
		return platform.ErrInProgress
	}
	scanCtx, cancel := context.WithCancel(b.ctx)
	scanDone := make(chan struct{})
	b.scanCancel = cancel
	b.scanDone = scanDone
	b.scanMu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"adapter": adapter,
		"uuids":   uuids,
	}).Debug("Starting go-ble scan")

	err := b.spawn("goble-scan", func(context.Context) {
		defer close(scanDone)
		err := b.dev.Scan(scanCtx, true, func(adv ble.Advertisement) {
			b.onAdvertisement(adapter, adv)
		})
		b.scanMu.Lock()
		b.scanCancel = nil
		b.scanDone = nil
		b.scanMu.Unlock()
		cancel()

		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			b.done(platform.OpStopDiscovery, adapter, nil, nil)
		default:
			b.done(platform.OpStartDiscovery, adapter, nil, err)
		}
	})
	if err != nil {
		b.scanMu.Lock()
		b.scanCancel = nil
		b.scanDone = nil
		b.scanMu.Unlock()
		cancel()
	}
	return err
}

func (b *Backend) onAdvertisement(adapter platform.ObjectPath, adv ble.Advertisement) {
	addr := adv.Addr().String()
	p := devicePath(adapter, addr)
	uuids := uuidStrings(adv.Services())
	name := adv.LocalName()

	known, loaded := b.peers.GetOrInsert(p, &peer{path: p, addr: addr, alias: name, uuids: uuids})
	if !loaded {
		b.emit(platform.DeviceAdded{
			Path:    p,
			Adapter: adapter,
			Address: addr,
			Alias:   name,
			UUIDs:   uuids,
		})
		return
	}

	changed := platform.DeviceChanged{Path: p}
	dirty := false
	known.mu.Lock()
	if name != "" && name != known.alias {
		known.alias = name
		changed.Alias = platform.String(name)
		dirty = true
	}
	if len(uuids) > 0 && !slices.Equal(uuids, known.uuids) {
		known.uuids = uuids
		changed.UUIDs = uuids
		dirty = true
	}
	known.mu.Unlock()
	if dirty {
		b.emit(changed)
	}
}

// StopDiscovery implements platform.Platform. Completion is reported when
// the scan goroutine exits.
func (b *Backend) StopDiscovery(adapter platform.ObjectPath) error {
	b.scanMu.Lock()
	cancel := b.scanCancel
	b.scanMu.Unlock()
	if cancel == nil {
		return b.spawn("goble-stop-scan", func(context.Context) {
			b.done(platform.OpStopDiscovery, adapter, nil, nil)
		})
	}
	cancel()
	return nil
}

// Connect dials the device, discovers its profile and announces the GATT
// objects found. A running scan is stopped first and Dial waits until the
// scan goroutine has exited, since the controller cannot scan and initiate
// at the same time.
func (b *Backend) Connect(device platform.ObjectPath) error {
	pr, ok := b.peers.Get(device)
	if !ok {
		return fmt.Errorf("%w: %s", platform.ErrNoSuchObject, device)
	}

	b.scanMu.Lock()
	stopScan, scanDone := b.scanCancel, b.scanDone
	b.scanMu.Unlock()
	if stopScan != nil {
		stopScan()
	}

	return b.spawn("goble-connect", func(ctx context.Context) {
		if scanDone != nil {
			b.logger.Debug("Waiting for scan to stop before dialing")
			select {
			case <-scanDone:
			case <-ctx.Done():
				b.done(platform.OpConnect, device, nil, ctx.Err())
				return
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()

		b.logger.WithField("address", pr.addr).Debug("Dialing BLE device...")
		client, err := b.dev.Dial(dialCtx, ble.NewAddr(pr.addr))
		if err != nil {
			b.done(platform.OpConnect, device, nil, err)
			return
		}
		pr.mu.Lock()
		pr.client = client
		pr.mu.Unlock()

		b.done(platform.OpConnect, device, nil, nil)
		b.emit(platform.DeviceChanged{Path: device, Connected: platform.Bool(true)})

		if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
			if err := b.spawn("goble-link-monitor", func(ctx context.Context) { b.monitor(ctx, pr, client, dc.Disconnected()) }); err != nil {
				return
			}
		} else {
			b.logger.Debug("Client does not support Disconnected() channel")
		}

		prof, err := client.DiscoverProfile(true)
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"address": pr.addr,
				"error":   err,
			}).Error("Failed to discover profile")
			if cancelErr := client.CancelConnection(); cancelErr != nil {
				b.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
			}
			return
		}

		objects := b.register(pr, prof)
		for _, ev := range objects {
			b.emit(ev)
		}
		b.emit(platform.DeviceChanged{Path: device, ServicesResolved: platform.Bool(true)})

		b.logger.WithFields(logrus.Fields{
			"address":  pr.addr,
			"services": len(prof.Services),
		}).Debug("Profile discovered successfully")
	})
}

// register records the discovered profile and returns its "added" events.
func (b *Backend) register(pr *peer, prof *ble.Profile) []platform.Event {
	var objects []platform.Event
	for i, svc := range prof.Services {
		sp := servicePath(pr.path, i)
		objects = append(objects, platform.ServiceAdded{Path: sp, Device: pr.path, UUID: uuidString(svc.UUID)})
		for j, c := range svc.Characteristics {
			cp := characteristicPath(sp, j)
			b.chars.Set(cp, &charRef{peer: pr, char: c})
			objects = append(objects, platform.CharacteristicAdded{
				Path:    cp,
				Service: sp,
				UUID:    uuidString(c.UUID),
				Flags:   flagNames(c.Property),
			})
		}
	}
	pr.mu.Lock()
	pr.objects = objects
	pr.mu.Unlock()
	return objects
}

// monitor waits for the link to drop and tears the GATT objects down.
func (b *Backend) monitor(ctx context.Context, pr *peer, client ble.Client, disconnected <-chan struct{}) {
	select {
	case <-disconnected:
	case <-ctx.Done():
		return
	}

	pr.mu.Lock()
	if pr.client == client {
		pr.client = nil
	}
	objects := pr.objects
	pr.objects = nil
	pr.mu.Unlock()

	b.logger.WithField("address", pr.addr).Warn("BLE link lost")
	for i := len(objects) - 1; i >= 0; i-- {
		switch ev := objects[i].(type) {
		case platform.CharacteristicAdded:
			b.chars.Del(ev.Path)
			b.emit(platform.ObjectRemoved{Path: ev.Path})
		case platform.ServiceAdded:
			b.emit(platform.ObjectRemoved{Path: ev.Path})
		}
	}
	b.emit(platform.DeviceChanged{
		Path:             pr.path,
		Connected:        platform.Bool(false),
		ServicesResolved: platform.Bool(false),
	})
}

func (b *Backend) client(device platform.ObjectPath) (ble.Client, error) {
	pr, ok := b.peers.Get(device)
	if !ok {
		return nil, fmt.Errorf("%w: %s", platform.ErrNoSuchObject, device)
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.client == nil {
		return nil, platform.ErrNotConnected
	}
	return pr.client, nil
}

// Disconnect implements platform.Platform.
func (b *Backend) Disconnect(device platform.ObjectPath) error {
	client, err := b.client(device)
	if err != nil {
		return err
	}
	return b.spawn("goble-disconnect", func(context.Context) {
		b.done(platform.OpDisconnect, device, nil, client.CancelConnection())
	})
}

// Refresh re-announces the GATT objects found by the last discovery.
func (b *Backend) Refresh(device platform.ObjectPath) error {
	pr, ok := b.peers.Get(device)
	if !ok {
		return fmt.Errorf("%w: %s", platform.ErrNoSuchObject, device)
	}
	pr.mu.Lock()
	objects := slices.Clone(pr.objects)
	pr.mu.Unlock()

	return b.spawn("goble-refresh", func(context.Context) {
		for _, ev := range objects {
			if !b.emit(ev) {
				return
			}
		}
	})
}

// Watch is a no-op: advertisements keep arriving while the scan runs.
func (b *Backend) Watch(platform.ObjectPath) error {
	return nil
}

func (b *Backend) charOp(op platform.Op, p platform.ObjectPath, fn func(ble.Client, *ble.Characteristic) ([]byte, error)) error {
	ref, ok := b.chars.Get(p)
	if !ok {
		return fmt.Errorf("%w: %s", platform.ErrNoSuchObject, p)
	}
	ref.peer.mu.Lock()
	client := ref.peer.client
	ref.peer.mu.Unlock()
	if client == nil {
		return platform.ErrNotConnected
	}
	return b.spawn("goble-"+op.String(), func(context.Context) {
		value, err := fn(client, ref.char)
		b.done(op, p, value, err)
	})
}

// ReadValue implements platform.Platform.
func (b *Backend) ReadValue(char platform.ObjectPath) error {
	return b.charOp(platform.OpRead, char, func(c ble.Client, ch *ble.Characteristic) ([]byte, error) {
		return c.ReadCharacteristic(ch)
	})
}

// WriteValue writes with response.
func (b *Backend) WriteValue(char platform.ObjectPath, value []byte) error {
	data := slices.Clone(value)
	return b.charOp(platform.OpWrite, char, func(c ble.Client, ch *ble.Characteristic) ([]byte, error) {
		return nil, c.WriteCharacteristic(ch, data, false)
	})
}

// StartNotify subscribes and forwards every notification as ValueChanged.
func (b *Backend) StartNotify(char platform.ObjectPath) error {
	return b.charOp(platform.OpStartNotify, char, func(c ble.Client, ch *ble.Characteristic) ([]byte, error) {
		return nil, c.Subscribe(ch, false, func(data []byte) {
			b.emit(platform.ValueChanged{Path: char, Value: slices.Clone(data)})
		})
	})
}

// StopNotify implements platform.Platform.
func (b *Backend) StopNotify(char platform.ObjectPath) error {
	return b.charOp(platform.OpStopNotify, char, func(c ble.Client, ch *ble.Characteristic) ([]byte, error) {
		return nil, c.Unsubscribe(ch, false)
	})
}

// Close stops scanning, drops every link and closes the event channel.
func (b *Backend) Close() error {
	b.cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.peers.Range(func(_ platform.ObjectPath, pr *peer) bool {
		pr.mu.Lock()
		client := pr.client
		pr.client = nil
		pr.mu.Unlock()
		if client != nil {
			if err := client.CancelConnection(); err != nil {
				b.logger.WithError(err).WithField("address", pr.addr).Debug("CancelConnection during close")
			}
		}
		return true
	})

	b.wg.Wait()
	close(b.events)
	return platform.NormalizeError(b.dev.Stop())
}

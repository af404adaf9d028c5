package testutils

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
)

// Call is one recorded Platform method invocation.
type Call struct {
	Method string
	Path   platform.ObjectPath
	Value  []byte
	UUIDs  []string
}

// FakePlatform is an in-memory platform.Platform that behaves like a
// well-mannered BlueZ: discovery announces the configured peripherals,
// Connect links and resolves services, Refresh announces GATT objects and
// every asynchronous call completes with a CallDone.
//
// Events are emitted synchronously into a large buffer, so their order is
// fully determined by the calls the driver makes.
//
//	fake := testutils.NewFakePlatform()
//	fake.AddPeripheral(testutils.MyoPeripheral().Build())
//	drv := device.New(fake, handlers, opts, logger, nil)
type FakePlatform struct {
	mu     sync.Mutex
	events chan platform.Event
	closed bool
	calls  []Call
	notify chan struct{}

	AdapterList []platform.AdapterInfo
	AdaptersErr error

	peripherals map[platform.ObjectPath]*FakePeripheral
	order       []platform.ObjectPath

	// Errors returned directly from a method, keyed by method name.
	Errors map[string]error
	// FailNotify makes the next n StartNotify calls on a path complete with
	// ErrFailed.
	FailNotify map[platform.ObjectPath]int
	// ReverseObjects announces characteristics before their services, last
	// object first.
	ReverseObjects bool
	// ManualConnect suppresses the automatic link-up on Connect.
	ManualConnect bool
	// SilentDiscovery suppresses DeviceAdded on StartDiscovery.
	SilentDiscovery bool
}

// FakePeripheral is a remote device and its GATT objects.
type FakePeripheral struct {
	Added   platform.DeviceAdded
	Objects []platform.Event
	Values  map[platform.ObjectPath][]byte
}

const FakeAdapterPath platform.ObjectPath = "/org/bluez/hci0"

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		events: make(chan platform.Event, 4096),
		notify: make(chan struct{}, 1),
		AdapterList: []platform.AdapterInfo{{
			Path:    FakeAdapterPath,
			Name:    "hci0",
			Address: "00:11:22:33:44:55",
			Powered: true,
		}},
		peripherals: make(map[platform.ObjectPath]*FakePeripheral),
		Errors:      make(map[string]error),
		FailNotify:  make(map[platform.ObjectPath]int),
	}
}

// AddPeripheral makes p discoverable.
func (f *FakePlatform) AddPeripheral(p *FakePeripheral) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peripherals[p.Added.Path] = p
	f.order = append(f.order, p.Added.Path)
}

// Emit injects ev as if the platform produced it.
func (f *FakePlatform) Emit(ev platform.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(ev)
}

func (f *FakePlatform) emit(ev platform.Event) {
	if f.closed {
		return
	}
	f.events <- ev
}

func (f *FakePlatform) record(c Call) error {
	f.calls = append(f.calls, c)
	select {
	case f.notify <- struct{}{}:
	default:
	}
	if f.closed {
		return platform.ErrPlatformClose
	}
	return f.Errors[c.Method]
}

// Calls returns the recorded calls, optionally filtered by method.
func (f *FakePlatform) Calls(methods ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(methods) == 0 {
		return slices.Clone(f.calls)
	}
	var out []Call
	for _, c := range f.calls {
		if slices.Contains(methods, c.Method) {
			out = append(out, c)
		}
	}
	return out
}

// Writes returns the values written with WriteValue, in order.
func (f *FakePlatform) Writes() [][]byte {
	var out [][]byte
	for _, c := range f.Calls("WriteValue") {
		out = append(out, c.Value)
	}
	return out
}

// WaitFor blocks until cond holds for the recorded calls or timeout passes.
func (f *FakePlatform) WaitFor(timeout time.Duration, cond func(calls []Call) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if cond(f.Calls()) {
			return true
		}
		select {
		case <-deadline.C:
			return cond(f.Calls())
		case <-f.notify:
		case <-tick.C:
		}
	}
}

// CountCalls counts recorded calls of method.
func CountCalls(calls []Call, method string) int {
	n := 0
	for _, c := range calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Notify emits a characteristic notification.
func (f *FakePlatform) Notify(char platform.ObjectPath, value []byte) {
	f.Emit(platform.ValueChanged{Path: char, Value: value})
}

// DropLink simulates the peripheral going out of range.
func (f *FakePlatform) DropLink(device platform.ObjectPath) {
	f.Emit(platform.DeviceChanged{
		Path:             device,
		Connected:        platform.Bool(false),
		ServicesResolved: platform.Bool(false),
	})
}

func (f *FakePlatform) Adapters(context.Context) ([]platform.AdapterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "Adapters"})
	if f.AdaptersErr != nil {
		return nil, f.AdaptersErr
	}
	return slices.Clone(f.AdapterList), nil
}

func (f *FakePlatform) Events() <-chan platform.Event {
	return f.events
}

func (f *FakePlatform) StartDiscovery(adapter platform.ObjectPath, uuids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "StartDiscovery", Path: adapter, UUIDs: uuids}); err != nil {
		return err
	}
	f.emit(platform.CallDone{Op: platform.OpStartDiscovery, Path: adapter})
	if f.SilentDiscovery {
		return nil
	}
	for _, p := range f.order {
		f.emit(f.peripherals[p].Added)
	}
	return nil
}

func (f *FakePlatform) StopDiscovery(adapter platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "StopDiscovery", Path: adapter}); err != nil {
		return err
	}
	f.emit(platform.CallDone{Op: platform.OpStopDiscovery, Path: adapter})
	return nil
}

func (f *FakePlatform) Connect(device platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "Connect", Path: device}); err != nil {
		return err
	}
	if f.ManualConnect {
		return nil
	}
	if _, ok := f.peripherals[device]; !ok {
		f.emit(platform.CallDone{Op: platform.OpConnect, Path: device, Err: platform.ErrNoSuchObject})
		return nil
	}
	f.emit(platform.CallDone{Op: platform.OpConnect, Path: device})
	f.emit(platform.DeviceChanged{Path: device, Connected: platform.Bool(true)})
	f.emit(platform.DeviceChanged{Path: device, ServicesResolved: platform.Bool(true)})
	return nil
}

func (f *FakePlatform) Disconnect(device platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "Disconnect", Path: device}); err != nil {
		return err
	}
	f.emit(platform.CallDone{Op: platform.OpDisconnect, Path: device})
	f.emit(platform.DeviceChanged{
		Path:             device,
		Connected:        platform.Bool(false),
		ServicesResolved: platform.Bool(false),
	})
	return nil
}

func (f *FakePlatform) Refresh(device platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "Refresh", Path: device}); err != nil {
		return err
	}
	p, ok := f.peripherals[device]
	if !ok {
		return nil
	}
	objects := p.Objects
	if f.ReverseObjects {
		objects = slices.Clone(objects)
		slices.Reverse(objects)
	}
	for _, ev := range objects {
		f.emit(ev)
	}
	return nil
}

func (f *FakePlatform) Watch(device platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record(Call{Method: "Watch", Path: device})
}

func (f *FakePlatform) ReadValue(char platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "ReadValue", Path: char}); err != nil {
		return err
	}
	for _, p := range f.peripherals {
		if v, ok := p.Values[char]; ok {
			f.emit(platform.CallDone{Op: platform.OpRead, Path: char, Value: slices.Clone(v)})
			return nil
		}
	}
	f.emit(platform.CallDone{Op: platform.OpRead, Path: char, Err: platform.ErrNoSuchObject})
	return nil
}

func (f *FakePlatform) WriteValue(char platform.ObjectPath, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "WriteValue", Path: char, Value: slices.Clone(value)}); err != nil {
		return err
	}
	f.emit(platform.CallDone{Op: platform.OpWrite, Path: char})
	return nil
}

func (f *FakePlatform) StartNotify(char platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "StartNotify", Path: char}); err != nil {
		return err
	}
	if n := f.FailNotify[char]; n > 0 {
		f.FailNotify[char] = n - 1
		f.emit(platform.CallDone{Op: platform.OpStartNotify, Path: char, Err: platform.ErrFailed})
		return nil
	}
	f.emit(platform.CallDone{Op: platform.OpStartNotify, Path: char})
	return nil
}

func (f *FakePlatform) StopNotify(char platform.ObjectPath) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "StopNotify", Path: char}); err != nil {
		return err
	}
	f.emit(platform.CallDone{Op: platform.OpStopNotify, Path: char})
	return nil
}

// Close closes the event channel. It is safe to call more than once.
func (f *FakePlatform) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "Close"})
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}

// Closed reports whether Close was called.
func (f *FakePlatform) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

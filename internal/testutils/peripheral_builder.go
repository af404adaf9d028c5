package testutils

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"
	"github.com/yodaldevoid/MyoBlueZ/internal/platform"
	"github.com/yodaldevoid/MyoBlueZ/internal/profile"
	mocks "github.com/yodaldevoid/MyoBlueZ/internal/testutils/mocks/goble"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CharacteristicConfig describes one mocked characteristic.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig describes one mocked service.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig describes a mocked remote device.
type PeripheralConfig struct {
	Address  string          `json:"address"`
	Alias    string          `json:"alias"`
	UUIDs    []string        `json:"uuids"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds mocked peripherals, either as a FakePlatform
// object tree or as a go-ble device mock.
type PeripheralBuilder struct {
	config PeripheralConfig
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{config: PeripheralConfig{Address: "AA:BB:CC:DD:EE:FF"}}
}

// Myo firmware records served by MyoPeripheral.
var (
	MyoFirmwareVersion = []byte{0x01, 0x00, 0x05, 0x00, 0xb2, 0x07, 0x02, 0x00} // 1.5.1970 rev 2
	MyoBatteryLevel    = []byte{87}
	MyoInfo            = []byte{
		0x10, 0x20, 0x30, 0x40, 0x50, 0x60, // serial
		0x05, 0x00, // unlock pose: double tap
		0x00, 0x00, 0x00, 0x00,
		0x01, // black
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	MyoName            = "Test Myo"
)

// MyoPeripheral returns a builder preloaded with the complete armband
// profile, advertising the control service.
func MyoPeripheral() *PeripheralBuilder {
	b := NewPeripheralBuilder().
		WithAlias(MyoName).
		WithAdvertisedUUIDs(profile.ControlService.String())
	for _, ss := range profile.Schema {
		b.WithService(ss.UUID.String())
		for _, cs := range ss.Characteristics {
			b.WithCharacteristic(cs.UUID.String(), propertiesFor(cs.Role), valueFor(cs.Role))
		}
	}
	return b
}

func propertiesFor(role profile.Role) string {
	switch role {
	case profile.RoleIMUData, profile.RoleEMGData:
		return "notify"
	case profile.RoleMotionEvent, profile.RoleClassifier:
		return "indicate"
	case profile.RoleCommand:
		return "write"
	default:
		return "read"
	}
}

func valueFor(role profile.Role) []byte {
	switch role {
	case profile.RoleFirmwareVersion:
		return MyoFirmwareVersion
	case profile.RoleBatteryLevel:
		return MyoBatteryLevel
	case profile.RoleDeviceName:
		return []byte(MyoName)
	case profile.RoleInfo:
		return MyoInfo
	default:
		return nil
	}
}

func (b *PeripheralBuilder) WithAddress(addr string) *PeripheralBuilder {
	b.config.Address = addr
	return b
}

func (b *PeripheralBuilder) WithAlias(alias string) *PeripheralBuilder {
	b.config.Alias = alias
	return b
}

// WithAdvertisedUUIDs sets the UUIDs announced while scanning. None means
// the device appears with an empty UUID set.
func (b *PeripheralBuilder) WithAdvertisedUUIDs(uuids ...string) *PeripheralBuilder {
	b.config.UUIDs = uuids
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.config.Services[len(b.config.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON replaces the configuration with a JSON document.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var config PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Address == "" {
		config.Address = b.config.Address
	}
	b.config = config
	return b
}

// Config returns the configuration built so far.
func (b *PeripheralBuilder) Config() PeripheralConfig {
	return b.config
}

// DevicePath is the BlueZ object path the peripheral gets under adapter.
func DevicePath(adapter platform.ObjectPath, addr string) platform.ObjectPath {
	return platform.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(addr), ":", "_")))
}

// Build lays the peripheral out as a BlueZ-style object tree under
// FakeAdapterPath. Handles are numbered like BlueZ numbers attributes.
func (b *PeripheralBuilder) Build() *FakePeripheral {
	dev := DevicePath(FakeAdapterPath, b.config.Address)
	p := &FakePeripheral{
		Added: platform.DeviceAdded{
			Path:    dev,
			Adapter: FakeAdapterPath,
			Address: b.config.Address,
			Alias:   b.config.Alias,
			UUIDs:   b.config.UUIDs,
		},
		Values: make(map[platform.ObjectPath][]byte),
	}

	handle := 0x000c
	for _, svc := range b.config.Services {
		sp := platform.ObjectPath(fmt.Sprintf("%s/service%04x", dev, handle))
		handle++
		p.Objects = append(p.Objects, platform.ServiceAdded{Path: sp, Device: dev, UUID: svc.UUID})
		for _, c := range svc.Characteristics {
			cp := platform.ObjectPath(fmt.Sprintf("%s/char%04x", sp, handle))
			handle += 2
			p.Objects = append(p.Objects, platform.CharacteristicAdded{
				Path:    cp,
				Service: sp,
				UUID:    c.UUID,
				Flags:   strings.Split(c.Properties, ","),
			})
			if c.Value != nil {
				p.Values[cp] = c.Value
			}
		}
	}
	return p
}

// PathOf returns the path of the first object with the given UUID.
func (p *FakePeripheral) PathOf(uuid string) platform.ObjectPath {
	for _, ev := range p.Objects {
		switch o := ev.(type) {
		case platform.ServiceAdded:
			if profile.SameUUID(o.UUID, uuid) {
				return o.Path
			}
		case platform.CharacteristicAdded:
			if profile.SameUUID(o.UUID, uuid) {
				return o.Path
			}
		}
	}
	panic("PathOf: no object with UUID " + uuid)
}

func parseProperties(props string) ble.Property {
	var out ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			out |= ble.CharRead
		case "write":
			out |= ble.CharWrite
		case "write-without-response":
			out |= ble.CharWriteNR
		case "notify":
			out |= ble.CharNotify
		case "indicate":
			out |= ble.CharIndicate
		}
	}
	if out == 0 {
		out = ble.CharRead
	}
	return out
}

// BLEProfile renders the configuration as a go-ble profile.
func (b *PeripheralBuilder) BLEProfile() *ble.Profile {
	prof := &ble.Profile{}
	for _, sc := range b.config.Services {
		svc := &ble.Service{UUID: ble.MustParse(sc.UUID)}
		for _, cc := range sc.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{
				UUID:     ble.MustParse(cc.UUID),
				Property: parseProperties(cc.Properties),
				Value:    cc.Value,
			})
		}
		prof.Services = append(prof.Services, svc)
	}
	return prof
}

// BuildBLEDevice builds a go-ble device mock that advertises the
// peripheral once per scan and serves its profile on Dial. Scans block
// until their context ends, like real ones.
func (b *PeripheralBuilder) BuildBLEDevice() (*mocks.MockDevice, *mocks.MockClient) {
	dev := &mocks.MockDevice{}
	client := &mocks.MockClient{DisconnectedCh: make(chan struct{})}
	prof := b.BLEProfile()

	var advUUIDs []ble.UUID
	for _, u := range b.config.UUIDs {
		advUUIDs = append(advUUIDs, ble.MustParse(u))
	}
	adv := &mocks.MockAdvertisement{Name: b.config.Alias, Address: b.config.Address, UUIDs: advUUIDs}

	dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			h := args.Get(2).(ble.AdvHandler)
			h(adv)
			<-ctx.Done()
		}).
		Return(nil).Maybe()
	dev.On("Dial", mock.Anything, mock.Anything).Return(client, nil).Maybe()
	dev.On("Stop").Return(nil).Maybe()

	client.On("DiscoverProfile", true).Return(prof, nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()
	for _, svc := range prof.Services {
		for _, c := range svc.Characteristics {
			client.On("ReadCharacteristic", c).Return(c.Value, nil).Maybe()
			client.On("WriteCharacteristic", c, mock.Anything, false).Return(nil).Maybe()
			client.On("Subscribe", c, false, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", c, false).Return(nil).Maybe()
		}
	}
	return dev, client
}

// Package goble holds testify mocks of the go-ble interfaces used by the
// goble backend. Each mock embeds the interface it stands in for, so only the
// methods the backend calls need expectations; anything else panics.
package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice mocks ble.Device.
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockClient mocks ble.Client. Disconnected is served from DisconnectedCh
// when set, matching the optional interface the backend probes for.
type MockClient struct {
	ble.Client
	mock.Mock

	DisconnectedCh chan struct{}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.DisconnectedCh
}

// MockAdvertisement is a fixed ble.Advertisement.
type MockAdvertisement struct {
	ble.Advertisement

	Name    string
	Address string
	UUIDs   []ble.UUID
}

func (a *MockAdvertisement) LocalName() string { return a.Name }

func (a *MockAdvertisement) Addr() ble.Addr { return ble.NewAddr(a.Address) }

func (a *MockAdvertisement) Services() []ble.UUID { return a.UUIDs }

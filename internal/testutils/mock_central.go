//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/vibro/internal/device"
	goble "github.com/srg/vibro/internal/device/go-ble"
	"github.com/stretchr/testify/mock"
)

// MockCentral mocks goble.Central. Scan replays Advertisements and then behaves like
// go-ble: it blocks until ctx is done unless the expectation returns an error.
type MockCentral struct {
	mock.Mock
	Advertisements []device.Advertisement
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup)
	for _, adv := range m.Advertisements {
		if ctx.Err() != nil {
			break
		}
		handler(adv)
	}
	if err := args.Error(0); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockCentral) Dial(ctx context.Context, address string) (goble.GATTClient, error) {
	args := m.Called(ctx, address)
	client, _ := args.Get(0).(goble.GATTClient)
	return client, args.Error(1)
}

// MockGATTClient mocks goble.GATTClient and lets tests push notifications and drop the link.
type MockGATTClient struct {
	mock.Mock

	mu           sync.Mutex
	handler      ble.NotificationHandler
	disconnected chan struct{}
	dropOnce     sync.Once
}

func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{disconnected: make(chan struct{})}
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	return nil
}

func (m *MockGATTClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Notify delivers data to the subscribed handler. It reports false when nothing is subscribed.
func (m *MockGATTClient) Notify(data []byte) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Drop simulates the peripheral going away.
func (m *MockGATTClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

// ProfileBuilder assembles a ble.Profile for DiscoverProfile expectations.
type ProfileBuilder struct {
	profile ble.Profile
	current *ble.Service
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	svc := ble.NewService(ble.MustParse(uuid))
	b.profile.Services = append(b.profile.Services, svc)
	b.current = svc
	return b
}

// WithCharacteristic adds a characteristic to the last service.
func (b *ProfileBuilder) WithCharacteristic(uuid string, props ble.Property) *ProfileBuilder {
	if b.current == nil {
		panic("WithCharacteristic called before WithService")
	}
	c := ble.NewCharacteristic(ble.MustParse(uuid))
	c.Property = props
	b.current.Characteristics = append(b.current.Characteristics, c)
	return b
}

func (b *ProfileBuilder) Build() *ble.Profile {
	p := b.profile
	return &p
}

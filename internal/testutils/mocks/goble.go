package mocks

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockGATTClient is a testify mock of the go-ble client methods used by the
// go-ble transport. It also exposes a Disconnected() channel like the real
// clients do.
type MockGATTClient struct {
	mock.Mock

	once         sync.Once
	disconnected chan struct{}

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
}

func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{disconnected: make(chan struct{})}
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	m.mu.Lock()
	if m.handlers == nil {
		m.handlers = make(map[string]ble.NotificationHandler)
	}
	m.handlers[c.UUID.String()] = h
	m.mu.Unlock()

	return m.Called(c, ind, mock.Anything).Error(0)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Drop closes the Disconnected() channel as the BLE stack would on link loss.
func (m *MockGATTClient) Drop() {
	m.once.Do(func() { close(m.disconnected) })
}

// Notify invokes the handler subscribed to uuid.
func (m *MockGATTClient) Notify(uuid ble.UUID, data []byte) bool {
	m.mu.Lock()
	h := m.handlers[uuid.String()]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Package mocks holds testify mocks for the transport interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/srg/blindctl/pkg/transport"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of transport.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect(ctx context.Context, address string) (transport.Session, error) {
	args := m.Called(ctx, address)
	session, _ := args.Get(0).(transport.Session)
	return session, args.Error(1)
}

// MockSession is a testify mock of transport.Session. Subscribe handlers and
// the disconnect callback are captured so tests can push notifications and
// drop the link.
type MockSession struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[string]func([]byte)
	onDisconnect func()
	writes       [][]byte
}

func (m *MockSession) Subscribe(characteristic string, handler func(data []byte)) error {
	m.mu.Lock()
	if m.handlers == nil {
		m.handlers = make(map[string]func([]byte))
	}
	m.handlers[characteristic] = handler
	m.mu.Unlock()

	return m.Called(characteristic, mock.Anything).Error(0)
}

func (m *MockSession) Write(characteristic string, data []byte, withResponse bool) error {
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), data...))
	m.mu.Unlock()

	return m.Called(characteristic, data, withResponse).Error(0)
}

func (m *MockSession) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockSession) OnDisconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// Notify delivers data to the handler subscribed to characteristic. It
// reports false when nothing is subscribed.
func (m *MockSession) Notify(characteristic string, data []byte) bool {
	m.mu.Lock()
	h := m.handlers[characteristic]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// DropLink simulates the peripheral closing the connection.
func (m *MockSession) DropLink() {
	m.mu.Lock()
	fn := m.onDisconnect
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Writes returns the payloads passed to Write, in call order, including
// writes the mock answered with an error.
func (m *MockSession) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

// Package tinyble implements transport.Transport on top of
// tinygo.org/x/bluetooth (BlueZ over D-Bus on Linux, CoreBluetooth on macOS).
package tinyble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/transport"
	"tinygo.org/x/bluetooth"
)

// ErrWriteWithResponse is returned for acknowledged writes, which the
// backend cannot issue on every platform. Motor commands never need them.
var ErrWriteWithResponse = errors.New("tinygo backend: write with response is not supported")

// Transport dials motors through one bluetooth.Adapter. The adapter reports
// disconnects through a single connect handler, so sessions are tracked by
// address to route link loss to the right session.
type Transport struct {
	service bluetooth.UUID
	logger  *logrus.Logger
	dial    Dialer
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Transport)

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithAdapter selects the adapter; bluetooth.DefaultAdapter otherwise.
func WithAdapter(adapter *bluetooth.Adapter) Option {
	return func(t *Transport) { t.adapter = adapter }
}

// WithDialer replaces the adapter dialer. The adapter is then never enabled.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dial = d }
}

// New creates a Transport bound to serviceUUID. An empty serviceUUID selects
// the motor control service.
func New(serviceUUID string, opts ...Option) (*Transport, error) {
	if serviceUUID == "" {
		serviceUUID = protocol.ServiceUUID
	}
	svc, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	t := &Transport{
		service:  svc,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.New()
	}
	if t.dial == nil {
		if t.adapter == nil {
			t.adapter = bluetooth.DefaultAdapter
		}
		t.dial = adapterDialer(t.adapter)
	}
	return t, nil
}

func (t *Transport) enable() error {
	if t.adapter == nil {
		return nil
	}
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("%w: %v", transport.ErrBluetoothOff, err)
			return
		}
		t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if !connected {
				t.linkLost(device.Address.String())
			}
		})
	})
	return t.enableErr
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Session, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	log := t.logger.WithField("address", address)
	log.Debug("Connecting via tinygo bluetooth...")

	link, err := t.dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}

	chars, err := link.Characteristics(t.service)
	if err != nil {
		if dErr := link.Disconnect(); dErr != nil {
			log.WithField("disconnect_error", dErr).Warn("Failed to disconnect after discovery failure")
		}
		var nf *transport.NotFoundError
		if errors.As(err, &nf) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to discover service %s: %w", t.service.String(), err)
	}

	s := &session{
		owner: t,
		key:   strings.ToUpper(address),
		link:  link,
		chars: chars,
	}

	t.mu.Lock()
	t.sessions[s.key] = s
	t.mu.Unlock()

	log.WithField("characteristics", len(chars)).Debug("Service discovered")
	return s, nil
}

func (t *Transport) linkLost(address string) {
	key := strings.ToUpper(address)

	t.mu.Lock()
	s := t.sessions[key]
	delete(t.sessions, key)
	t.mu.Unlock()

	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	t.logger.WithField("address", address).Warn("BLE stack reported disconnection")

	s.mu.Lock()
	fn := s.onDisconnect
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) forget(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[s.key] == s {
		delete(t.sessions, s.key)
	}
}

type session struct {
	owner *Transport
	key   string
	link  Link
	chars []Characteristic

	mu           sync.Mutex
	onDisconnect func()
	closed       atomic.Bool
}

func (s *session) characteristic(uuid string) (Characteristic, error) {
	want, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}
	for _, c := range s.chars {
		if c.UUID() == want {
			return c, nil
		}
	}
	return nil, &transport.NotFoundError{Kind: "characteristic", UUID: uuid}
}

func (s *session) Subscribe(characteristic string, handler func(data []byte)) error {
	if s.closed.Load() {
		return transport.ErrNotConnected
	}
	c, err := s.characteristic(characteristic)
	if err != nil {
		return err
	}
	return c.EnableNotifications(handler)
}

func (s *session) Write(characteristic string, data []byte, withResponse bool) error {
	if s.closed.Load() {
		return transport.ErrNotConnected
	}
	c, err := s.characteristic(characteristic)
	if err != nil {
		return err
	}
	if withResponse {
		return ErrWriteWithResponse
	}
	_, err = c.WriteWithoutResponse(data)
	return err
}

func (s *session) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.owner.forget(s)
	return s.link.Disconnect()
}

func (s *session) OnDisconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

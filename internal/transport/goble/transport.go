// Package goble implements transport.Transport on top of go-ble: HCI sockets
// on Linux and CoreBluetooth on macOS.
package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/internal/groutine"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/transport"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // exported for test overrides
var DeviceFactory = newDevice

// Client is the part of ble.Client the transport uses.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// Dialer opens a GATT client to address.
type Dialer func(ctx context.Context, address string) (Client, error)

// Transport dials motors through a single shared ble.Device.
type Transport struct {
	service ble.UUID
	logger  *logrus.Logger
	dial    Dialer

	devMu sync.Mutex
	dev   ble.Device
}

type Option func(*Transport)

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithDialer replaces the go-ble dialer, mostly for tests.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dial = d }
}

// New creates a Transport bound to serviceUUID. An empty serviceUUID selects
// the motor control service.
func New(serviceUUID string, opts ...Option) (*Transport, error) {
	if serviceUUID == "" {
		serviceUUID = protocol.ServiceUUID
	}
	svc, err := ble.Parse(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	t := &Transport{service: svc}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.New()
	}
	if t.dial == nil {
		t.dial = t.dialDevice
	}
	return t, nil
}

// device returns the shared platform device, creating it on first use.
func (t *Transport) device() (ble.Device, error) {
	t.devMu.Lock()
	defer t.devMu.Unlock()
	if t.dev == nil {
		dev, err := DeviceFactory()
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
		}
		t.dev = dev
	}
	return t.dev, nil
}

func (t *Transport) dialDevice(ctx context.Context, address string) (Client, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}
	return dev.Dial(ctx, ble.NewAddr(address))
}

// Scan reports advertisements seen by the shared device until ctx ends.
func (t *Transport) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	dev, err := t.device()
	if err != nil {
		return err
	}
	if err := dev.Scan(ctx, allowDup, h); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Connect implements transport.Transport.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Session, error) {
	log := t.logger.WithField("address", address)
	log.Debug("Dialing BLE device...")

	client, err := t.dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	var svc *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(t.service) {
			svc = s
			break
		}
	}
	if svc == nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after missing service")
		}
		return nil, &transport.NotFoundError{Kind: "service", UUID: t.service.String()}
	}

	log.WithField("characteristics", len(svc.Characteristics)).Debug("Service discovered")

	s := &session{
		client:  client,
		chars:   svc.Characteristics,
		logger:  t.logger,
		address: address,
		done:    make(chan struct{}),
	}
	s.monitor()
	return s, nil
}

type session struct {
	client  Client
	chars   []*ble.Characteristic
	logger  *logrus.Logger
	address string

	mu           sync.Mutex
	onDisconnect func()
	closed       atomic.Bool
	done         chan struct{}
}

func (s *session) characteristic(uuid string) (*ble.Characteristic, error) {
	want, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
	}
	for _, c := range s.chars {
		if c.UUID.Equal(want) {
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
	return NormalizeError(s.client.Subscribe(c, false, func(req []byte) {
		handler(req)
	}))
}

func (s *session) Write(characteristic string, data []byte, withResponse bool) error {
	if s.closed.Load() {
		return transport.ErrNotConnected
	}
	c, err := s.characteristic(characteristic)
	if err != nil {
		return err
	}
	return NormalizeError(s.client.WriteCharacteristic(c, data, !withResponse))
}

func (s *session) Disconnect() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	return NormalizeError(s.client.CancelConnection())
}

func (s *session) OnDisconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// monitor watches the client's Disconnected() channel where the backend
// provides one (CoreBluetooth and HCI clients both do).
func (s *session) monitor() {
	dc, ok := s.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		s.logger.Debug("Client does not expose Disconnected(), link loss will surface as write errors")
		return
	}

	groutine.Go(context.Background(), "ble-connection-monitor:"+s.address, func(context.Context) {
		select {
		case <-dc.Disconnected():
		case <-s.done:
			return
		}
		if !s.closed.CompareAndSwap(false, true) {
			return
		}
		close(s.done)
		s.logger.WithField("address", s.address).Warn("BLE stack reported disconnection")

		s.mu.Lock()
		fn := s.onDisconnect
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Package devicefactory turns configuration into ready motion.Devices on the
// selected BLE backend.
package devicefactory

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/internal/transport/goble"
	"github.com/srg/blindctl/internal/transport/tinyble"
	"github.com/srg/blindctl/pkg/config"
	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/motion"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/transport"
	"github.com/srg/blindctl/scanner"
)

// ErrScanUnsupported is returned by Scanner for backends that cannot scan.
var ErrScanUnsupported = errors.New("backend does not support scanning")

// TransportFactory creates the transport for a backend name.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(backend string, logger *logrus.Logger) (transport.Transport, error) {
	switch backend {
	case config.BackendGoBLE, "":
		return goble.New(protocol.ServiceUUID, goble.WithLogger(logger))
	case config.BackendTinyGo:
		return tinyble.New(protocol.ServiceUUID, tinyble.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// ManagerOptions maps connection settings onto connection.Manager options.
func ManagerOptions(c config.ConnectionConfig) []connection.Option {
	return []connection.Option{
		connection.WithConnectAttempts(c.ConnectAttempts),
		connection.WithCommandRetries(c.CommandRetries),
		connection.WithDisconnectTimeout(c.DisconnectTimeout),
		connection.WithSetKeyDelay(c.SetKeyDelay),
	}
}

// Factory builds devices that share one transport and one codec.
type Factory struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport transport.Transport
	codec     *protocol.Codec
}

// New creates the transport and codec described by cfg. A config without a
// timezone still yields a factory; its devices then fail every command with
// crypt.ErrTimezoneNotConfigured.
func New(cfg *config.Config, logger *logrus.Logger) (*Factory, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var cryptOpts []crypt.Option
	if cfg.Timezone != "" {
		cryptOpts = append(cryptOpts, crypt.WithTimezone(cfg.Timezone))
	}
	c, err := crypt.NewCodec(cryptOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}

	t, err := TransportFactory(cfg.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", cfg.Backend, err)
	}

	return &Factory{cfg: cfg, logger: logger, transport: t, codec: protocol.NewCodec(c)}, nil
}

// Device builds the motion.Device for one configured motor.
func (f *Factory) Device(dc config.DeviceConfig, opts ...motion.Option) (*motion.Device, error) {
	caps, err := motion.CapabilitiesFor(dc.Type)
	if err != nil {
		return nil, err
	}

	base := []motion.Option{
		motion.WithLogger(f.logger),
		motion.WithCodec(f.codec),
		motion.WithCapabilities(caps),
		motion.WithDoubleClickWindow(f.cfg.Connection.DoubleClick),
		motion.WithManagerOptions(ManagerOptions(f.cfg.Connection)...),
	}
	return motion.NewDevice(dc.Address, f.transport, append(base, opts...)...)
}

// Devices builds every configured motor, in configuration order.
func (f *Factory) Devices(opts ...motion.Option) ([]*motion.Device, error) {
	devices := make([]*motion.Device, 0, len(f.cfg.Devices))
	for _, dc := range f.cfg.Devices {
		d, err := f.Device(dc, opts...)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.DisplayName(), err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Scanner returns a motor scanner on the factory's transport.
func (f *Factory) Scanner() (*scanner.Scanner, error) {
	src, ok := f.transport.(scanner.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScanUnsupported, f.cfg.Backend)
	}
	return scanner.NewScanner(src, f.logger)
}

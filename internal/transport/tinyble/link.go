package tinyble

import (
	"context"
	"fmt"

	"github.com/srg/blindctl/pkg/transport"
	"tinygo.org/x/bluetooth"
)

// Characteristic is the subset of bluetooth.DeviceCharacteristic the
// transport uses. It only needs methods present on every platform: the
// Linux DeviceCharacteristic has no acknowledged Write.
type Characteristic interface {
	UUID() bluetooth.UUID
	EnableNotifications(callback func(buf []byte)) error
	WriteWithoutResponse(p []byte) (int, error)
}

// Link is one connected peripheral.
type Link interface {
	// Characteristics discovers the characteristics of service.
	Characteristics(service bluetooth.UUID) ([]Characteristic, error)
	Disconnect() error
}

// Dialer connects to address and returns the link.
type Dialer func(ctx context.Context, address string) (Link, error)

type deviceLink struct {
	dev bluetooth.Device
}

func (l *deviceLink) Characteristics(service bluetooth.UUID) ([]Characteristic, error) {
	svcs, err := l.dev.DiscoverServices([]bluetooth.UUID{service})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, &transport.NotFoundError{Kind: "service", UUID: service.String()}
	}

	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &chars[i])
	}
	return out, nil
}

func (l *deviceLink) Disconnect() error {
	return l.dev.Disconnect()
}

// adapterDialer connects through a bluetooth.Adapter. The adapter's Connect
// blocks with its own timeout and cannot be interrupted, so ctx only bounds
// how long the caller waits; a link that completes after ctx is done is
// closed immediately.
func adapterDialer(adapter *bluetooth.Adapter) Dialer {
	return func(ctx context.Context, address string) (Link, error) {
		var addr bluetooth.Address
		addr.Set(address)

		type result struct {
			dev bluetooth.Device
			err error
		}
		ch := make(chan result, 1)
		go func() {
			dev, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
			ch <- result{dev, err}
		}()

		select {
		case <-ctx.Done():
			go func() {
				if r := <-ch; r.err == nil {
					_ = r.dev.Disconnect()
				}
			}()
			return nil, ctx.Err()
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			return &deviceLink{dev: r.dev}, nil
		}
	}
}

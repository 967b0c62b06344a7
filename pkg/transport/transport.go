// Package transport defines the BLE link the motor core is driven through.
//
// A Transport is bound to one GATT service at construction time. Concrete
// backends live under internal/transport; tests use the testify mocks from
// internal/testutils/mocks.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNotFound     = errors.New("not found")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// Transport opens sessions to peripherals by address.
type Transport interface {
	// Connect dials address, discovers the transport's service and returns a
	// ready Session. It must honour ctx cancellation.
	Connect(ctx context.Context, address string) (Session, error)
}

// Session is one live connection to a peripheral.
type Session interface {
	// Subscribe delivers notifications of characteristic to handler, in order,
	// on a single goroutine owned by the session.
	Subscribe(characteristic string, handler func(data []byte)) error

	// Write writes data to characteristic. withResponse selects a GATT write
	// request instead of a write command.
	Write(characteristic string, data []byte, withResponse bool) error

	// Disconnect closes the link. It is safe to call more than once.
	Disconnect() error

	// OnDisconnect registers fn to run when the peripheral drops the link
	// without a local Disconnect. Only the last registration is kept.
	OnDisconnect(fn func())
}

// NotFoundError reports a missing service or characteristic.
type NotFoundError struct {
	Kind string
	UUID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.UUID)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

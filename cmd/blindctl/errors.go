package main

import (
	"errors"
	"strings"

	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/motion"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/transport"
)

// Command-level errors
var (
	// ErrNotSent is returned when the motor could not be reached. The cause
	// is in the debug log; the device API reports it as false, not an error.
	ErrNotSent = errors.New("command not sent: motor unreachable or connection superseded")

	// ErrNoStatus is returned when the motor stayed silent after a status query.
	ErrNoStatus = errors.New("no status received from motor")
)

// FormatUserError turns errors into one-line messages with a hint where the
// user can act on them.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, crypt.ErrTimezoneNotConfigured):
		return "motor timezone is not configured; set 'timezone' in the config file or pass --timezone"
	case errors.Is(err, transport.ErrBluetoothOff):
		return "Bluetooth is off or unavailable; enable it and retry"
	case errors.Is(err, motion.ErrUnsupported):
		return err.Error() + "; check the device 'type'"
	case errors.Is(err, protocol.ErrInvalidParameter):
		return "invalid value: " + err.Error()
	case errors.Is(err, connection.ErrCommandFailed):
		return "motor did not accept the command after all retries (" + err.Error() + ")"
	}
	msg := err.Error()
	if msg == "" {
		return "unknown error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

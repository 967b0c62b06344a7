package motion

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for commands outside a device's capabilities.
var ErrUnsupported = errors.New("unsupported by this blind type")

// BlindType is the motor variant a device was configured as.
type BlindType string

const (
	TypePosition        BlindType = "position"
	TypeTilt            BlindType = "tilt"
	TypePositionTilt    BlindType = "position_tilt"
	TypePositionCurtain BlindType = "position_curtain"
)

// BlindTypes lists every known type in display order.
var BlindTypes = []BlindType{TypePosition, TypeTilt, TypePositionTilt, TypePositionCurtain}

// Capabilities says which command groups a motor accepts.
type Capabilities struct {
	Position bool
	Tilt     bool
	Speed    bool
	// Endstops marks motors whose calibration is tracked from endstop bits.
	Endstops bool
}

// CapabilitiesFor returns the capabilities of t.
func CapabilitiesFor(t BlindType) (Capabilities, error) {
	switch BlindType(strings.ToLower(string(t))) {
	case TypePosition:
		return Capabilities{Position: true, Speed: true}, nil
	case TypeTilt:
		return Capabilities{Tilt: true, Speed: true}, nil
	case TypePositionTilt:
		return Capabilities{Position: true, Tilt: true, Speed: true}, nil
	case TypePositionCurtain:
		return Capabilities{Position: true, Endstops: true}, nil
	default:
		return Capabilities{}, fmt.Errorf("unknown blind type %q", t)
	}
}

// UnsupportedError names the command a device refused.
type UnsupportedError struct {
	Command string
	Caps    Capabilities
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, ErrUnsupported)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidParameter is matched by every *ParameterError.
var ErrInvalidParameter = errors.New("invalid parameter")

// ParameterError reports a command parameter outside its domain.
type ParameterError struct {
	Name     string
	Value    int
	Min, Max int
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid %s %d: must be between %d and %d", e.Name, e.Value, e.Min, e.Max)
}

// Is lets errors.Is match ErrInvalidParameter.
func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// SpeedLevel is the motor speed setting.
type SpeedLevel int

const (
	SpeedUnknown SpeedLevel = 0
	SpeedLow     SpeedLevel = 1
	SpeedMedium  SpeedLevel = 2
	SpeedHigh    SpeedLevel = 3
)

func (s SpeedLevel) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedMedium:
		return "medium"
	case SpeedHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Valid reports whether s can be sent to the motor.
func (s SpeedLevel) Valid() bool {
	return s >= SpeedLow && s <= SpeedHigh
}

// ParseSpeedLevel accepts a level name ("low", "medium", "high") or its
// number.
func ParseSpeedLevel(s string) (SpeedLevel, error) {
	s = strings.TrimSpace(s)
	for _, level := range []SpeedLevel{SpeedLow, SpeedMedium, SpeedHigh} {
		if strings.EqualFold(s, level.String()) || s == strconv.Itoa(int(level)) {
			return level, nil
		}
	}
	return SpeedUnknown, fmt.Errorf("%w: speed level %q (must be low, medium or high)", ErrInvalidParameter, s)
}

// Command is an opcode plus its binary parameters, without timestamp.
// Commands are values; the timestamp is added when encoding.
type Command struct {
	Opcode Opcode
	Params []byte
}

// Hex returns the opcode and parameters as a hex string.
func (c Command) Hex() string {
	return string(c.Opcode) + hex.EncodeToString(c.Params)
}

func (c Command) String() string {
	if len(c.Params) == 0 {
		return c.Opcode.String()
	}
	return fmt.Sprintf("%s(%x)", c.Opcode, c.Params)
}

func Open() Command          { return Command{Opcode: OpOpen} }
func Close() Command         { return Command{Opcode: OpClose} }
func Stop() Command          { return Command{Opcode: OpStop} }
func Favorite() Command      { return Command{Opcode: OpFavorite} }
func SetKey() Command        { return Command{Opcode: OpSetKey} }
func StatusQuery() Command   { return Command{Opcode: OpStatusQuery} }
func UserQuery() Command     { return Command{Opcode: OpUserQuery} }
func PointSetQuery() Command { return Command{Opcode: OpPointSetQuery} }

// OpenTilt and CloseTilt drive the slats fully via the angle command, which
// every tilt capable motor accepts.
func OpenTilt() Command  { return Command{Opcode: OpAngle, Params: []byte{0x00, MinAngle}} }
func CloseTilt() Command { return Command{Opcode: OpAngle, Params: []byte{0x00, MaxAngle}} }

// Percentage moves the motor to a position in [0, 100].
func Percentage(p int) (Command, error) {
	if p < MinPercentage || p > MaxPercentage {
		return Command{}, &ParameterError{Name: "percentage", Value: p, Min: MinPercentage, Max: MaxPercentage}
	}
	return Command{Opcode: OpPercentage, Params: []byte{byte(p), 0x00}}, nil
}

// Angle tilts the slats to an angle in [0, 180] degrees.
func Angle(a int) (Command, error) {
	if a < MinAngle || a > MaxAngle {
		return Command{}, &ParameterError{Name: "angle", Value: a, Min: MinAngle, Max: MaxAngle}
	}
	return Command{Opcode: OpAngle, Params: []byte{0x00, byte(a)}}, nil
}

// TiltPercentage tilts the slats to a percentage of the full angle range.
func TiltPercentage(p int) (Command, error) {
	if p < MinPercentage || p > MaxPercentage {
		return Command{}, &ParameterError{Name: "tilt percentage", Value: p, Min: MinPercentage, Max: MaxPercentage}
	}
	return Angle(PercentToAngle(p))
}

// Speed sets the motor speed.
func Speed(level SpeedLevel) (Command, error) {
	if !level.Valid() {
		return Command{}, &ParameterError{Name: "speed level", Value: int(level), Min: int(SpeedLow), Max: int(SpeedHigh)}
	}
	return Command{Opcode: OpSpeed, Params: []byte{byte(level)}}, nil
}

// AngleToPercent converts degrees in [0, 180] to a rounded percentage.
func AngleToPercent(angle int) int {
	return int(math.Round(100 * float64(angle) / MaxAngle))
}

// PercentToAngle converts a percentage to rounded degrees in [0, 180].
func PercentToAngle(percent int) int {
	return int(math.Round(MaxAngle * float64(percent) / 100))
}

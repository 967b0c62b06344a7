package protocol

import (
	"encoding/hex"
	"strings"

	"github.com/srg/blindctl/pkg/crypt"
)

// RunningDirection describes motor movement.
type RunningDirection string

const (
	Still   RunningDirection = "still"
	Opening RunningDirection = "opening"
	Closing RunningDirection = "closing"
)

// EndstopInfo reports which mechanical limits the motor has learned.
type EndstopInfo struct {
	Up   bool
	Down bool
}

func decodeEndstops(b byte) EndstopInfo {
	return EndstopInfo{Up: b&endstopUp != 0, Down: b&endstopDown != 0}
}

// Notification is a decoded motor notification: *PositionUpdate,
// *RunningUpdate or *StatusUpdate.
type Notification interface {
	notification()
}

// PositionUpdate is sent while and after the motor moves.
type PositionUpdate struct {
	Position int
	Tilt     int
	Endstops EndstopInfo
}

// RunningUpdate is sent when the motor starts moving.
type RunningUpdate struct {
	Direction RunningDirection
}

// StatusUpdate answers a status query.
type StatusUpdate struct {
	Position int
	Tilt     int
	Battery  int
	Speed    SpeedLevel
	Endstops EndstopInfo
}

func (*PositionUpdate) notification() {}
func (*RunningUpdate) notification()  {}
func (*StatusUpdate) notification()   {}

type notificationParser struct {
	prefix string
	minLen int
	parse  func(b []byte) Notification
}

// Ordered longest prefix first: RUNNING shares its first four bytes with PERCENT.
var notificationParsers = []notificationParser{
	{
		prefix: prefixRunning,
		minLen: 6,
		parse: func(b []byte) Notification {
			dir := Still
			switch b[5] {
			case 0x01:
				dir = Opening
			case 0x02:
				dir = Closing
			}
			return &RunningUpdate{Direction: dir}
		},
	},
	{
		prefix: prefixPercentage,
		minLen: 8,
		parse: func(b []byte) Notification {
			return &PositionUpdate{
				Position: int(b[6]),
				Tilt:     AngleToPercent(int(b[7])),
				Endstops: decodeEndstops(b[4]),
			}
		},
	},
	{
		prefix: prefixStatus,
		minLen: 18,
		parse: func(b []byte) Notification {
			speed := SpeedLevel(b[12])
			if !speed.Valid() {
				speed = SpeedUnknown
			}
			return &StatusUpdate{
				Position: int(b[6]),
				Tilt:     AngleToPercent(int(b[7])),
				Battery:  int(b[17]),
				Speed:    speed,
				Endstops: decodeEndstops(b[4]),
			}
		},
	},
}

// parsePlaintext matches a decrypted hex payload against the known prefixes.
// Unknown payloads yield (nil, nil).
func parsePlaintext(plainHex string) (Notification, error) {
	plainHex = strings.ToLower(plainHex)
	for _, p := range notificationParsers {
		if !strings.HasPrefix(plainHex, p.prefix) {
			continue
		}
		b, err := hex.DecodeString(plainHex)
		if err != nil {
			return nil, &crypt.DecodeError{Payload: plainHex, Reason: "invalid hex"}
		}
		if len(b) < p.minLen {
			return nil, &crypt.DecodeError{Payload: plainHex, Reason: "notification too short"}
		}
		return p.parse(b), nil
	}
	return nil, nil
}

package protocol

// GATT layout of the motor. The values must match the firmware exactly.
const (
	ServiceUUID                = "d973f2e0-b19e-11e2-9e96-0800200c9a66"
	CommandCharacteristic      = "d973f2e2-b19e-11e2-9e96-0800200c9a66"
	NotificationCharacteristic = "d973f2e1-b19e-11e2-9e96-0800200c9a66"
)

// Opcode is the hex prefix identifying a command.
type Opcode string

const (
	OpOpen          Opcode = "03020301"
	OpClose         Opcode = "03020302"
	OpStop          Opcode = "03020303"
	OpFavorite      Opcode = "03020306"
	OpOpenTilt      Opcode = "03020309"
	OpCloseTilt     Opcode = "0302030a"
	OpPercentage    Opcode = "05020440"
	OpAngle         Opcode = "05020420"
	OpSpeed         Opcode = "0403010a"
	OpSetKey        Opcode = "02c001"
	OpStatusQuery   Opcode = "03050f02"
	OpUserQuery     Opcode = "02c005"
	OpPointSetQuery Opcode = "03050120"
)

var opcodeNames = map[Opcode]string{
	OpOpen:          "open",
	OpClose:         "close",
	OpStop:          "stop",
	OpFavorite:      "favorite",
	OpOpenTilt:      "open_tilt",
	OpCloseTilt:     "close_tilt",
	OpPercentage:    "percentage",
	OpAngle:         "angle",
	OpSpeed:         "speed",
	OpSetKey:        "set_key",
	OpStatusQuery:   "status_query",
	OpUserQuery:     "user_query",
	OpPointSetQuery: "point_set_query",
}

// String returns a readable name for logging.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return string(o)
}

// Notification prefixes, after decryption.
const (
	prefixRunning    = "070404021e"
	prefixPercentage = "07040402"
	prefixStatus     = "12040f02"
)

// Parameter domains.
const (
	MinPercentage = 0
	MaxPercentage = 100
	MinAngle      = 0
	MaxAngle      = 180
)

// Endstop bits in the position byte of PERCENT and STATUS notifications.
const (
	endstopUp   = 0x08
	endstopDown = 0x04
)

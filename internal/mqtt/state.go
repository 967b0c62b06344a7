package mqtt

import (
	"encoding/json"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/protocol"
)

// Cover states understood by the Home Assistant MQTT cover.
const (
	coverOpen    = "open"
	coverClosed  = "closed"
	coverOpening = "opening"
	coverClosing = "closing"
)

// motorState accumulates the last reported values of one motor. Positions
// are kept in motor space (0 open, 100 closed), -1 when unknown.
type motorState struct {
	mu         sync.Mutex
	position   int
	tilt       int
	running    protocol.RunningDirection
	connection connection.State
	battery    int
	speed      protocol.SpeedLevel
	endstops   *protocol.EndstopInfo
}

func newMotorState() *motorState {
	return &motorState{
		position:   -1,
		tilt:       -1,
		running:    protocol.Still,
		connection: connection.Disconnected,
		battery:    -1,
	}
}

func (s *motorState) setPosition(u *protocol.PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.position, s.tilt, s.endstops = -1, -1, nil
		return
	}
	s.position, s.tilt = u.Position, u.Tilt
	e := u.Endstops
	s.endstops = &e
}

func (s *motorState) setStatus(u *protocol.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.battery, s.speed = -1, protocol.SpeedUnknown
		return
	}
	s.position, s.tilt = u.Position, u.Tilt
	s.battery, s.speed = u.Battery, u.Speed
	e := u.Endstops
	s.endstops = &e
}

func (s *motorState) setRunning(d protocol.RunningDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = d
}

func (s *motorState) setConnection(c connection.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = c
}

// payload renders the retained state document. Positions are inverted to
// the Home Assistant convention where 100 is fully open. Unknown values are
// null.
func (s *motorState) payload() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := orderedmap.New[string, any]()
	doc.Set("state", s.coverState())
	doc.Set("position", invert(s.position))
	doc.Set("tilt", invert(s.tilt))
	doc.Set("running", string(s.running))
	doc.Set("connection", string(s.connection))
	doc.Set("battery", known(s.battery))
	if s.speed.Valid() {
		doc.Set("speed", s.speed.String())
	} else {
		doc.Set("speed", nil)
	}
	if s.endstops != nil {
		doc.Set("calibrated", s.endstops.Up && s.endstops.Down)
	} else {
		doc.Set("calibrated", nil)
	}
	return json.Marshal(doc)
}

func (s *motorState) coverState() any {
	switch s.running {
	case protocol.Opening:
		return coverOpening
	case protocol.Closing:
		return coverClosing
	}
	level := s.position
	if level < 0 {
		level = s.tilt
	}
	switch {
	case level < 0:
		return nil
	case level >= 100:
		return coverClosed
	default:
		return coverOpen
	}
}

func invert(motorPercent int) any {
	if motorPercent < 0 {
		return nil
	}
	return 100 - motorPercent
}

func known(v int) any {
	if v < 0 {
		return nil
	}
	return v
}

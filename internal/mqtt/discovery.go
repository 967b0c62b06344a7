package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/blindctl/pkg/motion"
)

const manufacturer = "MotionBlinds - Coulisse"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/cover/blindctl_aabbccddeeff/cover/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	Name         string     `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Options           []string `json:"options,omitempty"`

	// cover
	PayloadOpen        string `json:"payload_open,omitempty"`
	PayloadClose       string `json:"payload_close,omitempty"`
	PayloadStop        string `json:"payload_stop,omitempty"`
	PositionTopic      string `json:"position_topic,omitempty"`
	PositionTemplate   string `json:"position_template,omitempty"`
	SetPositionTopic   string `json:"set_position_topic,omitempty"`
	TiltStatusTopic    string `json:"tilt_status_topic,omitempty"`
	TiltStatusTemplate string `json:"tilt_status_template,omitempty"`
	TiltCommandTopic   string `json:"tilt_command_topic,omitempty"`

	Device haDevice `json:"device"`
}

// topics of one motor under the bridge prefix.
type topics struct {
	state    string
	cover    string
	position string
	tilt     string
	speed    string
	action   string
}

func motorTopics(prefix, id string) topics {
	base := prefix + "/" + id
	return topics{
		state:    base,
		cover:    base + "/set",
		position: base + "/position/set",
		tilt:     base + "/tilt/set",
		speed:    base + "/speed/set",
		action:   base + "/action",
	}
}

// topicName sanitizes a display name for use as an MQTT topic level.
func topicName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// nodeID returns the unique identifier for the HA device registry.
func nodeID(address string) string {
	return "blindctl_" + strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(address))
}

// buildDiscovery generates HA discovery messages for a motor based on its
// capabilities.
func buildDiscovery(m *motor, prefix, discoveryPrefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	t := motorTopics(prefix, m.id)
	node := nodeID(m.cfg.Address)
	caps := m.caps

	haDev := haDevice{
		Identifiers:  []string{node},
		Connections:  [][]string{{"bluetooth", m.cfg.Address}},
		Manufacturer: manufacturer,
		Model:        string(m.cfg.Type),
		Name:         m.cfg.DisplayName(),
	}
	entity := func(component, object, suffix string) (string, haDiscovery) {
		topic := fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, node, object)
		name := m.cfg.DisplayName()
		if suffix != "" {
			name += " " + suffix
		}
		return topic, haDiscovery{
			Name:              name,
			UniqueID:          node + "_" + object,
			AvailabilityTopic: avail,
			Device:            haDev,
		}
	}

	var msgs []discoveryMsg
	add := func(topic string, payload haDiscovery) {
		msgs = append(msgs, discoveryMsg{Topic: topic, Payload: mustJSON(payload)})
	}

	if caps.Position || caps.Tilt {
		topic, p := entity("cover", "cover", "")
		p.DeviceClass = "blind"
		if m.cfg.Type == motion.TypePositionCurtain {
			p.DeviceClass = "curtain"
		}
		p.StateTopic = t.state
		p.ValueTemplate = "{{ value_json.state }}"
		p.CommandTopic = t.cover
		p.PayloadOpen, p.PayloadClose, p.PayloadStop = "OPEN", "CLOSE", "STOP"
		if caps.Position {
			p.PositionTopic = t.state
			p.PositionTemplate = "{{ value_json.position }}"
			p.SetPositionTopic = t.position
		}
		if caps.Tilt {
			p.TiltStatusTopic = t.state
			p.TiltStatusTemplate = "{{ value_json.tilt }}"
			p.TiltCommandTopic = t.tilt
		}
		add(topic, p)
	}

	topic, p := entity("sensor", "battery", "Battery")
	p.StateTopic = t.state
	p.ValueTemplate = "{{ value_json.battery }}"
	p.DeviceClass = "battery"
	p.UnitOfMeasurement = "%"
	p.StateClass = "measurement"
	p.EntityCategory = "diagnostic"
	add(topic, p)

	topic, p = entity("sensor", "connection", "Connection")
	p.StateTopic = t.state
	p.ValueTemplate = "{{ value_json.connection }}"
	p.DeviceClass = "enum"
	p.Options = []string{"disconnected", "connecting", "connected"}
	p.EntityCategory = "diagnostic"
	p.Icon = "mdi:bluetooth"
	add(topic, p)

	if caps.Speed {
		topic, p = entity("select", "speed", "Speed")
		p.StateTopic = t.state
		p.ValueTemplate = "{{ value_json.speed }}"
		p.CommandTopic = t.speed
		p.Options = []string{"low", "medium", "high"}
		p.EntityCategory = "config"
		p.Icon = "mdi:run-fast"
		add(topic, p)
	}

	if caps.Endstops {
		topic, p = entity("binary_sensor", "calibration", "Calibration")
		p.StateTopic = t.state
		p.ValueTemplate = "{{ 'OFF' if value_json.calibrated else 'ON' }}"
		p.PayloadOn, p.PayloadOff = "ON", "OFF"
		p.DeviceClass = "problem"
		p.EntityCategory = "diagnostic"
		p.Icon = "mdi:tune"
		add(topic, p)
	}

	for _, b := range []struct{ object, suffix, icon string }{
		{actionConnect, "Connect", "mdi:bluetooth"},
		{actionDisconnect, "Disconnect", "mdi:bluetooth-off"},
		{actionFavorite, "Favorite", "mdi:star"},
	} {
		topic, p = entity("button", b.object, b.suffix)
		p.CommandTopic = t.action
		p.PayloadPress = b.object
		p.EntityCategory = "config"
		p.Icon = b.icon
		add(topic, p)
	}

	return msgs
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// Package mqtt exposes motors over MQTT with Home Assistant discovery.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/blindctl/internal/groutine"
	"github.com/srg/blindctl/pkg/config"
	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/motion"
	"github.com/srg/blindctl/pkg/protocol"
)

// Action payloads accepted on <prefix>/<id>/action.
const (
	actionConnect    = "connect"
	actionDisconnect = "disconnect"
	actionFavorite   = "favorite"
	actionStatus     = "status"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	publishTimeout        = 5 * time.Second
)

// Client is the subset of pahomqtt.Client the bridge uses.
type Client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// Device is the motor surface the bridge drives. *motion.Device satisfies it.
type Device interface {
	Address() string
	Capabilities() motion.Capabilities
	OnPosition(func(*protocol.PositionUpdate))
	OnRunning(func(protocol.RunningDirection))
	OnConnection(func(connection.State))
	OnStatus(func(*protocol.StatusUpdate))

	Connect(ctx context.Context) (bool, error)
	ConnectWithTimeout(ctx context.Context, timeout time.Duration) (bool, error)
	Disconnect(ctx context.Context) error
	Open(ctx context.Context) (bool, error)
	Close(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
	SetPercentage(ctx context.Context, p int) (bool, error)
	SetTiltPercentage(ctx context.Context, p int) (bool, error)
	SetSpeed(ctx context.Context, level protocol.SpeedLevel) (bool, error)
	GoToFavorite(ctx context.Context) (bool, error)
	QueryStatus(ctx context.Context) (bool, error)
}

type motor struct {
	id    string
	cfg   config.DeviceConfig
	caps  motion.Capabilities
	dev   Device
	state *motorState
}

// commandFunc is a parsed MQTT command ready to run against a motor.
type commandFunc func(ctx context.Context, dev Device) (bool, error)

func method(fn func(Device, context.Context) (bool, error)) commandFunc {
	return func(ctx context.Context, d Device) (bool, error) { return fn(d, ctx) }
}

// Bridge publishes motor state to MQTT and routes MQTT commands to motors.
type Bridge struct {
	cfg    config.MQTTConfig
	logger *logrus.Logger
	client Client
	motors *hashmap.Map[string, *motor]
	online atomic.Bool

	newClient      func(*pahomqtt.ClientOptions) Client
	connectTimeout time.Duration
	commandTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Bridge)

func WithLogger(logger *logrus.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithClientFactory replaces pahomqtt.NewClient.
func WithClientFactory(fn func(*pahomqtt.ClientOptions) Client) Option {
	return func(b *Bridge) { b.newClient = fn }
}

func WithCommandTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.commandTimeout = d }
}

// NewBridge creates a bridge for cfg. It does not connect until Start.
func NewBridge(cfg config.MQTTConfig, opts ...Option) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:            cfg,
		motors:         hashmap.New[string, *motor](),
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
		newClient: func(o *pahomqtt.ClientOptions) Client {
			return pahomqtt.NewClient(o)
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logrus.New()
	}

	o := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) { b.onConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.online.Store(false)
			b.logger.WithError(err).Warn("MQTT connection lost")
		})
	if cfg.Username != "" {
		o.SetUsername(cfg.Username)
		o.SetPassword(cfg.Password)
	}
	b.client = b.newClient(o)
	return b, nil
}

// Add registers a motor. Its topic id is derived from the display name.
func (b *Bridge) Add(dc config.DeviceConfig, dev Device) error {
	m := &motor{
		id:    topicName(dc.DisplayName()),
		cfg:   dc,
		caps:  dev.Capabilities(),
		dev:   dev,
		state: newMotorState(),
	}
	if existing, loaded := b.motors.GetOrInsert(m.id, m); loaded {
		return fmt.Errorf("topic %q is already used by %s", m.id, existing.cfg.Address)
	}

	dev.OnPosition(func(u *protocol.PositionUpdate) {
		m.state.setPosition(u)
		b.publishState(m)
	})
	dev.OnStatus(func(u *protocol.StatusUpdate) {
		m.state.setStatus(u)
		b.publishState(m)
	})
	dev.OnRunning(func(d protocol.RunningDirection) {
		m.state.setRunning(d)
		b.publishState(m)
	})
	dev.OnConnection(func(s connection.State) {
		m.state.setConnection(s)
		b.publishState(m)
	})

	if b.online.Load() {
		b.announce(m)
	}
	return nil
}

// Start connects to the broker. Discovery, state and subscriptions are
// (re)published on every connect.
func (b *Bridge) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(b.connectTimeout) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.logger.WithFields(logrus.Fields{
		"broker": b.cfg.Broker,
		"prefix": b.cfg.TopicPrefix,
		"motors": b.motors.Len(),
	}).Info("MQTT bridge started")
	return nil
}

// Stop publishes offline availability, cancels running commands and
// disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.online.Swap(false) {
		token := b.client.Publish(b.availabilityTopic(), 1, true, "offline")
		token.WaitTimeout(publishTimeout)
	}
	b.client.Disconnect(250)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.online.Store(true)
	b.logger.Info("MQTT connected")
	b.publish(b.availabilityTopic(), []byte("online"), true)
	b.motors.Range(func(_ string, m *motor) bool {
		b.announce(m)
		return true
	})
}

// announce publishes discovery and current state for m and subscribes to
// its command topics.
func (b *Bridge) announce(m *motor) {
	for _, msg := range buildDiscovery(m, b.cfg.TopicPrefix, b.cfg.DiscoveryPrefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publishState(m)

	base := motorTopics(b.cfg.TopicPrefix, m.id).state
	b.client.Subscribe(base+"/#", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMessage(m, msg.Topic(), msg.Payload())
	})
}

func (b *Bridge) handleMessage(m *motor, topic string, payload []byte) {
	log := b.logger.WithFields(logrus.Fields{
		"motor":   m.id,
		"topic":   topic,
		"payload": string(payload),
	})

	name, cmd, err := parseCommand(motorTopics(b.cfg.TopicPrefix, m.id), topic, string(payload))
	if err != nil {
		log.WithError(err).Warn("Ignoring invalid MQTT command")
		return
	}
	if cmd == nil {
		return
	}

	groutine.Go(b.ctx, "mqtt:"+m.id+":"+name, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, b.commandTimeout)
		defer cancel()

		ok, err := cmd(ctx, m.dev)
		switch {
		case err != nil:
			log.WithError(err).Warnf("Command %s failed", name)
		case !ok:
			log.Debugf("Command %s was not sent", name)
		default:
			log.Debugf("Command %s sent", name)
		}
	})
}

// parseCommand maps a message on one of the motor's topics to a command.
// Messages on the state topic itself yield a nil command.
func parseCommand(t topics, topic, payload string) (string, commandFunc, error) {
	payload = strings.TrimSpace(payload)

	switch topic {
	case t.cover:
		switch strings.ToUpper(payload) {
		case "OPEN":
			return "open", method(Device.Open), nil
		case "CLOSE":
			return "close", method(Device.Close), nil
		case "STOP":
			return "stop", method(Device.Stop), nil
		}
		return "", nil, fmt.Errorf("unknown cover command %q", payload)

	case t.position, t.tilt:
		v, err := parsePercent(payload)
		if err != nil {
			return "", nil, err
		}
		// Home Assistant counts 100 as fully open.
		motorPercent := 100 - v
		if topic == t.tilt {
			return "tilt", func(ctx context.Context, d Device) (bool, error) {
				return d.SetTiltPercentage(ctx, motorPercent)
			}, nil
		}
		return "position", func(ctx context.Context, d Device) (bool, error) {
			return d.SetPercentage(ctx, motorPercent)
		}, nil

	case t.speed:
		level, err := protocol.ParseSpeedLevel(payload)
		if err != nil {
			return "", nil, err
		}
		return "speed", func(ctx context.Context, d Device) (bool, error) {
			return d.SetSpeed(ctx, level)
		}, nil

	case t.action:
		return parseAction(payload)

	case t.state:
		return "", nil, nil
	}
	return "", nil, fmt.Errorf("unknown topic %q", topic)
}

func parseAction(payload string) (string, commandFunc, error) {
	fields := strings.Fields(strings.ToLower(payload))
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty action")
	}

	switch fields[0] {
	case actionConnect:
		if len(fields) == 1 {
			return actionConnect, method(Device.Connect), nil
		}
		secs, err := strconv.Atoi(fields[1])
		if err != nil || secs <= 0 {
			return "", nil, fmt.Errorf("invalid connect timeout %q", fields[1])
		}
		timeout := time.Duration(secs) * time.Second
		return actionConnect, func(ctx context.Context, d Device) (bool, error) {
			return d.ConnectWithTimeout(ctx, timeout)
		}, nil
	case actionDisconnect:
		return actionDisconnect, func(ctx context.Context, d Device) (bool, error) {
			if err := d.Disconnect(ctx); err != nil {
				return false, err
			}
			return true, nil
		}, nil
	case actionFavorite:
		return actionFavorite, method(Device.GoToFavorite), nil
	case actionStatus:
		return actionStatus, method(Device.QueryStatus), nil
	}
	return "", nil, fmt.Errorf("unknown action %q", fields[0])
}

func parsePercent(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q", s)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("percentage %d out of range 0-100", v)
	}
	return v, nil
}

func (b *Bridge) publishState(m *motor) {
	if !b.online.Load() {
		return
	}
	payload, err := m.state.payload()
	if err != nil {
		b.logger.WithError(err).WithField("motor", m.id).Error("Failed to encode state")
		return
	}
	b.publish(motorTopics(b.cfg.TopicPrefix, m.id).state, payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.WithField("topic", topic).Warn("MQTT publish timeout")
		} else if err := token.Error(); err != nil {
			b.logger.WithError(err).WithField("topic", topic).Warn("MQTT publish error")
		}
	}()
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.TopicPrefix + "/bridge/state"
}

// Package connection owns the BLE session to one motor: it deduplicates
// concurrent connect attempts, runs the key exchange, serializes command
// writes and tears the link down after an idle period.
package connection

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/scheduler"
	"github.com/srg/blindctl/pkg/transport"
)

// State is the connection state of a Manager.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
)

const (
	DefaultConnectAttempts   = 5
	DefaultCommandRetries    = 3
	DefaultDisconnectTimeout = 15 * time.Second
	DefaultSetKeyDelay       = 100 * time.Millisecond
	DefaultConnectBackoff    = 250 * time.Millisecond
)

// pendingConnect is the single in-flight connect shared by all callers that
// arrive while the link is down. latest holds the ticket of the most recently
// admitted caller; only that caller is told to proceed.
type pendingConnect struct {
	done   chan struct{}
	cancel context.CancelCauseFunc
	latest uint64
	ok     bool
	// seq of the transition that ended the attempt
	seq uint64
}

// Manager is safe for concurrent use.
type Manager struct {
	address   string
	transport transport.Transport
	codec     *protocol.Codec
	logger    *logrus.Logger
	sched     scheduler.Scheduler
	now       func() time.Time

	connectAttempts   int
	commandRetries    int
	disconnectTimeout time.Duration
	setKeyDelay       time.Duration
	connectBackoff    time.Duration

	onState        func(State)
	onNotification func(protocol.Notification)

	mu            sync.Mutex
	state         State
	session       transport.Session
	sessionCtx    context.Context
	sessionCancel context.CancelCauseFunc
	pending       *pendingConnect
	admitted      uint64

	deadline    time.Time
	timerCancel func()
	timerGen    uint64

	// state changes queued under mu and delivered in order by dispatchStates
	events      []State
	dispatching bool
	queued      uint64
	delivered   uint64
	deliveredCh chan struct{}

	writeMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithScheduler(s scheduler.Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithClock sets the clock used to compute the disconnect deadline.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithConnectAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.connectAttempts = n
		}
	}
}

// WithCommandRetries sets how many times a failed write is retried.
func WithCommandRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.commandRetries = n
		}
	}
}

func WithDisconnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.disconnectTimeout = d
		}
	}
}

// WithSetKeyDelay sets the pause between SET_KEY and STATUS_QUERY. The motor
// ignores commands that arrive before it has processed the key.
func WithSetKeyDelay(d time.Duration) Option {
	return func(m *Manager) { m.setKeyDelay = d }
}

func WithConnectBackoff(d time.Duration) Option {
	return func(m *Manager) { m.connectBackoff = d }
}

// WithStateHandler registers fn for state transitions. Transitions are
// delivered in order; fn may call back into the Manager, but must not wait
// for a connect that is still in progress: callers joining a connect are
// released only after fn has returned from the outcome.
func WithStateHandler(fn func(State)) Option {
	return func(m *Manager) { m.onState = fn }
}

// WithNotificationHandler registers fn for decoded notifications. fn runs on
// the transport's delivery goroutine.
func WithNotificationHandler(fn func(protocol.Notification)) Option {
	return func(m *Manager) { m.onNotification = fn }
}

// NewManager creates a Manager for the motor at address.
func NewManager(address string, t transport.Transport, codec *protocol.Codec, opts ...Option) *Manager {
	m := &Manager{
		address:           address,
		transport:         t,
		codec:             codec,
		state:             Disconnected,
		connectAttempts:   DefaultConnectAttempts,
		commandRetries:    DefaultCommandRetries,
		disconnectTimeout: DefaultDisconnectTimeout,
		setKeyDelay:       DefaultSetKeyDelay,
		connectBackoff:    DefaultConnectBackoff,
		deliveredCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logrus.New()
	}
	if m.sched == nil {
		m.sched = scheduler.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) Address() string {
	return m.address
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline returns when the idle timer fires, or the zero time if none is armed.
func (m *Manager) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// EnsureConnected returns true when the caller may use the connection.
//
// Callers arriving while the link is down share one connect attempt. When it
// completes, only the most recently admitted caller gets true; earlier ones
// get false even though the link is now up. A failed or cancelled attempt
// gives false to everyone. ctx only bounds this caller's wait.
func (m *Manager) EnsureConnected(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == Connected {
		m.armTimerLocked(m.disconnectTimeout, false)
		m.mu.Unlock()
		return true
	}

	m.admitted++
	ticket := m.admitted
	p := m.pending
	if p == nil {
		p = m.startConnectLocked()
	} else {
		m.logger.WithField("address", m.address).Debug("Connect already in progress, joining")
	}
	p.latest = ticket
	m.mu.Unlock()
	m.dispatchStates()

	select {
	case <-p.done:
	case <-ctx.Done():
		return false
	}
	// The state handler sees the outcome before any command result.
	if !m.waitDelivered(ctx, p.seq) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !p.ok {
		return false
	}
	if p.latest != ticket {
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"ticket":  ticket,
			"latest":  p.latest,
		}).Debug("Superseded by a newer caller")
		return false
	}
	return true
}

// Disconnect cancels an in-flight connect, stops the idle timer and closes
// the session. Joined connect callers observe false.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	for m.pending != nil {
		p := m.pending
		p.cancel(ErrCancelled)
		m.mu.Unlock()

		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	session := m.detachLocked()
	m.mu.Unlock()

	var err error
	if session != nil {
		m.logger.WithField("address", m.address).Info("Disconnecting from motor...")
		if derr := session.Disconnect(); derr != nil {
			err = fmt.Errorf("disconnect %s: %w", m.address, derr)
		}
	}
	m.dispatchStates()
	return err
}

// RefreshDisconnectTimer moves the idle deadline to now+timeout. A zero
// timeout means the configured default. Unless force is set an earlier
// candidate never replaces a later deadline. It is a no-op while not
// connected.
func (m *Manager) RefreshDisconnectTimer(timeout time.Duration, force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return
	}
	m.armTimerLocked(timeout, force)
}

// Send writes cmd, connecting first if needed.
//
// It returns (false, nil) when this caller was superseded or the connect
// failed, (false, ErrCommandFailed) when every write attempt failed and
// (false, ErrCancelled) when the link was torn down mid-retry. A missing
// timezone fails immediately with crypt.ErrTimezoneNotConfigured.
func (m *Manager) Send(ctx context.Context, cmd protocol.Command) (bool, error) {
	if m.codec.Crypt().Timezone() == nil {
		return false, crypt.ErrTimezoneNotConfigured
	}
	if !m.EnsureConnected(ctx) {
		return false, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	session, sessionCtx := m.session, m.sessionCtx
	m.mu.Unlock()
	if session == nil || sessionCtx == nil {
		return false, ErrCancelled
	}

	log := m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"opcode":  cmd.Opcode.String(),
	})

	var lastErr error
	for attempt := 0; attempt <= m.commandRetries; attempt++ {
		if sessionCtx.Err() != nil {
			log.Debug("Connection closed, aborting command")
			return false, context.Cause(sessionCtx)
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		err := m.write(session, cmd)
		if err == nil {
			m.RefreshDisconnectTimer(0, false)
			return true, nil
		}
		if errors.Is(err, crypt.ErrTimezoneNotConfigured) {
			return false, err
		}
		lastErr = err
		log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err,
		}).Warn("Command write failed")
	}

	return false, &Error{Kind: KindCommandFailed, Msg: cmd.String(), Err: lastErr}
}

func (m *Manager) startConnectLocked() *pendingConnect {
	ctx, cancel := context.WithCancelCause(context.Background())
	p := &pendingConnect{done: make(chan struct{}), cancel: cancel}
	m.pending = p
	m.setStateLocked(Connecting)

	m.sched.Spawn("connect:"+m.address, func(context.Context) {
		m.runConnect(ctx, p)
	})
	return p
}

func (m *Manager) runConnect(ctx context.Context, p *pendingConnect) {
	log := m.logger.WithField("address", m.address)
	log.Info("Connecting to motor...")

	session, err := m.dial(ctx)
	if err == nil {
		err = m.handshake(ctx, session)
	}

	m.mu.Lock()
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	m.pending = nil
	if err != nil {
		if m.session == session {
			m.session = nil
		}
		m.setStateLocked(Disconnected)
	} else {
		p.ok = true
		m.sessionCtx, m.sessionCancel = context.WithCancelCause(context.Background())
		m.setStateLocked(Connected)
		m.armTimerLocked(m.disconnectTimeout, true)
	}
	p.seq = m.queued
	m.mu.Unlock()
	p.cancel(nil)
	defer close(p.done)

	switch {
	case err == nil:
		log.Info("Connected to motor")
	case errors.Is(err, ErrCancelled):
		log.Info("Connect cancelled")
	default:
		log.WithField("error", err).Error("Could not connect to motor")
	}
	if err != nil && session != nil {
		if derr := session.Disconnect(); derr != nil {
			log.WithField("error", derr).Debug("Failed to close session after connect failure")
		}
	}
	m.dispatchStates()
}

func (m *Manager) dial(ctx context.Context) (transport.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= m.connectAttempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, m.connectBackoff); err != nil {
				return nil, err
			}
		}

		session, err := m.transport.Connect(ctx, m.address)
		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		lastErr = err
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"attempt": attempt,
			"error":   err,
		}).Warn("Connect attempt failed")
	}
	return nil, &Error{Kind: KindConnectFailed, Msg: fmt.Sprintf("%d attempts", m.connectAttempts), Err: lastErr}
}

func (m *Manager) handshake(ctx context.Context, session transport.Session) error {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	session.OnDisconnect(func() { m.handleLinkLost(session) })

	if err := session.Subscribe(protocol.NotificationCharacteristic, func(data []byte) {
		m.handleNotification(session, data)
	}); err != nil {
		return &Error{Kind: KindConnectFailed, Msg: "subscribe notifications", Err: err}
	}

	if err := m.write(session, protocol.SetKey()); err != nil {
		return &Error{Kind: KindConnectFailed, Msg: "set key", Err: err}
	}
	if err := m.sleep(ctx, m.setKeyDelay); err != nil {
		return err
	}
	if err := m.write(session, protocol.StatusQuery()); err != nil {
		return &Error{Kind: KindConnectFailed, Msg: "status query", Err: err}
	}
	return nil
}

func (m *Manager) write(session transport.Session, cmd protocol.Command) error {
	data, err := m.codec.Encode(cmd)
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"address": m.address,
		"opcode":  cmd.Opcode.String(),
		"payload": hex.EncodeToString(data),
	}).Debug("Writing command")

	return session.Write(protocol.CommandCharacteristic, data, false)
}

// sleep waits d through the scheduler so tests can drive it.
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	fired := make(chan struct{})
	stop := m.sched.CallLater(d, func() { close(fired) })
	defer stop()

	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (m *Manager) handleNotification(session transport.Session, data []byte) {
	m.mu.Lock()
	current := m.session == session
	m.mu.Unlock()
	if !current {
		return
	}

	n, err := m.codec.Decode(data)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"error":   err,
		}).Warn("Dropping undecodable notification")
		return
	}
	if n == nil {
		m.logger.WithFields(logrus.Fields{
			"address": m.address,
			"payload": hex.EncodeToString(data),
		}).Debug("Ignoring unknown notification")
		return
	}

	if m.onNotification != nil {
		m.onNotification(n)
	}
}

func (m *Manager) handleLinkLost(session transport.Session) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	if p := m.pending; p != nil {
		// Lost during the key exchange: fail the attempt, runConnect cleans up.
		p.cancel(transport.ErrNotConnected)
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.mu.Unlock()

	m.logger.WithField("address", m.address).Warn("Motor dropped the connection")
	m.dispatchStates()
}

func (m *Manager) idleTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	session := m.detachLocked()
	m.mu.Unlock()

	m.logger.WithField("address", m.address).Info("Idle timeout, disconnecting")
	if session != nil {
		if err := session.Disconnect(); err != nil {
			m.logger.WithFields(logrus.Fields{
				"address": m.address,
				"error":   err,
			}).Warn("Disconnect after idle timeout failed")
		}
	}
	m.dispatchStates()
}

func (m *Manager) armTimerLocked(timeout time.Duration, force bool) {
	if timeout <= 0 {
		timeout = m.disconnectTimeout
	}
	candidate := m.now().Add(timeout)
	if m.timerCancel != nil && !force && m.deadline.After(candidate) {
		return
	}

	m.cancelTimerLocked()
	gen := m.timerGen
	m.deadline = candidate
	m.timerCancel = m.sched.CallLater(timeout, func() { m.idleTimeout(gen) })
}

func (m *Manager) cancelTimerLocked() {
	if m.timerCancel != nil {
		m.timerCancel()
		m.timerCancel = nil
	}
	m.deadline = time.Time{}
	m.timerGen++
}

// detachLocked drops the session and moves to Disconnected. The caller
// closes the returned session outside the lock.
func (m *Manager) detachLocked() transport.Session {
	session := m.session
	m.session = nil
	if m.sessionCancel != nil {
		m.sessionCancel(ErrCancelled)
		m.sessionCancel = nil
		m.sessionCtx = nil
	}
	m.cancelTimerLocked()
	m.setStateLocked(Disconnected)
	return session
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.events = append(m.events, s)
	m.queued++
}

// dispatchStates delivers queued transitions. Only one goroutine drains at a
// time; a reentrant call from the handler leaves its event to the drainer.
func (m *Manager) dispatchStates() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.events) > 0 {
		s := m.events[0]
		m.events = m.events[1:]
		m.mu.Unlock()

		if m.onState != nil {
			m.onState(s)
		}

		m.mu.Lock()
		m.delivered++
		close(m.deliveredCh)
		m.deliveredCh = make(chan struct{})
	}
	m.dispatching = false
	m.mu.Unlock()
}

// waitDelivered blocks until the state handler has returned from every
// transition up to seq. The drain may be running on another goroutine.
func (m *Manager) waitDelivered(ctx context.Context, seq uint64) bool {
	for {
		m.mu.Lock()
		if m.delivered >= seq {
			m.mu.Unlock()
			return true
		}
		ch := m.deliveredCh
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

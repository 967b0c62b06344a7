// Package motion is the public face of one motor: motion commands gated by
// the motor's capabilities, stop double-click folding and single-slot
// callbacks for position, running, connection and status events.
package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/pkg/connection"
	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/scheduler"
	"github.com/srg/blindctl/pkg/transport"
)

// DefaultDoubleClickWindow is how long Stop waits for a second Stop that
// turns the pair into a favorite command.
const DefaultDoubleClickWindow = 500 * time.Millisecond

// Device is safe for concurrent use.
type Device struct {
	manager     *connection.Manager
	logger      *logrus.Logger
	sched       scheduler.Scheduler
	caps        Capabilities
	doubleClick time.Duration

	cbMu         sync.Mutex
	onPosition   func(*protocol.PositionUpdate)
	onRunning    func(protocol.RunningDirection)
	onConnection func(connection.State)
	onStatus     func(*protocol.StatusUpdate)

	// last known motor percentages, -1 when unknown
	posMu    sync.Mutex
	position int
	tilt     int

	stopMu   sync.Mutex
	stopWait *stopWindow
}

// stopWindow is a Stop waiting to learn whether it was a double click.
type stopWindow struct {
	cancel func()
	fired  chan struct{}
	folded chan struct{}
}

type options struct {
	logger      *logrus.Logger
	sched       scheduler.Scheduler
	codec       *protocol.Codec
	timezone    string
	caps        *Capabilities
	doubleClick time.Duration
	managerOpts []connection.Option
}

type Option func(*options)

func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithScheduler sets the host scheduler shared by the device and its
// connection manager.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithCodec supplies a ready protocol codec. It takes precedence over
// WithTimezone.
func WithCodec(c *protocol.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithTimezone configures the timezone of the device's own codec.
func WithTimezone(name string) Option {
	return func(o *options) { o.timezone = name }
}

func WithCapabilities(c Capabilities) Option {
	return func(o *options) { o.caps = &c }
}

func WithDoubleClickWindow(d time.Duration) Option {
	return func(o *options) { o.doubleClick = d }
}

// WithManagerOptions passes options through to the connection manager.
// State and notification handlers are owned by the Device and are ignored.
func WithManagerOptions(opts ...connection.Option) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// NewDevice creates the facade for the motor at address. Without
// WithCapabilities the device accepts every command.
func NewDevice(address string, t transport.Transport, opts ...Option) (*Device, error) {
	o := options{doubleClick: DefaultDoubleClickWindow}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}
	if o.sched == nil {
		o.sched = scheduler.Default()
	}
	if o.codec == nil {
		var cryptOpts []crypt.Option
		if o.timezone != "" {
			cryptOpts = append(cryptOpts, crypt.WithTimezone(o.timezone))
		}
		c, err := crypt.NewCodec(cryptOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create codec: %w", err)
		}
		o.codec = protocol.NewCodec(c)
	}

	d := &Device{
		logger:      o.logger,
		sched:       o.sched,
		caps:        Capabilities{Position: true, Tilt: true, Speed: true, Endstops: true},
		doubleClick: o.doubleClick,
		position:    -1,
		tilt:        -1,
	}
	if o.caps != nil {
		d.caps = *o.caps
	}

	managerOpts := append([]connection.Option{
		connection.WithLogger(o.logger),
		connection.WithScheduler(o.sched),
	}, o.managerOpts...)
	managerOpts = append(managerOpts,
		connection.WithStateHandler(d.handleState),
		connection.WithNotificationHandler(d.handleNotification),
	)
	d.manager = connection.NewManager(address, t, o.codec, managerOpts...)
	return d, nil
}

func (d *Device) Address() string {
	return d.manager.Address()
}

func (d *Device) Capabilities() Capabilities {
	return d.caps
}

func (d *Device) State() connection.State {
	return d.manager.State()
}

// Deadline returns when the idle disconnect fires, zero if not connected.
func (d *Device) Deadline() time.Time {
	return d.manager.Deadline()
}

// OnPosition registers the position callback, replacing any previous one.
// It receives nil when the position becomes unknown.
func (d *Device) OnPosition(fn func(*protocol.PositionUpdate)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onPosition = fn
}

// OnRunning registers the running direction callback.
func (d *Device) OnRunning(fn func(protocol.RunningDirection)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onRunning = fn
}

// OnConnection registers the connection state callback.
func (d *Device) OnConnection(fn func(connection.State)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onConnection = fn
}

// OnStatus registers the status callback. It receives nil when battery and
// speed become unknown.
func (d *Device) OnStatus(fn func(*protocol.StatusUpdate)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.onStatus = fn
}

// Connect establishes the connection. It reports false when a newer caller
// superseded this one or the connect failed.
func (d *Device) Connect(ctx context.Context) (bool, error) {
	return d.manager.EnsureConnected(ctx), nil
}

// ConnectWithTimeout connects and then sets the idle disconnect to timeout,
// replacing any later deadline.
func (d *Device) ConnectWithTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	if !d.manager.EnsureConnected(ctx) {
		return false, nil
	}
	d.manager.RefreshDisconnectTimer(timeout, true)
	return true, nil
}

func (d *Device) Disconnect(ctx context.Context) error {
	return d.manager.Disconnect(ctx)
}

// RefreshDisconnectTimer moves the idle deadline, see
// connection.Manager.RefreshDisconnectTimer.
func (d *Device) RefreshDisconnectTimer(timeout time.Duration, force bool) {
	d.manager.RefreshDisconnectTimer(timeout, force)
}

func (d *Device) Open(ctx context.Context) (bool, error) {
	if !d.caps.Position {
		return false, &UnsupportedError{Command: "open", Caps: d.caps}
	}
	return d.sendMoving(ctx, protocol.Open(), protocol.Opening)
}

func (d *Device) Close(ctx context.Context) (bool, error) {
	if !d.caps.Position {
		return false, &UnsupportedError{Command: "close", Caps: d.caps}
	}
	return d.sendMoving(ctx, protocol.Close(), protocol.Closing)
}

// SetPercentage moves to p, where 0 is fully open and 100 fully closed.
func (d *Device) SetPercentage(ctx context.Context, p int) (bool, error) {
	if !d.caps.Position {
		return false, &UnsupportedError{Command: "set percentage", Caps: d.caps}
	}
	cmd, err := protocol.Percentage(p)
	if err != nil {
		return false, err
	}
	d.posMu.Lock()
	dir := directionTo(d.position, p)
	d.posMu.Unlock()
	return d.sendMoving(ctx, cmd, dir)
}

func (d *Device) OpenTilt(ctx context.Context) (bool, error) {
	if !d.caps.Tilt {
		return false, &UnsupportedError{Command: "open tilt", Caps: d.caps}
	}
	return d.sendMoving(ctx, protocol.OpenTilt(), protocol.Opening)
}

func (d *Device) CloseTilt(ctx context.Context) (bool, error) {
	if !d.caps.Tilt {
		return false, &UnsupportedError{Command: "close tilt", Caps: d.caps}
	}
	return d.sendMoving(ctx, protocol.CloseTilt(), protocol.Closing)
}

func (d *Device) SetTiltPercentage(ctx context.Context, p int) (bool, error) {
	if !d.caps.Tilt {
		return false, &UnsupportedError{Command: "set tilt percentage", Caps: d.caps}
	}
	cmd, err := protocol.TiltPercentage(p)
	if err != nil {
		return false, err
	}
	d.posMu.Lock()
	dir := directionTo(d.tilt, p)
	d.posMu.Unlock()
	return d.sendMoving(ctx, cmd, dir)
}

func (d *Device) SetSpeed(ctx context.Context, level protocol.SpeedLevel) (bool, error) {
	if !d.caps.Speed {
		return false, &UnsupportedError{Command: "set speed", Caps: d.caps}
	}
	cmd, err := protocol.Speed(level)
	if err != nil {
		return false, err
	}
	return d.manager.Send(ctx, cmd)
}

func (d *Device) GoToFavorite(ctx context.Context) (bool, error) {
	return d.manager.Send(ctx, protocol.Favorite())
}

// QueryStatus asks the motor for a status notification.
func (d *Device) QueryStatus(ctx context.Context) (bool, error) {
	return d.manager.Send(ctx, protocol.StatusQuery())
}

// Stop stops the motor. A second Stop within the double-click window sends
// the favorite command instead; the first call then returns false without
// sending anything. A third Stop opens a new window.
func (d *Device) Stop(ctx context.Context) (bool, error) {
	d.stopMu.Lock()
	if w := d.stopWait; w != nil {
		d.stopWait = nil
		w.cancel()
		close(w.folded)
		d.stopMu.Unlock()

		d.logger.WithField("address", d.Address()).Debug("Double stop, going to favorite position")
		return d.manager.Send(ctx, protocol.Favorite())
	}

	w := &stopWindow{fired: make(chan struct{}), folded: make(chan struct{})}
	w.cancel = d.sched.CallLater(d.doubleClick, func() {
		d.stopMu.Lock()
		defer d.stopMu.Unlock()
		if d.stopWait != w {
			return
		}
		d.stopWait = nil
		close(w.fired)
	})
	d.stopWait = w
	d.stopMu.Unlock()

	select {
	case <-w.fired:
		return d.manager.Send(ctx, protocol.Stop())
	case <-w.folded:
		return false, nil
	case <-ctx.Done():
		d.stopMu.Lock()
		if d.stopWait == w {
			d.stopWait = nil
			w.cancel()
		}
		d.stopMu.Unlock()
		return false, ctx.Err()
	}
}

func (d *Device) sendMoving(ctx context.Context, cmd protocol.Command, dir protocol.RunningDirection) (bool, error) {
	ok, err := d.manager.Send(ctx, cmd)
	if ok && dir != protocol.Still {
		d.emitRunning(dir)
	}
	return ok, err
}

// directionTo infers the movement from current to target. Lower
// percentages are more open.
func directionTo(current, target int) protocol.RunningDirection {
	switch {
	case current < 0 || current == target:
		return protocol.Still
	case target < current:
		return protocol.Opening
	default:
		return protocol.Closing
	}
}

func (d *Device) emitRunning(dir protocol.RunningDirection) {
	d.cbMu.Lock()
	fn := d.onRunning
	d.cbMu.Unlock()
	if fn != nil {
		fn(dir)
	}
}

func (d *Device) handleNotification(n protocol.Notification) {
	d.cbMu.Lock()
	onPosition, onRunning, onStatus := d.onPosition, d.onRunning, d.onStatus
	d.cbMu.Unlock()

	switch n := n.(type) {
	case *protocol.PositionUpdate:
		d.remember(n.Position, n.Tilt)
		if onPosition != nil {
			onPosition(n)
		}
	case *protocol.RunningUpdate:
		if onRunning != nil {
			onRunning(n.Direction)
		}
	case *protocol.StatusUpdate:
		d.remember(n.Position, n.Tilt)
		if onStatus != nil {
			onStatus(n)
		}
	}
}

func (d *Device) remember(position, tilt int) {
	d.posMu.Lock()
	defer d.posMu.Unlock()
	d.position, d.tilt = position, tilt
}

func (d *Device) handleState(s connection.State) {
	d.cbMu.Lock()
	onConnection, onPosition, onRunning, onStatus := d.onConnection, d.onPosition, d.onRunning, d.onStatus
	d.cbMu.Unlock()

	if onConnection != nil {
		onConnection(s)
	}
	if s != connection.Disconnected {
		return
	}

	// The motor state is unknown until the next connection reports it.
	d.remember(-1, -1)
	if onPosition != nil {
		onPosition(nil)
	}
	if onStatus != nil {
		onStatus(nil)
	}
	if onRunning != nil {
		onRunning(protocol.Still)
	}
}

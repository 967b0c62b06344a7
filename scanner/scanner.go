package scanner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/pkg/protocol"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// MotorEventType marks if the motor was newly discovered or updated
type MotorEventType int

const (
	EventNew MotorEventType = iota
	EventUpdated
)

type MotorEvent struct {
	Type  MotorEventType
	Motor Motor
}

// Source delivers BLE advertisements until ctx ends.
type Source interface {
	Scan(ctx context.Context, allowDup bool, h blelib.AdvHandler) error
}

// Motor is a MotionBlinds motor seen during a scan.
type Motor struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"last_seen"`
}

var motorName = regexp.MustCompile(`^MOTION_([0-9A-Fa-f]{4})$`)

// MotorID returns the four hex digits of a MOTION_XXXX local name.
func MotorID(localName string) (string, bool) {
	m := motorName.FindStringSubmatch(localName)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// Scanner finds motors among BLE advertisements
type Scanner struct {
	source Source
	logger *logrus.Logger
	motors *hashmap.Map[string, Motor]
	events chan MotorEvent
	now    func() time.Time

	service blelib.UUID
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a motor scanner reading advertisements from source.
func NewScanner(source Source, logger *logrus.Logger) (*Scanner, error) {
	if source == nil {
		return nil, errors.New("scanner: nil advertisement source")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		source:  source,
		logger:  logger,
		events:  make(chan MotorEvent, 100),
		now:     time.Now,
		service: blelib.MustParse(protocol.ServiceUUID),
	}, nil
}

// Scan listens for opts.Duration (0 means until ctx ends) and returns the
// motors found, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Motor, error) {
	s.motors = hashmap.New[string, Motor]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Scanning for motors...")
	progressCallback("Scanning")

	err := s.source.Scan(ctx, !opts.DuplicateFilter, func(adv blelib.Advertisement) {
		s.handleAdvertisement(adv, opts)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("motor_count", s.motors.Len()).Info("Motor scan completed")
	progressCallback("Processing results")

	return s.snapshot(), nil
}

// Events returns found and refreshed motors as they are seen. Events are
// dropped while nobody reads.
func (s *Scanner) Events() <-chan MotorEvent {
	return s.events
}

func (s *Scanner) handleAdvertisement(adv blelib.Advertisement, opts *ScanOptions) {
	address := strings.ToUpper(adv.Addr().String())

	prev, existing := s.motors.Get(address)
	if !existing && !s.shouldInclude(adv, address, opts) {
		return
	}

	m := Motor{
		Address:     address,
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		LastSeen:    s.now(),
	}
	// Scan responses carry the name, plain advertisements may not.
	if m.Name == "" {
		m.Name = prev.Name
	}
	if id, ok := MotorID(m.Name); ok {
		m.ID = id
	} else {
		m.ID = addressID(address)
	}
	s.motors.Set(address, m)

	event := MotorEvent{Type: EventUpdated, Motor: m}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"motor":   m.Name,
			"address": m.Address,
			"rssi":    m.RSSI,
		}).Info("Discovered motor")
	}

	select {
	case s.events <- event:
	default:
	}
}

// shouldInclude keeps motors, identified by name or by the advertised
// control service, that pass the allow/block lists.
func (s *Scanner) shouldInclude(adv blelib.Advertisement, address string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(address, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(address, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if _, ok := MotorID(adv.LocalName()); ok {
		return true
	}
	for _, u := range adv.Services() {
		if u.Equal(s.service) {
			return true
		}
	}
	return false
}

func (s *Scanner) snapshot() []Motor {
	motors := make([]Motor, 0, s.motors.Len())
	s.motors.Range(func(_ string, m Motor) bool {
		motors = append(motors, m)
		return true
	})

	sort.Slice(motors, func(i, j int) bool {
		if motors[i].RSSI != motors[j].RSSI {
			return motors[i].RSSI > motors[j].RSSI
		}
		return motors[i].Address < motors[j].Address
	})
	return motors
}

// addressID is the motor ID for a motor that did not advertise its name:
// the last two address bytes.
func addressID(address string) string {
	hex := strings.NewReplacer(":", "", "-", "").Replace(address)
	if len(hex) < 4 {
		return hex
	}
	return hex[len(hex)-4:]
}

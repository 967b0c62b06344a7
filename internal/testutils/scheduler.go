package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/srg/blindctl/internal/groutine"
)

// ManualScheduler implements scheduler.Scheduler on a virtual clock.
// CallLater callbacks only run from Advance; Spawn runs on real goroutines
// that Wait joins.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	wg     sync.WaitGroup
}

type manualTimer struct {
	at        time.Time
	fn        func()
	cancelled bool
	fired     bool
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the virtual time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) CallLater(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTimer{at: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.cancelled = true
	}
}

func (s *ManualScheduler) Spawn(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	groutine.Go(context.Background(), name, func(ctx context.Context) {
		defer s.wg.Done()
		fn(ctx)
	})
}

// Advance moves the clock forward and runs every due callback in deadline
// order, outside the scheduler lock.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)

	var due []*manualTimer
	live := s.timers[:0]
	for _, t := range s.timers {
		switch {
		case t.cancelled || t.fired:
		case !t.at.After(s.now):
			t.fired = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	s.timers = live
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of callbacks that are neither cancelled nor fired.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.timers {
		if !t.cancelled && !t.fired {
			n++
		}
	}
	return n
}

// Wait blocks until every spawned goroutine has returned.
func (s *ManualScheduler) Wait() {
	s.wg.Wait()
}

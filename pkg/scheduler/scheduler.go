// Package scheduler abstracts the two host primitives the motor core needs:
// running a function after a delay and running a function concurrently.
package scheduler

import (
	"context"
	"time"

	"github.com/srg/blindctl/internal/groutine"
)

// Scheduler is supplied by the host. Implementations must be safe for
// concurrent use.
type Scheduler interface {
	// CallLater runs fn once after d. The returned func cancels the call if it
	// has not started yet; calling it more than once is harmless.
	CallLater(d time.Duration, fn func()) (cancel func())

	// Spawn runs fn on its own goroutine. name is used for diagnostics only.
	Spawn(name string, fn func(ctx context.Context))
}

type defaultScheduler struct{}

// Default returns a Scheduler backed by time.AfterFunc and named goroutines.
func Default() Scheduler {
	return defaultScheduler{}
}

func (defaultScheduler) CallLater(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (defaultScheduler) Spawn(name string, fn func(ctx context.Context)) {
	groutine.Go(context.Background(), name, fn)
}

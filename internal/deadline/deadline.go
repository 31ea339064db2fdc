// Package deadline provides a processing deadline that, unlike a context
// deadline, can be pushed back while the work waits on something that must
// not count against it, such as a platform flood wait.
package deadline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrExpired is the cancellation cause of a context whose deadline passed.
var ErrExpired = fmt.Errorf("processing deadline exceeded: %w", context.DeadlineExceeded)

type key struct{}

// Deadline cancels its context once the clock passes the expiry time.
type Deadline struct {
	clock  clockwork.Clock
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	timer   clockwork.Timer
	expires time.Time
	expired bool
	stopped bool
}

// New returns a context cancelled with ErrExpired after timeout on clock,
// unless the deadline is extended or stopped first.
func New(parent context.Context, clock clockwork.Clock, timeout time.Duration) (context.Context, *Deadline) {
	ctx, cancel := context.WithCancelCause(parent)
	d := &Deadline{clock: clock, cancel: cancel}

	d.mu.Lock()
	d.expires = clock.Now().Add(timeout)
	d.timer = clock.AfterFunc(timeout, d.fire)
	d.mu.Unlock()

	return context.WithValue(ctx, key{}, d), d
}

func (d *Deadline) fire() {
	d.mu.Lock()
	if d.stopped || d.expired || d.clock.Now().Before(d.expires) {
		d.mu.Unlock()
		return
	}
	d.expired = true
	d.mu.Unlock()
	d.cancel(ErrExpired)
}

// Expired reports whether the deadline passed before Stop.
func (d *Deadline) Expired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}

// Stop releases the timer and the context.
func (d *Deadline) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.timer.Stop()
	d.mu.Unlock()
	d.cancel(nil)
}

func (d *Deadline) extend(by time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.expired || d.stopped {
		return false
	}
	d.expires = d.expires.Add(by)
	d.timer.Reset(d.clock.Until(d.expires))
	return true
}

// Extend pushes back the deadline carried by ctx. It reports false when ctx
// has no deadline from New or the deadline is already over.
func Extend(ctx context.Context, by time.Duration) bool {
	d, ok := ctx.Value(key{}).(*Deadline)
	if !ok {
		return false
	}
	return d.extend(by)
}

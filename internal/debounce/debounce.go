// Package debounce provides a last-value-wins scheduler: a burst of values
// pushed within one wait window is delivered once, carrying the latest value.
//
// A Debouncer from New delivers at most once per window measured from the
// first push, so a steady stream still produces regular deliveries. One from
// NewTrailing restarts the window on every push and delivers only after the
// stream has been quiet for the whole wait.
package debounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer collapses pushed values into at most one delivery per wait
// window. Deliveries happen on the clock's timer goroutine.
type Debouncer[T any] struct {
	clk  clock.Clock
	wait time.Duration
	fn   func(T)
	// trailing restarts the window on every Push.
	trailing bool

	mu      sync.Mutex
	value   T
	pending bool
	stopped bool
	timer   *clock.Timer
	gen     uint64 // invalidates timers that were stopped but already fired
}

// New creates a Debouncer delivering to fn. A nil clock uses the wall clock.
// A wait of zero or less disables debouncing: Push delivers synchronously.
func New[T any](clk clock.Clock, wait time.Duration, fn func(T)) *Debouncer[T] {
	if clk == nil {
		clk = clock.New()
	}

	return &Debouncer[T]{
		clk:  clk,
		wait: wait,
		fn:   fn,
	}
}

// NewTrailing is like New, but every Push restarts the wait, so fn runs
// only once pushes have stopped for a full wait.
func NewTrailing[T any](clk clock.Clock, wait time.Duration, fn func(T)) *Debouncer[T] {
	d := New(clk, wait, fn)
	d.trailing = true

	return d
}

// Push records v as the pending value and schedules a delivery if none is
// scheduled. A trailing Debouncer reschedules the delivery instead. Push after
// Stop is ignored.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.wait <= 0 {
		d.mu.Unlock()
		d.fn(v)

		return
	}

	d.value = v
	d.pending = true

	if d.timer != nil && d.trailing {
		d.timer.Stop()
		d.timer = nil
		d.gen++
	}

	if d.timer == nil {
		gen := d.gen
		d.timer = d.clk.AfterFunc(d.wait, func() { d.fire(gen) })
	}

	d.mu.Unlock()
}

// Stop drops the pending value and disables all future deliveries.
// Stop is idempotent.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.takeLocked()
	d.stopped = true
}

// Pending reports whether a value is waiting for delivery.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pending
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()

	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}

	v, ok := d.takeLocked()
	d.mu.Unlock()

	if ok {
		d.fn(v)
	}
}

// takeLocked clears the pending value and any scheduled timer, returning
// what was pending. d.mu must be held.
func (d *Debouncer[T]) takeLocked() (T, bool) {
	var zero T

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.gen++

	if !d.pending {
		return zero, false
	}

	v := d.value
	d.value = zero
	d.pending = false

	return v, true
}

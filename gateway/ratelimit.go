package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Default send capacities, one below the documented hard limits.
const (
	DefaultRatePerMinute = 110
	DefaultRatePerSecond = 2
)

// window is a sliding log of the last capacity debits within length
type window struct {
	capacity int
	length   time.Duration

	// ring of debit timestamps, oldest at head
	debits []time.Time
	head   int
	count  int
}

func newWindow(capacity int, length time.Duration) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{
		capacity: capacity,
		length:   length,
		debits:   make([]time.Time, capacity),
	}
}

// expire drops debits that left the window
func (w *window) expire(now time.Time) {
	for w.count > 0 && !now.Before(w.debits[w.head].Add(w.length)) {
		w.head = (w.head + 1) % w.capacity
		w.count--
	}
}

func (w *window) remaining(now time.Time) int {
	w.expire(now)
	return w.capacity - w.count
}

// wait returns how long until one unit frees up, 0 if available now
func (w *window) wait(now time.Time) time.Duration {
	w.expire(now)
	if w.count < w.capacity {
		return 0
	}
	return w.debits[w.head].Add(w.length).Sub(now)
}

func (w *window) reset(now time.Time) time.Time {
	w.expire(now)
	if w.count == 0 {
		return now
	}
	return w.debits[w.head].Add(w.length)
}

func (w *window) debit(now time.Time) {
	w.debits[(w.head+w.count)%w.capacity] = now
	w.count++
}

// RateGate throttles outbound gateway frames across a per-second and a
// per-minute window. Every rolling window of either length holds at most
// its capacity of debits.
type RateGate struct {
	mu     sync.Mutex
	clock  clock.Clock
	second *window
	minute *window
}

// RateGateOption configures a RateGate
type RateGateOption func(g *RateGate)

// WithClock makes the gate use c instead of the wall clock
func WithClock(c clock.Clock) RateGateOption {
	return func(g *RateGate) {
		g.clock = c
	}
}

// NewRateGate returns a gate allowing perMinute sends per minute and
// perSecond sends per second, non-positive values use the defaults.
func NewRateGate(perMinute, perSecond int, opts ...RateGateOption) *RateGate {
	if perMinute <= 0 {
		perMinute = DefaultRatePerMinute
	}
	if perSecond <= 0 {
		perSecond = DefaultRatePerSecond
	}

	g := &RateGate{
		clock:  clock.New(),
		second: newWindow(perSecond, time.Second),
		minute: newWindow(perMinute, time.Minute),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Acquire blocks until a unit is available in both windows and debits it.
// It only fails if ctx is done first.
func (g *RateGate) Acquire(ctx context.Context) error {
	_, err := g.acquire(ctx)
	return err
}

func (g *RateGate) acquire(ctx context.Context) (time.Time, error) {
	for {
		g.mu.Lock()
		now := g.clock.Now()
		wait := g.minute.wait(now)
		if w := g.second.wait(now); w > wait {
			wait = w
		}

		if wait <= 0 {
			g.second.debit(now)
			g.minute.debit(now)
			g.mu.Unlock()
			return now, nil
		}
		g.mu.Unlock()

		t := g.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return time.Time{}, ctx.Err()
		case <-t.C:
		}
	}
}

// Remaining returns the units currently left in the per-second and
// per-minute windows
func (g *RateGate) Remaining() (perSecond, perMinute int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	return g.second.remaining(now), g.minute.remaining(now)
}

// Resets returns when the oldest debit of each window expires
func (g *RateGate) Resets() (second, minute time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	return g.second.reset(now), g.minute.reset(now)
}

package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source behind a Timer. Tests substitute FakeClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. time.Now carries a monotonic reading, so
// differences between two calls are unaffected by wall-clock adjustments.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock only moves when told to.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock stopped at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Timer measures the seconds elapsed between successive Tick calls.
type Timer struct {
	clock Clock
	last  time.Time
}

// NewTimer starts a timer; the first Tick measures from now.
func NewTimer(c Clock) *Timer {
	if c == nil {
		c = SystemClock{}
	}
	return &Timer{clock: c, last: c.Now()}
}

// Tick returns the seconds since the previous Tick and restarts the measurement.
func (t *Timer) Tick() float32 {
	now := t.clock.Now()
	elapsed := now.Sub(t.last)
	t.last = now
	return float32(elapsed.Seconds())
}

// Since returns the seconds since the previous Tick without restarting.
func (t *Timer) Since() float32 {
	return float32(t.clock.Now().Sub(t.last).Seconds())
}

// Mode describes how a Loop paces frames.
type Mode int

const (
	// RealTime waits for the next tick of a wall-clock ticker before each frame.
	RealTime Mode = iota
	// Accelerated runs frames back to back.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// FrameFunc runs one frame. Returning an error stops the loop.
type FrameFunc func(frame int) error

// Loop drives a FrameFunc at a fixed cadence.
type Loop struct {
	Tick time.Duration
	Mode Mode

	mu     sync.Mutex
	frames int
}

// NewLoop constructs a loop.
func NewLoop(tick time.Duration, mode Mode) *Loop {
	return &Loop{Tick: tick, Mode: mode}
}

// Frames returns how many frames have completed.
func (l *Loop) Frames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Run calls fn for frames frames, or until ctx is done when frames <= 0.
// A frame that has started always runs to completion.
func (l *Loop) Run(ctx context.Context, frames int, fn FrameFunc) error {
	var ticks <-chan time.Time
	if l.Mode == RealTime && l.Tick > 0 {
		ticker := time.NewTicker(l.Tick)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for i := 0; frames <= 0 || i < frames; i++ {
		if ticks != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticks:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(i); err != nil {
			return err
		}
		l.mu.Lock()
		l.frames++
		l.mu.Unlock()
	}
	return nil
}

// Package input collects device events between frames and publishes them
// as a stable per-frame view when the engine updates it.
package input

import (
	"errors"
	"sync"
)

// ErrNotCreated is returned when events are injected before Create.
var ErrNotCreated = errors.New("input system not created")

// Kind distinguishes event payloads.
type Kind int

const (
	KindButtonDown Kind = iota
	KindButtonUp
	KindAxis
)

// Event is a single device event.
type Event struct {
	Kind   Kind
	Device string
	Code   uint32
	Value  float32
}

// System queues events from any goroutine and exposes them to the frame
// thread after Update.
type System struct {
	mu      sync.Mutex
	created bool
	queued  []Event
	frame   []Event
	axes    map[uint32]float32
	down    map[uint32]bool
	elapsed float32
}

// Create prepares the system for use.
func (s *System) Create() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = true
	s.axes = make(map[uint32]float32)
	s.down = make(map[uint32]bool)
	return nil
}

// Destroy drops all state. The system can be created again.
func (s *System) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = false
	s.queued = nil
	s.frame = nil
	s.axes = nil
	s.down = nil
}

// Inject queues ev for the next frame.
func (s *System) Inject(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return ErrNotCreated
	}
	s.queued = append(s.queued, ev)
	return nil
}

// Update publishes the events queued since the previous call.
func (s *System) Update(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return
	}
	s.elapsed += dt
	s.frame, s.queued = s.queued, s.frame[:0]
	for _, ev := range s.frame {
		switch ev.Kind {
		case KindButtonDown:
			s.down[ev.Code] = true
		case KindButtonUp:
			delete(s.down, ev.Code)
		case KindAxis:
			s.axes[ev.Code] = ev.Value
		}
	}
}

// Events returns the events published by the last Update.
func (s *System) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.frame...)
}

// IsDown reports whether button code is held as of the last Update.
func (s *System) IsDown(code uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down[code]
}

// Axis returns the last published value for an axis.
func (s *System) Axis(code uint32) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axes[code]
}

// Elapsed returns the sum of all deltas passed to Update.
func (s *System) Elapsed() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

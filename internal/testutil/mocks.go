package testutil

import (
	"context"
	"slices"
	"sync"
)

// Recorder is an append-only, concurrency-safe event log. Tests use it to
// assert which hooks and resolvers fired, and in what order.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends an event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Hook returns a hook-shaped func that records event and returns nil.
func (r *Recorder) Hook(event string) func(context.Context) error {
	return func(context.Context) error {
		r.Record(event)
		return nil
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Count returns how many times event was recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// Has reports whether event was recorded at least once.
func (r *Recorder) Has(event string) bool {
	return r.Count(event) > 0
}

// Package events defines what the scan engine publishes to the outside world.
package events

import (
	"sync"
	"time"

	"github.com/rubiojr/timefix/internal/types"
)

// Type identifies a category of event.
type Type string

const (
	Progress  Type = "scan.progress"
	Outcomes  Type = "scan.outcomes"
	Completed Type = "scan.completed"
	Error     Type = "scan.error"
	Log       Type = "scan.log"
)

// Event is a plain value; publishers must not retain or mutate Outcomes.
type Event struct {
	Type      Type                `msgpack:"type" json:"type"`
	SessionID string              `msgpack:"session_id" json:"session_id"`
	Timestamp time.Time           `msgpack:"timestamp" json:"timestamp"`
	Progress  types.Progress      `msgpack:"progress" json:"progress"`
	Outcomes  []types.FileOutcome `msgpack:"outcomes,omitempty" json:"outcomes,omitempty"`
	Message   string              `msgpack:"message,omitempty" json:"message,omitempty"`
	Level     string              `msgpack:"level,omitempty" json:"level,omitempty"`
}

// Publisher is the only capability the engine needs from its host.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

package events

import (
	"sync"
	"time"

	"github.com/rubiojr/timefix/internal/log"
)

// Handler processes an event delivered by a Bus.
type Handler func(Event)

// Bus is an in-process publish/subscribe channel. Log events are dropped
// when the buffer is full; every other type blocks the publisher until there
// is room, so progress and outcomes are never lost.
type Bus struct {
	ch      chan Event
	mu      sync.RWMutex
	subs    map[Type][]Handler
	all     []Handler
	logger  *log.Logger
	done    chan struct{}
	stopped bool

	// publishers hold it for reading while they send; Start takes it once
	// after done is closed so no send can slip in behind the final drain
	sendMu sync.RWMutex
}

func NewBus(logger *log.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish queues e for dispatch. Events published after Stop are dropped
// with a warning.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	select {
	case <-b.done:
		b.logger.Warnf("event bus stopped, dropping %s event", e.Type)
		return
	default:
	}

	if e.Type == Log {
		select {
		case b.ch <- e:
		default:
		}
		return
	}
	select {
	case b.ch <- e:
	case <-b.done:
		b.logger.Warnf("event bus stopped, dropping %s event", e.Type)
	}
}

// Start drains the channel and dispatches events until Stop is called.
// Run it in its own goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			// wait out publishers that were mid-send when Stop was called
			b.sendMu.Lock()
			b.sendMu.Unlock()
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop makes Start return after the buffer has been drained.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := append(append([]Handler(nil), b.subs[e.Type]...), b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Not logged through b.logger: its sink may publish back
					// into this bus.
					b.logger.Debugf("event handler panicked on %s: %v", e.Type, r)
				}
			}()
			h(e)
		}()
	}
}

package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Event is one decoded dispatch frame from the gateway. Data is the raw
// platform payload; this package never interprets it.
type Event struct {
	Type string
	Seq  int64
	Data json.RawMessage
}

// Handler processes a single event. Handlers run on the dispatcher
// goroutine and must return promptly; anything slow should hand off to
// its own goroutine.
type Handler func(Event)

// Dispatcher decouples the gateway read loop from event handlers via a
// bounded queue. Push never blocks: when the queue is full the event is
// dropped and counted, so a stuck handler can never stall heartbeats.
type Dispatcher struct {
	queue   chan Event
	dropped atomic.Int64

	mu       sync.RWMutex
	handlers map[string]map[uuid.UUID]Handler
	subs     map[uuid.UUID]string
}

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		queue:    make(chan Event, queueSize),
		handlers: make(map[string]map[uuid.UUID]Handler),
		subs:     make(map[uuid.UUID]string),
	}
}

// Subscribe registers a handler for eventType (or Wildcard) and returns
// a token for Unsubscribe.
func (d *Dispatcher) Subscribe(eventType string, h Handler) uuid.UUID {
	id := uuid.New()

	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.handlers[eventType]
	if !ok {
		m = make(map[uuid.UUID]Handler)
		d.handlers[eventType] = m
	}
	m[id] = h
	d.subs[id] = eventType
	return id
}

// Unsubscribe removes the handler registered under id. Unknown tokens
// are a no-op.
func (d *Dispatcher) Unsubscribe(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	eventType, ok := d.subs[id]
	if !ok {
		return
	}
	delete(d.subs, id)
	if m, ok := d.handlers[eventType]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(d.handlers, eventType)
		}
	}
}

// Push queues an event for delivery. Returns false if the queue was
// full and the event was dropped.
func (d *Dispatcher) Push(ev Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		n := d.dropped.Add(1)
		log.Printf("dispatch: queue full, dropping %s (total dropped: %d)", ev.Type, n)
		return false
	}
}

// Run consumes the queue until ctx is cancelled, delivering events in
// the order they were pushed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.mu.RLock()
	hs := make([]Handler, 0, len(d.handlers[ev.Type])+len(d.handlers[Wildcard]))
	for _, h := range d.handlers[ev.Type] {
		hs = append(hs, h)
	}
	for _, h := range d.handlers[Wildcard] {
		hs = append(hs, h)
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// Dropped reports how many events have been discarded due to a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Pending reports the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

package lifecycle

import (
	"sync"

	"github.com/inklay/inklay/lib/eventloop"
	"github.com/inklay/inklay/lib/geom"
)

// Event names delivered by the host environment.
const (
	EventPointerDown = "pointerdown"
	EventPointerMove = "pointermove"
	EventPointerUp   = "pointerup"
	EventTouchStart  = "touchstart"
	EventTouchMove   = "touchmove"
	EventTouchEnd    = "touchend"
	EventResize      = "resize"
	EventUnload      = "unload"
)

// Event is one input occurrence. Point is set for pointer and touch events,
// Viewport for resize events.
type Event struct {
	Type     string
	Point    geom.Point
	Viewport geom.Viewport
}

// Handler consumes one event. Handlers always run as tasks on the host event
// loop.
type Handler func(Event)

// EventTarget is anything listeners can be attached to. The returned id
// removes exactly the listener it was issued for.
type EventTarget interface {
	AddEventListener(event string, h Handler) uint64
	RemoveEventListener(event string, id uint64)
}

// Dispatcher is an EventTarget that fans events out to registered handlers
// by posting each invocation onto the loop. It stands in for a DOM element
// or window object.
type Dispatcher struct {
	loop *eventloop.Loop

	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func NewDispatcher(loop *eventloop.Loop) *Dispatcher {
	return &Dispatcher{
		loop:     loop,
		handlers: make(map[string]map[uint64]Handler),
	}
}

func (d *Dispatcher) AddEventListener(event string, h Handler) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	if d.handlers[event] == nil {
		d.handlers[event] = make(map[uint64]Handler)
	}
	d.handlers[event][id] = h
	return id
}

func (d *Dispatcher) RemoveEventListener(event string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers[event], id)
	if len(d.handlers[event]) == 0 {
		delete(d.handlers, event)
	}
}

// Dispatch posts every handler registered for ev.Type onto the loop. Safe to
// call from any goroutine.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	hs := make([]Handler, 0, len(d.handlers[ev.Type]))
	for _, h := range d.handlers[ev.Type] {
		hs = append(hs, h)
	}
	d.mu.Unlock()

	for _, h := range hs {
		h := h
		d.loop.Post(func() { h(ev) })
	}
}

// ListenerCount returns the total number of registered handlers across all
// events.
func (d *Dispatcher) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, hs := range d.handlers {
		n += len(hs)
	}
	return n
}

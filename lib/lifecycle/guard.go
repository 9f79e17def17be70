// Package lifecycle assembles an overlay session and guarantees its
// teardown. The guard owns the wiring between overlay, sync client and input
// targets, keeps a registry of every listener it attached, and undoes all of
// it exactly once no matter which path (unload, terminal connection failure,
// explicit teardown) triggers the end of the session.
package lifecycle

import (
	"log/slog"

	"github.com/inklay/inklay/lib/canvas"
	"github.com/inklay/inklay/lib/eventloop"
	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/inksync"
)

// Registration records one attached listener so teardown can detach it.
type Registration struct {
	Target EventTarget
	Event  string
	ID     uint64
}

// Guard runs the session lifecycle. All mutable state lives on the loop;
// Initialize and Teardown are the blocking entry points for other
// goroutines.
type Guard struct {
	loop    *eventloop.Loop
	log     *slog.Logger
	overlay *canvas.Overlay
	client  *inksync.Client
	surface EventTarget
	window  EventTarget

	registrations []Registration
	initialized   bool
	tornDown      bool
}

// NewGuard wires a guard over the given pieces. surface receives pointer and
// touch input; window receives resize and unload.
func NewGuard(loop *eventloop.Loop, log *slog.Logger, overlay *canvas.Overlay, client *inksync.Client, surface, window EventTarget) *Guard {
	return &Guard{
		loop:    loop,
		log:     log,
		overlay: overlay,
		client:  client,
		surface: surface,
		window:  window,
	}
}

// Initialize creates the overlay, attaches listeners and starts the relay
// connection. Repeated calls are no-ops that report success; a session that
// was already torn down stays down. Returns false when the relay URL is
// empty or the viewport is unusable.
func (g *Guard) Initialize(relayURL, room string, v geom.Viewport) bool {
	ok := false
	g.loop.PostWait(func() { ok = g.initialize(relayURL, room, v) })
	return ok
}

func (g *Guard) initialize(relayURL, room string, v geom.Viewport) bool {
	if g.initialized {
		return true
	}
	if g.tornDown {
		g.log.Warn("overlay session already ended, refusing to reinitialize")
		return false
	}
	if relayURL == "" {
		g.log.Error("overlay init refused, no relay url")
		return false
	}
	if err := g.overlay.Create(v); err != nil {
		g.log.Error("overlay surface create failed", "err", err)
		return false
	}

	g.overlay.OnSegment(g.client.SendSegment)
	g.overlay.OnResize(g.client.NotifyResize)
	g.client.OnTerminal(g.teardown)

	g.attach(g.surface, EventPointerDown, g.handleDown)
	g.attach(g.surface, EventPointerMove, g.handleMove)
	g.attach(g.surface, EventPointerUp, g.handleUp)
	g.attach(g.surface, EventTouchStart, g.handleDown)
	g.attach(g.surface, EventTouchMove, g.handleMove)
	g.attach(g.surface, EventTouchEnd, g.handleUp)
	g.attach(g.window, EventResize, g.handleResize)
	g.attach(g.window, EventUnload, func(Event) { g.teardown() })

	g.client.Connect(relayURL, room)
	g.initialized = true
	g.log.Info("overlay session initialized", "room", room, "listeners", len(g.registrations))
	return true
}

func (g *Guard) attach(target EventTarget, event string, h Handler) {
	id := target.AddEventListener(event, h)
	g.registrations = append(g.registrations, Registration{Target: target, Event: event, ID: id})
}

func (g *Guard) handleDown(ev Event) { g.overlay.PointerDown(ev.Point) }
func (g *Guard) handleMove(ev Event) { g.overlay.PointerMove(ev.Point) }
func (g *Guard) handleUp(Event)      { g.overlay.PointerUp() }

func (g *Guard) handleResize(ev Event) {
	if err := g.overlay.Resize(ev.Viewport); err != nil {
		g.log.Warn("resize ignored", "err", err)
	}
}

// Teardown ends the session from outside the loop. Safe to call repeatedly
// and before Initialize.
func (g *Guard) Teardown() {
	g.loop.PostWait(g.teardown)
}

// teardown detaches every listener before releasing the connection, so no
// input handler can observe the closed state.
func (g *Guard) teardown() {
	if !g.initialized {
		return
	}
	g.initialized = false
	g.tornDown = true

	for _, r := range g.registrations {
		r.Target.RemoveEventListener(r.Event, r.ID)
	}
	g.registrations = nil

	g.client.Close()
	g.overlay.Detach()
	g.log.Info("overlay session torn down")
}

// Initialized reports whether a session is currently live.
func (g *Guard) Initialized() bool {
	live := false
	g.loop.PostWait(func() { live = g.initialized })
	return live
}

// ListenerCount returns how many listeners the guard currently holds.
func (g *Guard) ListenerCount() int {
	n := 0
	g.loop.PostWait(func() { n = len(g.registrations) })
	return n
}

// Package protocol defines the relay wire format: a {event, data} envelope
// carrying one of a closed set of message kinds. Payload shapes are fixed
// and validated on decode; anything unknown or malformed is a decode error
// for the caller to drop, never a crash.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inklay/inklay/lib/geom"
)

// The seven message kinds exchanged with the relay.
const (
	EventClientReady           = "client-ready"
	EventBrowserDimensions     = "browser-dimensions"
	EventGetCanvasState        = "get-canvas-state"
	EventCanvasState           = "canvas-state"
	EventCanvasStateFromServer = "canvas-state-from-server"
	EventDrawLine              = "draw-line"
	EventClear                 = "clear"
)

var (
	ErrUnknownEvent     = errors.New("unknown protocol event")
	ErrMalformedPayload = errors.New("malformed protocol payload")
)

// Envelope is the wire wrapper around every message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DrawLine is the atomic drawing unit. Both endpoints are percentage
// coordinates of the sender's viewport.
type DrawLine struct {
	PrevPoint    geom.Point `json:"prevPoint"`
	CurrentPoint geom.Point `json:"currentPoint"`
	Color        string     `json:"color"`
}

// Dimensions reports a client's current pixel viewport.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CanvasState carries an opaque encoded bitmap of the full drawing surface.
type CanvasState struct {
	Snapshot string `json:"snapshot"`
}

var knownEvents = map[string]struct{}{
	EventClientReady:           {},
	EventBrowserDimensions:     {},
	EventGetCanvasState:        {},
	EventCanvasState:           {},
	EventCanvasStateFromServer: {},
	EventDrawLine:              {},
	EventClear:                 {},
}

// Encode marshals an envelope for the given event. A nil payload produces an
// envelope without a data field (client-ready, get-canvas-state, clear).
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses raw bytes into an envelope and checks the event is one of
// the seven known kinds. Payloads are validated lazily by the typed
// accessors below.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, ok := knownEvents[env.Event]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return &env, nil
}

// wirePoint uses pointers so a missing coordinate is distinguishable from a
// zero one.
type wirePoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type wireDrawLine struct {
	PrevPoint    *wirePoint `json:"prevPoint"`
	CurrentPoint *wirePoint `json:"currentPoint"`
	Color        string     `json:"color"`
}

// DrawLine validates and extracts a draw-line payload. Both endpoints must
// be present with numeric x and y.
func (e *Envelope) DrawLine() (*DrawLine, error) {
	if e.Event != EventDrawLine {
		return nil, fmt.Errorf("%w: %s is not a draw-line", ErrMalformedPayload, e.Event)
	}
	var w wireDrawLine
	if err := json.Unmarshal(e.Data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	for _, p := range []*wirePoint{w.PrevPoint, w.CurrentPoint} {
		if p == nil || p.X == nil || p.Y == nil {
			return nil, fmt.Errorf("%w: draw-line endpoint missing", ErrMalformedPayload)
		}
	}
	return &DrawLine{
		PrevPoint:    geom.Point{X: *w.PrevPoint.X, Y: *w.PrevPoint.Y},
		CurrentPoint: geom.Point{X: *w.CurrentPoint.X, Y: *w.CurrentPoint.Y},
		Color:        w.Color,
	}, nil
}

// Dimensions validates and extracts a browser-dimensions payload.
func (e *Envelope) Dimensions() (*Dimensions, error) {
	if e.Event != EventBrowserDimensions {
		return nil, fmt.Errorf("%w: %s is not browser-dimensions", ErrMalformedPayload, e.Event)
	}
	var d Dimensions
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions", ErrMalformedPayload)
	}
	return &d, nil
}

// CanvasState validates and extracts a canvas-state or
// canvas-state-from-server payload.
func (e *Envelope) CanvasState() (*CanvasState, error) {
	if e.Event != EventCanvasState && e.Event != EventCanvasStateFromServer {
		return nil, fmt.Errorf("%w: %s is not a canvas state", ErrMalformedPayload, e.Event)
	}
	var c CanvasState
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if c.Snapshot == "" {
		return nil, fmt.Errorf("%w: empty snapshot", ErrMalformedPayload)
	}
	return &c, nil
}

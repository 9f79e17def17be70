// Package canvas owns the drawing surface: creation, local pointer capture,
// remote stroke rendering, snapshots, and resize. The overlay is not safe
// for concurrent use; all methods must be called from the host event loop.
package canvas

import (
	"errors"
	"image"
	"image/color"
	"log/slog"

	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/protocol"
)

var (
	ErrBadViewport = errors.New("viewport must have positive dimensions")
	ErrNoSurface   = errors.New("overlay surface not created")
)

const defaultStrokeWidth = 4

// Overlay is the always-on-top drawing layer. Local strokes render
// immediately (local echo) and are simultaneously handed to the sync client
// as percentage-coordinate segments; remote strokes render through the same
// brush so the two are visually indistinguishable.
type Overlay struct {
	log *slog.Logger

	surface     *image.RGBA
	viewport    geom.Viewport
	strokeWidth int
	color       string

	drawing   bool
	lastPoint geom.Point

	onSegment func(protocol.DrawLine)
	onResize  func(geom.Viewport)
}

func New(log *slog.Logger) *Overlay {
	return &Overlay{
		log:         log,
		strokeWidth: defaultStrokeWidth,
		color:       "white",
	}
}

// Create allocates the backing surface. It is idempotent: once a surface
// exists, further calls return nil without touching it, guarding against
// repeated injection.
func (o *Overlay) Create(v geom.Viewport) error {
	if o.surface != nil {
		o.log.Debug("overlay already created, ignoring", "width", v.Width, "height", v.Height)
		return nil
	}
	if !v.Valid() {
		o.log.Warn("rejecting overlay viewport", "width", v.Width, "height", v.Height)
		return ErrBadViewport
	}
	o.surface = image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	o.viewport = v
	o.log.Debug("overlay surface created", "width", v.Width, "height", v.Height)
	return nil
}

// Created reports whether a surface currently exists.
func (o *Overlay) Created() bool { return o.surface != nil }

// Viewport returns the current surface dimensions.
func (o *Overlay) Viewport() geom.Viewport { return o.viewport }

// Drawing reports whether a pointer stroke is in progress.
func (o *Overlay) Drawing() bool { return o.drawing }

// SetColor selects the brush color for subsequent local strokes.
func (o *Overlay) SetColor(c string) { o.color = c }

// OnSegment registers the sink for outbound percentage-coordinate segments.
func (o *Overlay) OnSegment(fn func(protocol.DrawLine)) { o.onSegment = fn }

// OnResize registers the sink notified after the surface is resized.
func (o *Overlay) OnResize(fn func(geom.Viewport)) { o.onResize = fn }

// PointerDown begins a stroke. Touch and mouse input share this path; the
// caller extracts the coordinate before dispatching.
func (o *Overlay) PointerDown(p geom.Point) {
	if o.surface == nil {
		return
	}
	o.lastPoint = p
	o.drawing = true
}

// PointerMove extends the stroke in progress, drawing locally and emitting
// one segment per move event.
func (o *Overlay) PointerMove(p geom.Point) {
	if !o.drawing || o.surface == nil {
		return
	}
	o.DrawLocal(o.lastPoint, p, o.color)
	o.lastPoint = p
}

// PointerUp ends the stroke.
func (o *Overlay) PointerUp() {
	o.drawing = false
}

// DrawLocal renders a stroke immediately and queues the equivalent
// percentage-coordinate segment for broadcast.
func (o *Overlay) DrawLocal(from, to geom.Point, color string) {
	if o.surface == nil {
		return
	}
	o.stroke(from, to, parseColor(color))
	if o.onSegment != nil {
		o.onSegment(protocol.DrawLine{
			PrevPoint:    geom.ToPercent(from, o.viewport),
			CurrentPoint: geom.ToPercent(to, o.viewport),
			Color:        color,
		})
	}
}

// DrawRemote converts a peer's percentage coordinates into the local frame
// and renders with the same brush as a local stroke.
func (o *Overlay) DrawRemote(seg protocol.DrawLine) {
	if o.surface == nil {
		return
	}
	from := geom.ToAbsolute(seg.PrevPoint, o.viewport)
	to := geom.ToAbsolute(seg.CurrentPoint, o.viewport)
	o.stroke(from, to, parseColor(seg.Color))
}

// Clear wipes the surface. Only ever triggered by a clear protocol message.
func (o *Overlay) Clear() {
	if o.surface == nil {
		return
	}
	for i := range o.surface.Pix {
		o.surface.Pix[i] = 0
	}
}

// Resize reallocates the backing surface for the new viewport. Existing
// content is not rescaled; replaying a snapshot is the only path that
// restores content after a resize.
func (o *Overlay) Resize(v geom.Viewport) error {
	if o.surface == nil {
		return ErrNoSurface
	}
	if !v.Valid() {
		return ErrBadViewport
	}
	o.surface = image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	o.viewport = v
	o.log.Debug("overlay surface resized", "width", v.Width, "height", v.Height)
	if o.onResize != nil {
		o.onResize(v)
	}
	return nil
}

// Snapshot captures the full surface as an opaque encoded bitmap.
func (o *Overlay) Snapshot() (string, error) {
	if o.surface == nil {
		return "", ErrNoSurface
	}
	return EncodeSnapshot(o.surface)
}

// ApplySnapshot overwrites the surface with a decoded snapshot, used for
// late-join catch-up. The bitmap is applied verbatim at the origin.
func (o *Overlay) ApplySnapshot(snapshot string) error {
	if o.surface == nil {
		return ErrNoSurface
	}
	img, err := DecodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return o.ApplyImage(img)
}

// ApplyImage overwrites the surface with an already-decoded bitmap. Callers
// that decode off the event loop use this for the final, loop-side apply.
func (o *Overlay) ApplyImage(img image.Image) error {
	if o.surface == nil {
		return ErrNoSurface
	}
	o.Clear()
	copyAtOrigin(o.surface, img)
	return nil
}

// At returns the pixel at (x, y), or the zero color when the surface is
// detached or the point is out of bounds.
func (o *Overlay) At(x, y int) color.RGBA {
	if o.surface == nil || !image.Pt(x, y).In(o.surface.Rect) {
		return color.RGBA{}
	}
	return o.surface.RGBAAt(x, y)
}

// Detach releases the surface. Any stroke in progress is abandoned.
func (o *Overlay) Detach() {
	if o.surface != nil {
		o.log.Debug("overlay surface detached")
	}
	o.surface = nil
	o.drawing = false
}

package canvas

import (
	"bytes"
	"image/color"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/protocol"
)

func testOverlay(t *testing.T, v geom.Viewport) *Overlay {
	t.Helper()
	o := New(slog.Default())
	require.NoError(t, o.Create(v))
	return o
}

func pixel(o *Overlay, x, y int) color.RGBA {
	return o.surface.RGBAAt(x, y)
}

var white = color.RGBA{255, 255, 255, 255}

func TestCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 100, Height: 100})
	first := o.surface

	require.NoError(t, o.Create(geom.Viewport{Width: 500, Height: 500}))
	assert.Same(t, first, o.surface)
	assert.Equal(t, geom.Viewport{Width: 100, Height: 100}, o.Viewport())
}

func TestCreateRejectsDegenerateViewport(t *testing.T) {
	t.Parallel()

	o := New(slog.Default())
	require.ErrorIs(t, o.Create(geom.Viewport{Width: 0, Height: 100}), ErrBadViewport)
	assert.False(t, o.Created())
}

func TestDrawLocalEchoesAndEmitsPercentSegment(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 800, Height: 600})
	var sent []protocol.DrawLine
	o.OnSegment(func(seg protocol.DrawLine) { sent = append(sent, seg) })

	o.DrawLocal(geom.Point{X: 80, Y: 60}, geom.Point{X: 160, Y: 120}, "white")

	// Local echo lands on the surface immediately.
	assert.Equal(t, white, pixel(o, 80, 60))
	assert.Equal(t, white, pixel(o, 120, 90))
	assert.Equal(t, white, pixel(o, 160, 120))

	// The wire segment carries percentages of the viewport.
	require.Len(t, sent, 1)
	assert.InDelta(t, 10, sent[0].PrevPoint.X, 1e-9)
	assert.InDelta(t, 10, sent[0].PrevPoint.Y, 1e-9)
	assert.InDelta(t, 20, sent[0].CurrentPoint.X, 1e-9)
	assert.InDelta(t, 20, sent[0].CurrentPoint.Y, 1e-9)
	assert.Equal(t, "white", sent[0].Color)
}

func TestDrawRemoteScalesToLocalViewport(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 1600, Height: 1200})
	o.DrawRemote(protocol.DrawLine{
		PrevPoint:    geom.Point{X: 10, Y: 10},
		CurrentPoint: geom.Point{X: 20, Y: 20},
		Color:        "white",
	})

	assert.Equal(t, white, pixel(o, 160, 120))
	assert.Equal(t, white, pixel(o, 320, 240))
	// Far corner untouched.
	assert.Equal(t, color.RGBA{}, pixel(o, 1500, 100))
}

func TestPointerCapture(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 200, Height: 200})
	var segments int
	o.OnSegment(func(protocol.DrawLine) { segments++ })

	// Moves before a down are ignored.
	o.PointerMove(geom.Point{X: 10, Y: 10})
	assert.Zero(t, segments)

	o.PointerDown(geom.Point{X: 10, Y: 10})
	assert.True(t, o.Drawing())
	o.PointerMove(geom.Point{X: 20, Y: 20})
	o.PointerMove(geom.Point{X: 30, Y: 30})
	o.PointerUp()
	assert.False(t, o.Drawing())

	// One segment per move event while drawing.
	assert.Equal(t, 2, segments)
	assert.Equal(t, white, pixel(o, 20, 20))

	o.PointerMove(geom.Point{X: 50, Y: 50})
	assert.Equal(t, 2, segments)
}

func TestClearWipesSurface(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 100, Height: 100})
	o.DrawLocal(geom.Point{X: 10, Y: 10}, geom.Point{X: 90, Y: 90}, "red")
	require.NotEqual(t, color.RGBA{}, pixel(o, 50, 50))

	o.Clear()
	assert.Equal(t, color.RGBA{}, pixel(o, 50, 50))
	assert.Equal(t, color.RGBA{}, pixel(o, 10, 10))
}

func TestResizeDropsContentAndNotifies(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 100, Height: 100})
	var notified []geom.Viewport
	o.OnResize(func(v geom.Viewport) { notified = append(notified, v) })

	o.DrawLocal(geom.Point{X: 10, Y: 10}, geom.Point{X: 20, Y: 20}, "white")
	require.NoError(t, o.Resize(geom.Viewport{Width: 300, Height: 150}))

	assert.Equal(t, geom.Viewport{Width: 300, Height: 150}, o.Viewport())
	assert.Equal(t, color.RGBA{}, pixel(o, 15, 15))
	require.Len(t, notified, 1)
	assert.Equal(t, geom.Viewport{Width: 300, Height: 150}, notified[0])

	require.ErrorIs(t, o.Resize(geom.Viewport{Width: 0, Height: 10}), ErrBadViewport)
}

func TestSnapshotRoundTripIsPixelIdentical(t *testing.T) {
	t.Parallel()

	a := testOverlay(t, geom.Viewport{Width: 120, Height: 80})
	a.DrawLocal(geom.Point{X: 5, Y: 5}, geom.Point{X: 100, Y: 60}, "red")
	a.DrawLocal(geom.Point{X: 20, Y: 70}, geom.Point{X: 90, Y: 10}, "#00ff88")

	snap, err := a.Snapshot()
	require.NoError(t, err)

	b := testOverlay(t, geom.Viewport{Width: 120, Height: 80})
	require.NoError(t, b.ApplySnapshot(snap))

	assert.Equal(t, a.surface.Pix, b.surface.Pix)
}

func TestApplySnapshotRejectsGarbage(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 10, Height: 10})
	require.ErrorIs(t, o.ApplySnapshot("not base64!!!"), ErrBadSnapshot)

	// A valid base64 blob that is not zstd is still rejected.
	require.ErrorIs(t, o.ApplySnapshot("aGVsbG8gd29ybGQ="), ErrBadSnapshot)
}

func TestDetachedOverlayIgnoresInput(t *testing.T) {
	t.Parallel()

	o := testOverlay(t, geom.Viewport{Width: 50, Height: 50})
	o.Detach()

	require.False(t, o.Created())
	o.PointerDown(geom.Point{X: 1, Y: 1})
	assert.False(t, o.Drawing())
	o.DrawLocal(geom.Point{X: 1, Y: 1}, geom.Point{X: 5, Y: 5}, "white")
	o.DrawRemote(protocol.DrawLine{PrevPoint: geom.Point{X: 1, Y: 1}, CurrentPoint: geom.Point{X: 2, Y: 2}})
	o.Clear()
	_, err := o.Snapshot()
	require.ErrorIs(t, err, ErrNoSurface)
	require.ErrorIs(t, o.Resize(geom.Viewport{Width: 10, Height: 10}), ErrNoSurface)
}

func TestLifecycleEventsAreLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o := New(log)

	require.ErrorIs(t, o.Create(geom.Viewport{Width: 0, Height: 100}), ErrBadViewport)
	assert.Contains(t, buf.String(), "rejecting overlay viewport")

	require.NoError(t, o.Create(geom.Viewport{Width: 100, Height: 100}))
	assert.Contains(t, buf.String(), "overlay surface created")

	require.NoError(t, o.Resize(geom.Viewport{Width: 200, Height: 200}))
	assert.Contains(t, buf.String(), "overlay surface resized")

	o.Detach()
	assert.Contains(t, buf.String(), "overlay surface detached")
}

func TestParseColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, white, parseColor("white"))
	assert.Equal(t, white, parseColor("White"))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, parseColor("red"))
	assert.Equal(t, color.RGBA{0, 255, 136, 255}, parseColor("#00ff88"))
	// Unknown colors fall back to white rather than vanishing.
	assert.Equal(t, white, parseColor("chartreuse-ish"))
	assert.Equal(t, white, parseColor("#zzz"))
}

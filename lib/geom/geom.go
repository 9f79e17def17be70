// Package geom converts between absolute pixel coordinates and
// viewport-independent percentage coordinates. Every point that crosses the
// wire is a percentage of the sender's viewport so peers with different
// window sizes render strokes at the same relative position.
package geom

// Point is a 2D coordinate. Whether X and Y are pixels or percentages is
// decided by the caller; the two must never be mixed in one value.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the pixel size of a drawing surface.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the viewport has positive dimensions. Conversions on
// a degenerate viewport are undefined and callers must check first.
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0
}

// ToPercent converts an absolute pixel point into [0,100] percentages of the
// viewport.
func ToPercent(p Point, v Viewport) Point {
	return Point{
		X: p.X / float64(v.Width) * 100,
		Y: p.Y / float64(v.Height) * 100,
	}
}

// ToAbsolute is the inverse of ToPercent for the same viewport.
func ToAbsolute(p Point, v Viewport) Point {
	return Point{
		X: p.X / 100 * float64(v.Width),
		Y: p.Y / 100 * float64(v.Height),
	}
}

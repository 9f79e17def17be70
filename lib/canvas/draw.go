package canvas

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/inklay/inklay/lib/geom"
)

var namedColors = map[string]color.RGBA{
	"white":   {255, 255, 255, 255},
	"black":   {0, 0, 0, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"cyan":    {0, 255, 255, 255},
	"magenta": {255, 0, 255, 255},
	"orange":  {255, 165, 0, 255},
	"purple":  {128, 0, 128, 255},
}

// parseColor resolves a wire color string: a named color or #rrggbb hex.
// Unrecognized values fall back to white so a stroke is never silently
// invisible.
func parseColor(s string) color.RGBA {
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c
	}
	if len(s) == 7 && s[0] == '#' {
		if v, err := strconv.ParseUint(s[1:], 16, 32); err == nil {
			return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
		}
	}
	return namedColors["white"]
}

// stroke paints a line by stamping a round brush along the segment, with the
// same round marker at both endpoints.
func (o *Overlay) stroke(from, to geom.Point, col color.RGBA) {
	radius := float64(o.strokeWidth) / 2
	dx, dy := to.X-from.X, to.Y-from.Y
	dist := math.Hypot(dx, dy)

	steps := int(dist) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		o.stamp(from.X+dx*t, from.Y+dy*t, radius, col)
	}
}

// stamp fills a disc centered at (cx, cy).
func (o *Overlay) stamp(cx, cy, radius float64, col color.RGBA) {
	minX := int(math.Floor(cx - radius))
	maxX := int(math.Ceil(cx + radius))
	minY := int(math.Floor(cy - radius))
	maxY := int(math.Ceil(cy + radius))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if !image.Pt(x, y).In(o.surface.Rect) {
				continue
			}
			fx, fy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if fx*fx+fy*fy <= radius*radius {
				o.surface.SetRGBA(x, y, col)
			}
		}
	}
}

// copyAtOrigin draws src onto dst's top-left corner, cropping whatever does
// not fit.
func copyAtOrigin(dst *image.RGBA, src image.Image) {
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dx, dy := x-b.Min.X, y-b.Min.Y
			if !image.Pt(dx, dy).In(dst.Rect) {
				continue
			}
			r, g, bl, a := src.At(x, y).RGBA()
			dst.SetRGBA(dx, dy, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8), uint8(a >> 8)})
		}
	}
}

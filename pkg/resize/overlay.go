package resize

import (
	"image"
	"image/color"
)

// drawPlayOverlay composites a centered "play" badge onto dst: a dark
// translucent disc with a white triangle, sized relative to the frame so it
// reads at thumbnail scale. Used when a multi-frame GIF is reduced to its
// first frame.
func drawPlayOverlay(dst *image.RGBA) {
	b := dst.Bounds()
	cx := float64(b.Min.X+b.Max.X) / 2
	cy := float64(b.Min.Y+b.Max.Y) / 2

	r := float64(min(b.Dx(), b.Dy())) * 0.2
	if r < 4 {
		r = 4
	}

	disc := color.RGBA{R: 0, G: 0, B: 0, A: 0xA0}
	tri := color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xE0}

	// Triangle vertices: pointing right, inscribed in the disc.
	x1, y1 := cx-r*0.4, cy-r*0.55
	x2, y2 := cx-r*0.4, cy+r*0.55
	x3, y3 := cx+r*0.65, cy

	for y := int(cy - r); y <= int(cy+r); y++ {
		for x := int(cx - r); x <= int(cx+r); x++ {
			if !(image.Point{X: x, Y: y}).In(b) {
				continue
			}
			fx, fy := float64(x), float64(y)
			dx, dy := fx-cx, fy-cy
			if dx*dx+dy*dy > r*r {
				continue
			}
			if inTriangle(fx, fy, x1, y1, x2, y2, x3, y3) {
				blend(dst, x, y, tri)
			} else {
				blend(dst, x, y, disc)
			}
		}
	}
}

// inTriangle tests point containment via signed edge cross products.
func inTriangle(px, py, x1, y1, x2, y2, x3, y3 float64) bool {
	d1 := sign(px, py, x1, y1, x2, y2)
	d2 := sign(px, py, x2, y2, x3, y3)
	d3 := sign(px, py, x3, y3, x1, y1)

	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func sign(px, py, ax, ay, bx, by float64) float64 {
	return (px-bx)*(ay-by) - (ax-bx)*(py-by)
}

// blend alpha-composites c over the pixel at (x, y).
func blend(dst *image.RGBA, x, y int, c color.RGBA) {
	old := dst.RGBAAt(x, y)
	a := uint32(c.A)
	ia := 255 - a
	dst.SetRGBA(x, y, color.RGBA{
		R: uint8((uint32(c.R)*a + uint32(old.R)*ia) / 255),
		G: uint8((uint32(c.G)*a + uint32(old.G)*ia) / 255),
		B: uint8((uint32(c.B)*a + uint32(old.B)*ia) / 255),
		A: 0xFF,
	})
}

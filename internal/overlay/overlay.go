// Package overlay draws marker annotations (polyline, id label, heading
// arrow, origin box) onto full and arena-cropped frames and JPEG-encodes
// the result. The crop variant warps the raw frame first and then draws
// in crop space, pushing marker corners through the same transform.
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/umdenes100/visionarena/internal/model"
)

var (
	green = color.RGBA{0, 200, 0, 255}
	red   = color.RGBA{220, 0, 0, 255}
)

// Render draws the full-frame overlay (polyline, id, heading arrow, origin
// box) for every marker and JPEG-encodes it at quality.
func Render(src image.Image, markers map[int]model.Marker, quality int) ([]byte, error) {
	rgba := toRGBA(src)
	drawMarkers(rgba, markers, func(p model.Point2) model.Point2 { return p })
	return encode(rgba, quality)
}

// RenderCrop warps src through imgToCrop into an outW x outH canvas, then
// draws overlays directly in crop space after pushing marker corners
// through the same transform.
func RenderCrop(src image.Image, imgToCrop model.Transform, markers map[int]model.Marker, outW, outH, quality int) ([]byte, error) {
	warped, err := warp(src, imgToCrop, outW, outH)
	if err != nil {
		return nil, err
	}
	drawMarkers(warped, markers, imgToCrop.Apply)
	return encode(warped, quality)
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, src, b.Min, draw.Src)
	return rgba
}

// warp resamples src into an outW x outH canvas via the inverse of
// imgToCrop, i.e. for every destination pixel it asks "which source pixel
// maps here".
func warp(src image.Image, imgToCrop model.Transform, outW, outH int) (*image.RGBA, error) {
	inv, err := imgToCrop.Invert()
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			p := inv.Apply(model.Point2{X: float64(x), Y: float64(y)})
			sx, sy := int(p.X), int(p.Y)
			if sx < bounds.Min.X || sx >= bounds.Max.X || sy < bounds.Min.Y || sy >= bounds.Max.Y {
				out.Set(x, y, color.Black)
				continue
			}
			out.Set(x, y, src.At(sx, sy))
		}
	}
	return out, nil
}

// drawMarkers draws every marker's polyline/label/arrow/origin box after
// mapping its corners through project (identity for the full-frame
// overlay, imgToCrop for the crop overlay).
func drawMarkers(img *image.RGBA, markers map[int]model.Marker, project func(model.Point2) model.Point2) {
	for id, mk := range markers {
		var pts [4]model.Point2
		for i, c := range mk.Corners {
			pts[i] = project(c)
		}
		drawPolyline(img, pts, green, 2)

		center := project(mk.Center)
		drawLabel(img, int(center.X), int(center.Y), id, green)

		// BL -> TL heading arrow.
		drawLine(img, pts[3], pts[0], red, 2)

		// Hollow origin reference box at BL.
		drawOriginBox(img, pts[3], 4, red)
	}
}

func drawPolyline(img *image.RGBA, pts [4]model.Point2, c color.RGBA, thickness int) {
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		drawLine(img, pts[i], pts[j], c, thickness)
	}
}

func drawLine(img *image.RGBA, a, b model.Point2, c color.RGBA, thickness int) {
	x0, y0, x1, y1 := int(a.X), int(a.Y), int(b.X), int(b.Y)
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	err := dx + dy
	x, y := x0, y0
	for {
		setThick(img, x, y, c, thickness)
		if x == x1 && y == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func setThick(img *image.RGBA, x, y int, c color.RGBA, thickness int) {
	half := thickness / 2
	b := img.Bounds()
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			px, py := x+dx, y+dy
			if px >= b.Min.X && px < b.Max.X && py >= b.Min.Y && py < b.Max.Y {
				img.Set(px, py, c)
			}
		}
	}
}

func drawOriginBox(img *image.RGBA, p model.Point2, halfSize int, c color.RGBA) {
	x, y := int(p.X), int(p.Y)
	b := img.Bounds()
	for dx := -halfSize; dx <= halfSize; dx++ {
		for _, dy := range [2]int{-halfSize, halfSize} {
			plot(img, b, x+dx, y+dy, c)
		}
	}
	for dy := -halfSize; dy <= halfSize; dy++ {
		for _, dx := range [2]int{-halfSize, halfSize} {
			plot(img, b, x+dx, y+dy, c)
		}
	}
}

func plot(img *image.RGBA, b image.Rectangle, x, y int, c color.RGBA) {
	if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
		img.Set(x, y, c)
	}
}

func drawLabel(img *image.RGBA, x, y, id int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 6), Y: fixed.I(y - 6)},
	}
	d.DrawString(itoa(id))
}

func itoa(id int) string {
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	var buf [8]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	s := string(buf[i:])
	if neg {
		return "-" + s
	}
	return s
}

func encode(img *image.RGBA, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/umdenes100/visionarena/internal/model"
)

func blankImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestItoa(t *testing.T) {
	cases := map[int]string{0: "0", 7: "7", 42: "42", -3: "-3", 999: "999"}
	for in, want := range cases {
		if got := itoa(in); got != want {
			t.Errorf("itoa(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderProducesValidJPEG(t *testing.T) {
	img := blankImage(100, 100)
	markers := map[int]model.Marker{
		1: {ID: 1, Corners: [4]model.Point2{{X: 10, Y: 10}, {X: 30, Y: 10}, {X: 30, Y: 30}, {X: 10, Y: 30}}, Center: model.Point2{X: 20, Y: 20}},
	}
	out, err := Render(img, markers, 80)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out) < 4 || out[0] != 0xFF || out[1] != 0xD8 {
		t.Fatal("Render() output does not start with a JPEG SOI marker")
	}
}

func TestRenderCropProducesRequestedDimensions(t *testing.T) {
	img := blankImage(200, 200)
	identity := model.Transform{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	out, err := RenderCrop(img, identity, nil, 50, 50, 80)
	if err != nil {
		t.Fatalf("RenderCrop: %v", err)
	}
	if len(out) < 4 || out[0] != 0xFF || out[1] != 0xD8 {
		t.Fatal("RenderCrop() output does not start with a JPEG SOI marker")
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding RenderCrop() output: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 50 || b.Dy() != 50 {
		t.Fatalf("RenderCrop() size = %dx%d, want 50x50", b.Dx(), b.Dy())
	}
}

func TestAbsSign(t *testing.T) {
	if abs(-5) != 5 || abs(5) != 5 || abs(0) != 0 {
		t.Fatal("abs() incorrect")
	}
	if sign(-5) != -1 || sign(5) != 1 || sign(0) != 0 {
		t.Fatal("sign() incorrect")
	}
}

func TestEncodeRoundTripsLength(t *testing.T) {
	img := blankImage(16, 16)
	out, err := encode(img, 90)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(out, []byte{0xFF, 0xD8}) {
		t.Fatal("encode() output missing JPEG SOI marker")
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding encode() output: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Fatalf("decoded size = %dx%d, want 16x16", b.Dx(), b.Dy())
	}
}

package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestDecode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(2, 1, color.RGBA{R: 200, G: 10, B: 5, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	f, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Width != 3 || f.Height != 2 {
		t.Fatalf("size: got %dx%d", f.Width, f.Height)
	}
	if got := f.At(2, 1); got != (BGR{B: 5, G: 10, R: 200}) {
		t.Errorf("pixel: got %+v", got)
	}

	if _, err := Decode([]byte("garbage")); err == nil {
		t.Error("expected error for garbage input")
	}
}

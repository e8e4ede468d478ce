// Package vision provides color-blob localization on BGR camera frames.
//
// A Frame is a packed 8-bit BGR pixel buffer. Detect thresholds it against a
// ColorRange and summarizes the matching pixels by count and centroid using
// image moments, in a single pass over the frame.
package vision

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"
)

// BytesPerPixel is the size of one BGR8 sample.
const BytesPerPixel = 3

// BGR is one pixel sample in blue, green, red order.
type BGR struct {
	B uint8 `json:"b"`
	G uint8 `json:"g"`
	R uint8 `json:"r"`
}

// Frame is a packed BGR8 image. It must not be modified once handed to
// FrameIngest; detectors only ever read it.
type Frame struct {
	Width  int
	Height int
	Stride int     // Bytes per row, >= Width*3
	Pix    []uint8 // B,G,R,B,G,R,...

	Stamp time.Time // Receive time, zero if unknown
}

// NewFrame allocates a black frame with a tight stride.
func NewFrame(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		Pix:    make([]uint8, width*height*BytesPerPixel),
	}
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (f *Frame) PixOffset(x, y int) int {
	return y*f.Stride + x*BytesPerPixel
}

// At returns the pixel at (x, y). Out-of-range coordinates return black.
func (f *Frame) At(x, y int) BGR {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return BGR{}
	}
	i := f.PixOffset(x, y)
	return BGR{B: f.Pix[i], G: f.Pix[i+1], R: f.Pix[i+2]}
}

// Set writes the pixel at (x, y). Only for building frames before ingest.
func (f *Frame) Set(x, y int, px BGR) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	i := f.PixOffset(x, y)
	f.Pix[i] = px.B
	f.Pix[i+1] = px.G
	f.Pix[i+2] = px.R
}

// Validate checks the frame geometry against its buffer.
func (f *Frame) Validate() error {
	if f == nil {
		return ErrEmptyFrame
	}
	return CheckGeometry(f.Width, f.Height, f.Stride, BytesPerPixel, len(f.Pix))
}

// CheckGeometry reports whether a width x height image with bpp bytes per
// pixel and the given row stride fits in a buffer of size bytes. Header
// fields may come off the wire, so no product is formed that could overflow.
func CheckGeometry(width, height, stride, bpp, size int) error {
	if width <= 0 || height <= 0 {
		return ErrEmptyFrame
	}
	if bpp <= 0 || width > math.MaxInt/bpp {
		return fmt.Errorf("%w: width %d too large", ErrShortBuffer, width)
	}
	row := width * bpp
	if stride < row {
		return fmt.Errorf("%w: stride %d < %d", ErrShortBuffer, stride, row)
	}
	if size < row || height-1 > (size-row)/stride {
		return fmt.Errorf("%w: have %d bytes for %dx%d with stride %d",
			ErrShortBuffer, size, width, height, stride)
	}
	return nil
}

// FromImage copies any image.Image into a new BGR frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			f.Set(x, y, BGR{B: uint8(bl >> 8), G: uint8(g >> 8), R: uint8(r >> 8)})
		}
	}
	return f
}

// RGBA converts the frame for encoders that expect image.Image.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			px := f.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: px.R, G: px.G, B: px.B, A: 0xff})
		}
	}
	return img
}

package vision

import (
	"fmt"
	"image"
)

// ColorRange is an inclusive per-channel BGR window.
type ColorRange struct {
	Lower BGR `json:"lower"`
	Upper BGR `json:"upper"`
}

// Validate rejects ranges with lower > upper on any channel.
func (r ColorRange) Validate() error {
	if r.Lower.B > r.Upper.B || r.Lower.G > r.Upper.G || r.Lower.R > r.Upper.R {
		return fmt.Errorf("%w: lower=(%d,%d,%d) upper=(%d,%d,%d)", ErrInvertedRange,
			r.Lower.B, r.Lower.G, r.Lower.R, r.Upper.B, r.Upper.G, r.Upper.R)
	}
	return nil
}

// Contains reports whether every channel of px lies within the range.
func (r ColorRange) Contains(px BGR) bool {
	return px.B >= r.Lower.B && px.B <= r.Upper.B &&
		px.G >= r.Lower.G && px.G <= r.Upper.G &&
		px.R >= r.Lower.R && px.R <= r.Upper.R
}

// Point is a sub-pixel image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectionResult summarizes the matching pixels of one frame.
// Centroid is non-nil exactly when PixelCount > 0.
type DetectionResult struct {
	Centroid   *Point `json:"centroid,omitempty"`
	PixelCount int    `json:"pixel_count"`
}

// Found reports whether any pixel matched.
func (r DetectionResult) Found() bool {
	return r.Centroid != nil
}

// Mask is the per-pixel outcome of the range test, same size as its frame.
type Mask struct {
	Width  int
	Height int
	Bits   []bool // Row-major
}

// At returns the mask cell at (x, y).
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Count returns the number of set cells.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Gray renders the mask as a 0/255 image, the way thresholding tools display it.
func (m *Mask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, b := range m.Bits {
		if b {
			img.Pix[i] = 0xff
		}
	}
	return img
}

// Detect thresholds frame against rng and returns the matching pixel count and centroid.
func Detect(frame *Frame, rng ColorRange) (DetectionResult, error) {
	return detect(frame, rng, nil)
}

// DetectWithMask is Detect that also returns the binary mask.
func DetectWithMask(frame *Frame, rng ColorRange) (DetectionResult, *Mask, error) {
	if err := frame.Validate(); err != nil {
		return DetectionResult{}, nil, err
	}
	mask := &Mask{
		Width:  frame.Width,
		Height: frame.Height,
		Bits:   make([]bool, frame.Width*frame.Height),
	}
	res, err := detect(frame, rng, mask)
	if err != nil {
		return DetectionResult{}, nil, err
	}
	return res, mask, nil
}

// detect does the single traversal. The mask, when non-nil, is filled in the
// same pass as the moments.
func detect(frame *Frame, rng ColorRange, mask *Mask) (DetectionResult, error) {
	if err := frame.Validate(); err != nil {
		return DetectionResult{}, err
	}
	if err := rng.Validate(); err != nil {
		return DetectionResult{}, err
	}

	var m00, m10, m01 int64
	lo, hi := rng.Lower, rng.Upper
	for y := 0; y < frame.Height; y++ {
		row := frame.Pix[y*frame.Stride : y*frame.Stride+frame.Width*BytesPerPixel]
		for x := 0; x < frame.Width; x++ {
			b, g, r := row[x*3], row[x*3+1], row[x*3+2]
			if b < lo.B || b > hi.B || g < lo.G || g > hi.G || r < lo.R || r > hi.R {
				continue
			}
			m00++
			m10 += int64(x)
			m01 += int64(y)
			if mask != nil {
				mask.Bits[y*frame.Width+x] = true
			}
		}
	}

	if m00 == 0 {
		return DetectionResult{}, nil
	}
	return DetectionResult{
		Centroid: &Point{
			X: float64(m10) / float64(m00),
			Y: float64(m01) / float64(m00),
		},
		PixelCount: int(m00),
	}, nil
}

// Scanner is the pure-Go Detector.
type Scanner struct{}

// Detect implements the tracker's detector interface.
func (Scanner) Detect(frame *Frame, rng ColorRange) (DetectionResult, *Mask, error) {
	return DetectWithMask(frame, rng)
}

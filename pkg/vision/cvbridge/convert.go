// Package cvbridge connects vision frames and masks to OpenCV via gocv.
//
// Frames stay plain Go values everywhere else; this package is the only one
// that allocates Mats. Every Mat returned to a caller must be closed by it.
package cvbridge

import (
	"errors"
	"fmt"
	"runtime"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// ErrEmptyImage is returned when OpenCV decodes nothing.
var ErrEmptyImage = errors.New("cvbridge: empty image")

// FrameFromMat copies an 8-bit Mat into a new BGR frame. Gray, BGR and BGRA
// Mats are accepted.
func FrameFromMat(m gocv.Mat) (*vision.Frame, error) {
	if m.Empty() {
		return nil, ErrEmptyImage
	}

	src := m
	switch m.Channels() {
	case 3:
	case 1, 4:
		code := gocv.ColorGrayToBGR
		if m.Channels() == 4 {
			code = gocv.ColorBGRAToBGR
		}
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(m, &bgr, code)
		src = bgr
	default:
		return nil, fmt.Errorf("cvbridge: unsupported channel count %d", m.Channels())
	}
	if src.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("cvbridge: unsupported mat type %v", src.Type())
	}

	f := vision.NewFrame(src.Cols(), src.Rows())
	if src.IsContinuous() {
		copy(f.Pix, src.ToBytes())
		return f, nil
	}
	for y := 0; y < f.Height; y++ {
		row := src.RowRange(y, y+1)
		copy(f.Pix[y*f.Stride:], row.ToBytes())
		row.Close()
	}
	return f, nil
}

// MatFromFrame builds a CV_8UC3 Mat holding a copy of the frame pixels.
func MatFromFrame(f *vision.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	rowBytes := f.Width * vision.BytesPerPixel
	data := f.Pix[:f.Height*rowBytes]
	if f.Stride != rowBytes {
		data = make([]byte, f.Height*rowBytes)
		for y := 0; y < f.Height; y++ {
			copy(data[y*rowBytes:(y+1)*rowBytes], f.Pix[y*f.Stride:])
		}
	}
	return ownedMat(f.Height, f.Width, gocv.MatTypeCV8UC3, data)
}

// MatFromMask builds a CV_8UC1 Mat with 255 for set cells and 0 elsewhere.
func MatFromMask(m *vision.Mask) (gocv.Mat, error) {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return gocv.Mat{}, ErrEmptyImage
	}
	return ownedMat(m.Height, m.Width, gocv.MatTypeCV8UC1, m.Gray().Pix)
}

// ownedMat wraps data in a Mat and clones it so the result does not alias Go
// memory.
func ownedMat(rows, cols int, mt gocv.MatType, data []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, mt, data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("cvbridge: new mat: %w", err)
	}
	defer view.Close()
	out := view.Clone()
	runtime.KeepAlive(data)
	return out, nil
}

// MaskFromMat reads a single channel 8-bit Mat; any non-zero cell is set.
func MaskFromMat(m gocv.Mat) (*vision.Mask, error) {
	if m.Empty() {
		return nil, ErrEmptyImage
	}
	if m.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("cvbridge: mask must be CV_8UC1, got %v", m.Type())
	}
	mask := &vision.Mask{Width: m.Cols(), Height: m.Rows(), Bits: make([]bool, m.Cols()*m.Rows())}
	if m.IsContinuous() {
		for i, v := range m.ToBytes() {
			mask.Bits[i] = v != 0
		}
		return mask, nil
	}
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			mask.Bits[y*mask.Width+x] = m.GetUCharAt(y, x) != 0
		}
	}
	return mask, nil
}

// DecodeImage decodes JPEG, PNG or any other format OpenCV reads into a frame.
func DecodeImage(data []byte) (*vision.Frame, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	return FrameFromMat(img)
}

// EncodeJPEG encodes a frame as JPEG.
func EncodeJPEG(f *vision.Frame) ([]byte, error) {
	m, err := MatFromFrame(f)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return encode(m)
}

// EncodeMaskJPEG encodes a mask as a grayscale JPEG.
func EncodeMaskJPEG(mask *vision.Mask) ([]byte, error) {
	m, err := MatFromMask(mask)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return encode(m)
}

func encode(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// The native buffer is freed on Close, so copy out.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// LoadImage reads an image file into a frame.
func LoadImage(path string) (*vision.Frame, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("read %s: %w", path, ErrEmptyImage)
	}
	return FrameFromMat(img)
}

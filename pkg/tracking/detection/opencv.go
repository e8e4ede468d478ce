package detection

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-balltrack/pkg/vision"
	"github.com/teslashibe/go-balltrack/pkg/vision/cvbridge"
)

// OpenCVDetector thresholds with cv::inRange and takes the centroid from
// cv::moments on the binary mask.
type OpenCVDetector struct {
	mu sync.Mutex // Protects the scratch Mats
}

// NewOpenCV creates an OpenCV-backed detector.
func NewOpenCV() *OpenCVDetector {
	return &OpenCVDetector{}
}

// Detect finds the pixels of frame inside rng.
func (d *OpenCVDetector) Detect(frame *vision.Frame, rng vision.ColorRange) (vision.DetectionResult, *vision.Mask, error) {
	if err := frame.Validate(); err != nil {
		return vision.DetectionResult{}, nil, err
	}
	if err := rng.Validate(); err != nil {
		return vision.DetectionResult{}, nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := cvbridge.MatFromFrame(frame)
	if err != nil {
		return vision.DetectionResult{}, nil, err
	}
	defer img.Close()

	bin := gocv.NewMat()
	defer bin.Close()

	lower := gocv.NewScalar(float64(rng.Lower.B), float64(rng.Lower.G), float64(rng.Lower.R), 0)
	upper := gocv.NewScalar(float64(rng.Upper.B), float64(rng.Upper.G), float64(rng.Upper.R), 0)
	gocv.InRangeWithScalar(img, lower, upper, &bin)

	mask, err := cvbridge.MaskFromMat(bin)
	if err != nil {
		return vision.DetectionResult{}, nil, err
	}

	count := gocv.CountNonZero(bin)
	if count == 0 {
		return vision.DetectionResult{}, mask, nil
	}

	m := gocv.Moments(bin, true)
	return vision.DetectionResult{
		Centroid: &vision.Point{
			X: m["m10"] / m["m00"],
			Y: m["m01"] / m["m00"],
		},
		PixelCount: count,
	}, mask, nil
}

// Close releases the detector resources
func (d *OpenCVDetector) Close() error {
	return nil
}

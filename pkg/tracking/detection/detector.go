// Package detection provides the color blob detection backends.
package detection

import (
	"fmt"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Backend names accepted by New.
const (
	BackendScan   = "scan"
	BackendOpenCV = "opencv"
)

// Detector is the interface for blob detection backends
type Detector interface {
	// Detect thresholds the frame and returns the result with its mask
	Detect(frame *vision.Frame, rng vision.ColorRange) (vision.DetectionResult, *vision.Mask, error)

	// Close releases resources
	Close() error
}

// New returns the detector for backend. An empty name selects the pure-Go scan.
func New(backend string) (Detector, error) {
	switch backend {
	case "", BackendScan:
		return ScanDetector{}, nil
	case BackendOpenCV:
		return NewOpenCV(), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", backend)
	}
}

// ScanDetector runs vision.DetectWithMask in a single pass over the frame.
type ScanDetector struct {
	vision.Scanner
}

// Close is a no-op.
func (ScanDetector) Close() error { return nil }

// Name returns the backend name of d, for logs and the dashboard.
func Name(d Detector) string {
	switch d.(type) {
	case ScanDetector, *ScanDetector:
		return BackendScan
	case *OpenCVDetector:
		return BackendOpenCV
	default:
		return fmt.Sprintf("%T", d)
	}
}

// Ensure implementations satisfy the interface
var (
	_ Detector = ScanDetector{}
	_ Detector = (*OpenCVDetector)(nil)
)

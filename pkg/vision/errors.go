package vision

import "errors"

// Sentinel errors for precondition violations. Callers match with errors.Is.
var (
	// ErrEmptyFrame means the frame has zero width or height.
	ErrEmptyFrame = errors.New("vision: empty frame")

	// ErrShortBuffer means the pixel buffer cannot hold width x height at the declared stride.
	ErrShortBuffer = errors.New("vision: pixel buffer too short")

	// ErrInvertedRange means a lower bound exceeds its upper bound on some channel.
	ErrInvertedRange = errors.New("vision: inverted color range")
)

package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // registered for Decode
	_ "image/png"
)

// DecodeFunc decodes an encoded image (JPEG, PNG, ...) into a frame.
type DecodeFunc func(data []byte) (*Frame, error)

// Decode decodes JPEG or PNG data with the standard library decoders.
// Transports fall back to it when no OpenCV decoder is configured.
func Decode(data []byte) (*Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), nil
}

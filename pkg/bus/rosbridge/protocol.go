// Package rosbridge talks to a ROS graph through the rosbridge v2 JSON
// protocol over a websocket: camera images in, geometry_msgs/Twist out.
package rosbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// ROS message types.
const (
	TypeImage           = "sensor_msgs/Image"
	TypeCompressedImage = "sensor_msgs/CompressedImage"
	TypeTwist           = "geometry_msgs/Twist"
)

// ErrUnsupportedEncoding is returned for image encodings we cannot convert.
var ErrUnsupportedEncoding = errors.New("rosbridge: unsupported image encoding")

// Operation is the envelope of every rosbridge message.
type Operation struct {
	Op    string          `json:"op"`
	ID    string          `json:"id,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Type  string          `json:"type,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`

	// subscribe only
	ThrottleRate int `json:"throttle_rate,omitempty"`
	QueueLength  int `json:"queue_length,omitempty"`

	// status only; the text arrives in Msg as a JSON string
	Level string `json:"level,omitempty"`
}

// Header is std_msgs/Header.
type Header struct {
	Seq   uint32 `json:"seq"`
	Stamp struct {
		Secs  int64 `json:"secs"`
		Nsecs int64 `json:"nsecs"`
	} `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Image is sensor_msgs/Image. rosbridge sends uint8[] as base64, which
// encoding/json decodes into Data directly.
type Image struct {
	Header      Header `json:"header"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigEndian uint8  `json:"is_bigendian"`
	Step        int    `json:"step"`
	Data        []byte `json:"data"`
}

// CompressedImage is sensor_msgs/CompressedImage.
type CompressedImage struct {
	Header Header `json:"header"`
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// bytesPerPixel for each supported raw encoding.
var bytesPerPixel = map[string]int{
	"bgr8":  3,
	"rgb8":  3,
	"bgra8": 4,
	"rgba8": 4,
	"mono8": 1,
	"8UC3":  3,
	"8UC1":  1,
}

// ToFrame converts a raw image message into a BGR frame. bgr8 data is used
// in place; other encodings are converted into a new buffer.
func (m *Image) ToFrame() (*vision.Frame, error) {
	bpp, ok := bytesPerPixel[m.Encoding]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, m.Encoding)
	}
	if err := vision.CheckGeometry(m.Width, m.Height, m.Step, bpp, len(m.Data)); err != nil {
		return nil, fmt.Errorf("%s image: %w", m.Encoding, err)
	}

	if m.Encoding == "bgr8" || m.Encoding == "8UC3" {
		return &vision.Frame{Width: m.Width, Height: m.Height, Stride: m.Step, Pix: m.Data}, nil
	}

	f := vision.NewFrame(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*m.Step:]
		for x := 0; x < m.Width; x++ {
			p := row[x*bpp:]
			var px vision.BGR
			switch m.Encoding {
			case "rgb8", "rgba8":
				px = vision.BGR{B: p[2], G: p[1], R: p[0]}
			case "bgra8":
				px = vision.BGR{B: p[0], G: p[1], R: p[2]}
			default: // mono8, 8UC1
				px = vision.BGR{B: p[0], G: p[0], R: p[0]}
			}
			f.Set(x, y, px)
		}
	}
	return f, nil
}

// Time converts the header stamp. An unset stamp gives the zero time, which
// ingest replaces with the arrival time.
func (h Header) Time() time.Time {
	if h.Stamp.Secs == 0 && h.Stamp.Nsecs == 0 {
		return time.Time{}
	}
	return time.Unix(h.Stamp.Secs, h.Stamp.Nsecs)
}

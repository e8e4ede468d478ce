package rosbridge

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

func TestImage_ToFrame(t *testing.T) {
	want := vision.BGR{B: 10, G: 20, R: 30}

	tests := []struct {
		name     string
		encoding string
		step     int
		pixel    []byte // pixel (1,0) in the message's encoding
		want     vision.BGR
	}{
		{"bgr8", "bgr8", 6, []byte{10, 20, 30}, want},
		{"bgr8 padded", "bgr8", 8, []byte{10, 20, 30}, want},
		{"rgb8", "rgb8", 6, []byte{30, 20, 10}, want},
		{"bgra8", "bgra8", 8, []byte{10, 20, 30, 255}, want},
		{"rgba8", "rgba8", 8, []byte{30, 20, 10, 255}, want},
		{"mono8", "mono8", 2, []byte{77}, vision.BGR{B: 77, G: 77, R: 77}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bpp := len(tc.pixel)
			data := make([]byte, tc.step*2)
			copy(data[bpp:], tc.pixel)

			msg := Image{Width: 2, Height: 2, Encoding: tc.encoding, Step: tc.step, Data: data}
			f, err := msg.ToFrame()
			require.NoError(t, err)
			require.NoError(t, f.Validate())
			assert.Equal(t, 2, f.Width)
			assert.Equal(t, 2, f.Height)
			assert.Equal(t, tc.want, f.At(1, 0))
			assert.Equal(t, vision.BGR{}, f.At(0, 1))
		})
	}
}

func TestImage_ToFrameErrors(t *testing.T) {
	_, err := (&Image{Width: 2, Height: 2, Encoding: "bayer_rggb8", Step: 2, Data: make([]byte, 4)}).ToFrame()
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = (&Image{Width: 0, Height: 2, Encoding: "bgr8"}).ToFrame()
	assert.ErrorIs(t, err, vision.ErrEmptyFrame)

	_, err = (&Image{Width: 2, Height: 2, Encoding: "bgr8", Step: 6, Data: make([]byte, 8)}).ToFrame()
	assert.ErrorIs(t, err, vision.ErrShortBuffer)

	_, err = (&Image{Width: 2, Height: 2, Encoding: "bgr8", Step: 4, Data: make([]byte, 12)}).ToFrame()
	assert.True(t, errors.Is(err, vision.ErrShortBuffer))
}

func TestImage_ToFrameRejectsOverflowingHeader(t *testing.T) {
	// Header fields whose size arithmetic wraps around must not reach the detector.
	tests := []struct {
		name string
		msg  Image
	}{
		{"tall bgr8", Image{Width: 1, Height: math.MaxInt / 2, Encoding: "bgr8", Step: 1 << 30, Data: make([]byte, 3)}},
		{"tall mono8", Image{Width: 1, Height: math.MaxInt / 2, Encoding: "mono8", Step: 1 << 30, Data: make([]byte, 1)}},
		{"wide rgba8", Image{Width: math.MaxInt/4 + 1, Height: 1, Encoding: "rgba8", Step: math.MaxInt, Data: make([]byte, 4)}},
		{"huge step", Image{Width: 1, Height: 2, Encoding: "bgr8", Step: math.MaxInt, Data: make([]byte, 6)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := tc.msg.ToFrame()
			require.ErrorIs(t, err, vision.ErrShortBuffer)
			assert.Nil(t, f)
		})
	}
}

func TestImage_UnmarshalBase64(t *testing.T) {
	raw := `{"header":{"seq":3,"stamp":{"secs":100,"nsecs":5},"frame_id":"camera"},
		"height":1,"width":1,"encoding":"bgr8","is_bigendian":0,"step":3,"data":"AQID"}`

	var msg Image
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, []byte{1, 2, 3}, msg.Data)
	assert.Equal(t, time.Unix(100, 5), msg.Header.Time())

	f, err := msg.ToFrame()
	require.NoError(t, err)
	assert.Equal(t, vision.BGR{B: 1, G: 2, R: 3}, f.At(0, 0))
}

func TestHeader_TimeUnset(t *testing.T) {
	assert.True(t, Header{}.Time().IsZero())
}

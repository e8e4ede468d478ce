package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

func TestEncodeCommand(t *testing.T) {
	cmd := motion.Command{Linear: motion.Vector3{X: 1}, Angular: motion.Vector3{Z: -0.35}}

	payload, err := EncodeCommand(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"linear":{"x":1,"y":0,"z":0},"angular":{"x":0,"y":0,"z":-0.35}}`, string(payload))

	var back motion.Command
	require.NoError(t, json.Unmarshal(payload, &back))
	assert.Equal(t, cmd, back)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{Broker: "tcp://localhost:1883"}, nil)
	assert.True(t, strings.HasPrefix(c.cfg.ClientID, "balltrack-"))
	assert.NotNil(t, c.cfg.Decode)

	other := New(Config{Broker: "tcp://localhost:1883"}, nil)
	assert.NotEqual(t, c.cfg.ClientID, other.cfg.ClientID)
}

func TestPublishCommand_NotConnected(t *testing.T) {
	c := New(Config{CommandTopic: "balltrack/cmd_vel"}, nil)
	err := c.PublishCommand(context.Background(), motion.Zero())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, uint64(1), c.Stats().Errors)
	assert.False(t, c.Stats().Connected)
}

func TestRun_NotConnected(t *testing.T) {
	c := New(Config{FrameTopic: "balltrack/camera/jpeg"}, nil)
	assert.ErrorIs(t, c.Run(context.Background(), func(*vision.Frame) {}), ErrNotConnected)
}

func TestHandleFrame(t *testing.T) {
	decode := func(data []byte) (*vision.Frame, error) {
		if len(data) == 0 {
			return nil, errors.New("empty payload")
		}
		f := vision.NewFrame(1, 1)
		f.Set(0, 0, vision.BGR{R: data[0]})
		return f, nil
	}
	c := New(Config{FrameTopic: "frames", Decode: decode}, nil)

	// No sink yet: counted but not delivered.
	c.handleFrame([]byte{1})

	var got []*vision.Frame
	c.sink = func(f *vision.Frame) { got = append(got, f) }
	c.handleFrame([]byte{200})
	c.handleFrame(nil)

	require.Len(t, got, 1)
	assert.Equal(t, uint8(200), got[0].At(0, 0).R)

	st := c.Stats()
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, uint64(1), st.Dropped)
}

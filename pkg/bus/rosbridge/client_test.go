package rosbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// fakeBridge is a minimal rosbridge server that records every operation and
// lets the test push messages to the client.
type fakeBridge struct {
	srv  *httptest.Server
	ops  chan Operation
	conn chan *websocket.Conn
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		ops:  make(chan Operation, 64),
		conn: make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.conn <- ws
		for {
			var op Operation
			if err := ws.ReadJSON(&op); err != nil {
				return
			}
			fb.ops <- op
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBridge) next(t *testing.T) Operation {
	t.Helper()
	select {
	case op := <-fb.ops:
		return op
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for operation")
		return Operation{}
	}
}

// logRecorder keeps the message and attributes of every record.
type logRecorder struct {
	mu      sync.Mutex
	records []map[string]string
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler      { return r }
func (r *logRecorder) WithGroup(string) slog.Handler           { return r }

func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	m := map[string]string{"msg": rec.Message}
	rec.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.String()
		return true
	})
	r.mu.Lock()
	r.records = append(r.records, m)
	r.mu.Unlock()
	return nil
}

func (r *logRecorder) find(msg string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.records {
		if m["msg"] == msg {
			return m
		}
	}
	return nil
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		ImageTopic:   "/camera/image_raw",
		ImageType:    TypeImage,
		CommandTopic: "/cmd_vel",
	}
}

func TestDial_AdvertisesAndSubscribes(t *testing.T) {
	fb := newFakeBridge(t)
	c, err := Dial(context.Background(), testConfig(fb.url()), nil)
	require.NoError(t, err)
	defer c.Close()

	adv := fb.next(t)
	assert.Equal(t, "advertise", adv.Op)
	assert.Equal(t, "/cmd_vel", adv.Topic)
	assert.Equal(t, TypeTwist, adv.Type)
	assert.NotEmpty(t, adv.ID)

	sub := fb.next(t)
	assert.Equal(t, "subscribe", sub.Op)
	assert.Equal(t, "/camera/image_raw", sub.Topic)
	assert.Equal(t, TypeImage, sub.Type)
	assert.Equal(t, 1, sub.QueueLength)
	assert.NotEqual(t, adv.ID, sub.ID)
}

func TestPublishCommand(t *testing.T) {
	fb := newFakeBridge(t)
	c, err := Dial(context.Background(), testConfig(fb.url()), nil)
	require.NoError(t, err)
	defer c.Close()
	fb.next(t)
	fb.next(t)

	cmd := motion.Command{Linear: motion.Vector3{X: 1}, Angular: motion.Vector3{Z: 0.25}}
	require.NoError(t, c.PublishCommand(context.Background(), cmd))

	op := fb.next(t)
	assert.Equal(t, "publish", op.Op)
	assert.Equal(t, "/cmd_vel", op.Topic)

	var twist map[string]map[string]float64
	require.NoError(t, json.Unmarshal(op.Msg, &twist))
	assert.Equal(t, 1.0, twist["linear"]["x"])
	assert.Equal(t, 0.0, twist["linear"]["y"])
	assert.Equal(t, 0.25, twist["angular"]["z"])
}

func TestRun_DeliversFrames(t *testing.T) {
	fb := newFakeBridge(t)
	c, err := Dial(context.Background(), testConfig(fb.url()), nil)
	require.NoError(t, err)
	defer c.Close()
	server := <-fb.conn

	var (
		mu     sync.Mutex
		frames []*vision.Frame
	)
	got := make(chan struct{}, 4)
	sink := func(f *vision.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
		got <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, sink) }()

	img, _ := json.Marshal(Image{Width: 1, Height: 1, Encoding: "rgb8", Step: 3, Data: []byte{200, 0, 0}})
	bad, _ := json.Marshal(Image{Width: 1, Height: 1, Encoding: "yuv422", Step: 2, Data: []byte{0, 0}})
	require.NoError(t, server.WriteJSON(Operation{Op: "publish", Topic: "/other", Msg: img}))
	require.NoError(t, server.WriteJSON(Operation{Op: "publish", Topic: "/camera/image_raw", Msg: bad}))
	require.NoError(t, server.WriteJSON(Operation{Op: "publish", Topic: "/camera/image_raw", Msg: img}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	mu.Lock()
	require.Len(t, frames, 1)
	assert.Equal(t, vision.BGR{R: 200}, frames[0].At(0, 0))
	mu.Unlock()

	received, dropped := c.Stats()
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(1), dropped)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The socket stays writable for the final stop command.
	fb.next(t)
	fb.next(t)
	require.NoError(t, c.PublishCommand(context.Background(), motion.Zero()))
	assert.Equal(t, "publish", fb.next(t).Op)
}

func TestRun_CompressedImage(t *testing.T) {
	fb := newFakeBridge(t)
	cfg := testConfig(fb.url())
	cfg.ImageType = TypeCompressedImage
	cfg.Decode = func(data []byte) (*vision.Frame, error) {
		f := vision.NewFrame(1, 1)
		f.Set(0, 0, vision.BGR{G: data[0]})
		return f, nil
	}
	c, err := Dial(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	server := <-fb.conn

	got := make(chan *vision.Frame, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, func(f *vision.Frame) { got <- f })

	msg, _ := json.Marshal(CompressedImage{Format: "jpeg", Data: []byte{42}})
	require.NoError(t, server.WriteJSON(Operation{Op: "publish", Topic: cfg.ImageTopic, Msg: msg}))

	select {
	case f := <-got:
		assert.Equal(t, uint8(42), f.At(0, 0).G)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestClose(t *testing.T) {
	fb := newFakeBridge(t)
	c, err := Dial(context.Background(), testConfig(fb.url()), nil)
	require.NoError(t, err)
	fb.next(t)
	fb.next(t)

	require.NoError(t, c.Close())
	assert.Equal(t, "unsubscribe", fb.next(t).Op)
	assert.Equal(t, "unadvertise", fb.next(t).Op)

	assert.ErrorIs(t, c.PublishCommand(context.Background(), motion.Zero()), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestRun_StatusWithObjectMsg(t *testing.T) {
	fb := newFakeBridge(t)
	rec := &logRecorder{}
	c, err := Dial(context.Background(), testConfig(fb.url()), slog.New(rec))
	require.NoError(t, err)
	defer c.Close()
	server := <-fb.conn

	got := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, func(*vision.Frame) { got <- struct{}{} })

	require.NoError(t, server.WriteJSON(Operation{Op: "status", Level: "warning", Msg: json.RawMessage(`{"code":3}`)}))
	img, _ := json.Marshal(Image{Width: 1, Height: 1, Encoding: "mono8", Step: 1, Data: []byte{9}})
	require.NoError(t, server.WriteJSON(Operation{Op: "publish", Topic: "/camera/image_raw", Msg: img}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	require.NotNil(t, rec.find("rosbridge: status msg is not a string"))
	status := rec.find("rosbridge status")
	require.NotNil(t, status)
	assert.Equal(t, `{"code":3}`, status["text"])
}

func TestClose_LogsFailedTeardown(t *testing.T) {
	fb := newFakeBridge(t)
	rec := &logRecorder{}
	c, err := Dial(context.Background(), testConfig(fb.url()), slog.New(rec))
	require.NoError(t, err)
	fb.next(t)
	fb.next(t)

	// Kill the socket underneath the client so both teardown sends fail.
	require.NoError(t, c.ws.UnderlyingConn().Close())
	c.Close()

	unsub := rec.find("rosbridge: unsubscribe failed")
	require.NotNil(t, unsub)
	assert.Equal(t, "/camera/image_raw", unsub["topic"])
	assert.NotEmpty(t, unsub["error"])
	unadv := rec.find("rosbridge: unadvertise failed")
	require.NotNil(t, unadv)
	assert.Equal(t, "/cmd_vel", unadv["topic"])
}

func TestConnectWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ConnectWithRetry(ctx, testConfig("ws://127.0.0.1:1"), nil)
	assert.Error(t, err)
}

package rosbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

const writeTimeout = time.Second

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("rosbridge: client closed")

// Config holds the rosbridge connection settings.
type Config struct {
	URL          string // ws://host:9090
	ImageTopic   string
	ImageType    string // TypeImage or TypeCompressedImage
	CommandTopic string
	ThrottleMs   int               // server-side throttle for the image topic, 0 = none
	Decode       vision.DecodeFunc // CompressedImage decoder, nil = vision.Decode
}

// Client is a rosbridge websocket connection that subscribes to one image
// topic and publishes Twist commands on another.
type Client struct {
	cfg    Config
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex // gorilla allows one concurrent writer

	session string
	seq     atomic.Uint64
	closed  atomic.Bool

	received atomic.Uint64
	dropped  atomic.Uint64
}

// Dial connects to rosbridge, advertises the command topic and subscribes to
// the image topic.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ImageType == "" {
		cfg.ImageType = TypeImage
	}
	if cfg.Decode == nil {
		cfg.Decode = vision.Decode
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("rosbridge connect failed: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		ws:      ws,
		session: uuid.NewString()[:8],
	}

	if err := c.send(ctx, Operation{Op: "advertise", ID: c.nextID("advertise"), Topic: cfg.CommandTopic, Type: TypeTwist}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("advertise %s: %w", cfg.CommandTopic, err)
	}
	sub := Operation{
		Op:           "subscribe",
		ID:           c.nextID("subscribe"),
		Topic:        cfg.ImageTopic,
		Type:         cfg.ImageType,
		ThrottleRate: cfg.ThrottleMs,
		QueueLength:  1,
	}
	if err := c.send(ctx, sub); err != nil {
		ws.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ImageTopic, err)
	}

	logger.Info("rosbridge connected",
		"url", cfg.URL,
		"image_topic", cfg.ImageTopic,
		"image_type", cfg.ImageType,
		"command_topic", cfg.CommandTopic,
	)
	return c, nil
}

// ConnectWithRetry dials until it succeeds or ctx is done, backing off from
// one second up to ten.
func ConnectWithRetry(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		c, err := Dial(ctx, cfg, logger)
		if err == nil {
			return c, nil
		}
		logger.Warn("rosbridge dial failed", "attempt", attempt, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

// Run reads messages until ctx is done or the connection fails, handing every
// decoded image to sink. Bad images are logged and dropped. Returns nil when
// ctx ends the loop. The connection stays writable afterwards so a final stop
// command can still be published before Close.
func (c *Client) Run(ctx context.Context, sink func(*vision.Frame)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock ReadMessage without closing the socket.
			c.ws.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() {
				return nil
			}
			return fmt.Errorf("rosbridge read: %w", err)
		}

		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			c.logger.Debug("rosbridge: bad message", "error", err)
			continue
		}

		switch op.Op {
		case "publish":
			if op.Topic != c.cfg.ImageTopic {
				continue
			}
			frame, err := c.decodeFrame(op.Msg)
			c.received.Add(1)
			if err != nil {
				n := c.dropped.Add(1)
				if n == 1 || n%100 == 0 {
					c.logger.Warn("dropping image", "topic", op.Topic, "error", err, "dropped", n)
				}
				continue
			}
			sink(frame)
		case "status":
			var text string
			if err := json.Unmarshal(op.Msg, &text); err != nil {
				c.logger.Debug("rosbridge: status msg is not a string", "error", err)
				text = string(op.Msg)
			}
			c.logger.Info("rosbridge status", "level", op.Level, "id", op.ID, "text", text)
		}
	}
}

func (c *Client) decodeFrame(raw json.RawMessage) (*vision.Frame, error) {
	if c.cfg.ImageType == TypeCompressedImage {
		var msg CompressedImage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("parse compressed image: %w", err)
		}
		f, err := c.cfg.Decode(msg.Data)
		if err != nil {
			return nil, err
		}
		f.Stamp = msg.Header.Time()
		return f, nil
	}

	var msg Image
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("parse image: %w", err)
	}
	f, err := msg.ToFrame()
	if err != nil {
		return nil, err
	}
	f.Stamp = msg.Header.Time()
	return f, nil
}

// PublishCommand publishes cmd as a geometry_msgs/Twist.
func (c *Client) PublishCommand(ctx context.Context, cmd motion.Command) error {
	msg, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.send(ctx, Operation{Op: "publish", Topic: c.cfg.CommandTopic, Msg: msg})
}

// Stats returns the number of image messages received and dropped.
func (c *Client) Stats() (received, dropped uint64) {
	return c.received.Load(), c.dropped.Load()
}

// Close unsubscribes, unadvertises and closes the connection.
func (c *Client) Close() error {
	if c.closed.Load() {
		return nil
	}
	ctx := context.Background()
	if err := c.send(ctx, Operation{Op: "unsubscribe", ID: c.nextID("unsubscribe"), Topic: c.cfg.ImageTopic}); err != nil {
		c.logger.Debug("rosbridge: unsubscribe failed", "topic", c.cfg.ImageTopic, "error", err)
	}
	if err := c.send(ctx, Operation{Op: "unadvertise", ID: c.nextID("unadvertise"), Topic: c.cfg.CommandTopic}); err != nil {
		c.logger.Debug("rosbridge: unadvertise failed", "topic", c.cfg.CommandTopic, "error", err)
	}

	if c.closed.Swap(true) {
		return nil
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	return c.ws.Close()
}

func (c *Client) send(ctx context.Context, op Operation) error {
	if c.closed.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(op)
}

func (c *Client) nextID(op string) string {
	return fmt.Sprintf("%s:%s:%d", op, c.session, c.seq.Add(1))
}

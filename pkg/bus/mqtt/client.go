// Package mqtt carries camera frames and velocity commands over an MQTT
// broker. Frames arrive as encoded images (JPEG, PNG) on one topic; commands
// leave as Twist-shaped JSON on another.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

// Config contains MQTT broker settings.
type Config struct {
	Broker       string // tcp://host:1883
	ClientID     string // empty = balltrack-<uuid>
	FrameTopic   string
	CommandTopic string
	QoS          byte
	Decode       vision.DecodeFunc // nil = vision.Decode
}

// Client is an MQTT frame source and command publisher.
type Client struct {
	cfg    Config
	logger *slog.Logger
	client paho.Client

	mu        sync.RWMutex
	connected bool
	sink      func(*vision.Frame)

	received  atomic.Uint64
	dropped   atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64
}

// New creates a client. Call Connect before use.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "balltrack-" + uuid.NewString()[:8]
	}
	if cfg.Decode == nil {
		cfg.Decode = vision.Decode
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect establishes connection to the broker. Reconnects are automatic and
// the frame subscription is restored on every reconnect.
func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(pc paho.Client) {
		c.mu.Lock()
		c.connected = true
		resubscribe := c.sink != nil
		c.mu.Unlock()
		c.logger.Info("mqtt connection established",
			"broker", c.cfg.Broker,
			"client_id", c.cfg.ClientID)
		if resubscribe {
			c.subscribe()
		}
	}
	opts.OnConnectionLost = func(pc paho.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", c.cfg.Broker)
	}

	c.client = paho.NewClient(opts)
	c.logger.Info("connecting to mqtt broker", "broker", c.cfg.Broker)

	timeout := connectTimeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Run subscribes to the frame topic and delivers decoded frames to sink until
// ctx is done. Undecodable payloads are logged and dropped.
func (c *Client) Run(ctx context.Context, sink func(*vision.Frame)) error {
	if c.client == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()

	if err := c.subscribe(); err != nil {
		return err
	}
	<-ctx.Done()

	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
	c.client.Unsubscribe(c.cfg.FrameTopic).WaitTimeout(publishTimeout)
	return nil
}

func (c *Client) subscribe() error {
	token := c.client.Subscribe(c.cfg.FrameTopic, c.cfg.QoS, func(_ paho.Client, m paho.Message) {
		c.handleFrame(m.Payload())
	})
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe %s: timeout", c.cfg.FrameTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.FrameTopic, err)
	}
	c.logger.Info("subscribed to frames", "topic", c.cfg.FrameTopic, "qos", c.cfg.QoS)
	return nil
}

func (c *Client) handleFrame(payload []byte) {
	c.received.Add(1)

	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}

	frame, err := c.cfg.Decode(payload)
	if err != nil {
		n := c.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			c.logger.Warn("dropping frame", "topic", c.cfg.FrameTopic, "error", err, "dropped", n)
		}
		return
	}
	sink(frame)
}

// PublishCommand publishes cmd as JSON on the command topic.
func (c *Client) PublishCommand(ctx context.Context, cmd motion.Command) error {
	if !c.isConnected() {
		c.errors.Add(1)
		return ErrNotConnected
	}
	payload, err := EncodeCommand(cmd)
	if err != nil {
		c.errors.Add(1)
		return err
	}

	timeout := publishTimeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}
	token := c.client.Publish(c.cfg.CommandTopic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(timeout) {
		c.errors.Add(1)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}
	c.published.Add(1)
	return nil
}

// Stats reports message counters.
func (c *Client) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Dropped:   c.dropped.Load(),
		Published: c.published.Load(),
		Errors:    c.errors.Load(),
		Connected: c.isConnected(),
	}
}

// Stats holds client counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	Connected bool   `json:"connected"`
}

// Close disconnects from the broker, letting in-flight publishes finish.
func (c *Client) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Info("mqtt client disconnected")
	return nil
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// EncodeCommand renders cmd as {"linear":{"x":..},"angular":{..}}.
func EncodeCommand(cmd motion.Command) ([]byte, error) {
	return json.Marshal(cmd)
}

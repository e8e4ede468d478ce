// Package config loads and validates go-balltrack configuration.
//
// Settings come from Default(), optionally overlaid by a YAML file, then by
// environment variables. The result is validated once and treated as
// read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/robot"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Transport kinds.
const (
	TransportRosbridge = "rosbridge"
	TransportMQTT      = "mqtt"
	TransportWebRTC    = "webrtc"
	TransportNone      = "none"
)

// Drive kinds select where commands go.
const (
	DriveBus   = "bus"   // back over the frame transport
	DriveNeato = "neato" // straight to the serial base
	DriveLog   = "log"   // dry run
)

// Detector backends.
const (
	BackendScan   = "scan"
	BackendOpenCV = "opencv"
)

// Default ports.
const (
	DefaultRosbridgePort = "9090"
	DefaultSignalingPort = "8443"
	DefaultDashboardPort = 8181
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete tracker configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Transport TransportConfig `yaml:"transport"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Viewer    ViewerConfig    `yaml:"viewer"`
}

// TrackerConfig holds the detection and control parameters.
type TrackerConfig struct {
	Backend string        `yaml:"backend"` // scan, opencv
	Preset  string        `yaml:"preset"`  // named color, overrides range when set
	Range   RangeConfig   `yaml:"range"`
	Motion  motion.Config `yaml:"motion"`
	RateHz  float64       `yaml:"rate_hz"` // control ticks per second
}

// RangeConfig is a color range as [B, G, R] triples.
type RangeConfig struct {
	Lower []int `yaml:"lower"`
	Upper []int `yaml:"upper"`
}

// TransportConfig selects and configures the robot link.
type TransportConfig struct {
	Kind      string            `yaml:"kind"`  // rosbridge, mqtt, webrtc, none
	Drive     string            `yaml:"drive"` // bus, neato, log
	Rosbridge RosbridgeConfig   `yaml:"rosbridge"`
	MQTT      MQTTConfig        `yaml:"mqtt"`
	WebRTC    WebRTCConfig      `yaml:"webrtc"`
	Neato     robot.NeatoConfig `yaml:"neato"`
}

// RosbridgeConfig contains rosbridge websocket settings.
type RosbridgeConfig struct {
	URL          string `yaml:"url"`
	ImageTopic   string `yaml:"image_topic"`
	ImageType    string `yaml:"image_type"` // sensor_msgs/Image or sensor_msgs/CompressedImage
	CommandTopic string `yaml:"command_topic"`
	ThrottleMs   int    `yaml:"throttle_ms"`
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	FrameTopic   string `yaml:"frame_topic"`
	CommandTopic string `yaml:"command_topic"`
	QoS          byte   `yaml:"qos"`
}

// WebRTCConfig contains the camera stream settings.
type WebRTCConfig struct {
	RobotIP       string `yaml:"robot_ip"`
	SignalingPort string `yaml:"signaling_port"`
	FPS           int    `yaml:"fps"`
}

// DashboardConfig contains the web dashboard settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ViewerConfig controls the OpenCV preview windows.
type ViewerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the stock configuration: the red-ball range, 5 Hz control,
// rosbridge on localhost.
func Default() Config {
	return Config{
		LogLevel: "info",
		Tracker: TrackerConfig{
			Backend: BackendScan,
			Range: RangeConfig{
				Lower: []int{0, 0, 60},
				Upper: []int{50, 50, 255},
			},
			Motion: motion.DefaultConfig(),
			RateHz: 5,
		},
		Transport: TransportConfig{
			Kind:  TransportRosbridge,
			Drive: DriveBus,
			Rosbridge: RosbridgeConfig{
				URL:          "ws://localhost:" + DefaultRosbridgePort,
				ImageTopic:   "/camera/image_raw",
				ImageType:    "sensor_msgs/Image",
				CommandTopic: "/cmd_vel",
			},
			MQTT: MQTTConfig{
				Broker:       "tcp://localhost:1883",
				FrameTopic:   "balltrack/camera/jpeg",
				CommandTopic: "balltrack/cmd_vel",
			},
			WebRTC: WebRTCConfig{
				SignalingPort: DefaultSignalingPort,
				FPS:           10,
			},
			Neato: robot.DefaultNeatoConfig(),
		},
		Dashboard: DashboardConfig{Port: DefaultDashboardPort},
	}
}

// Load reads a YAML file over Default(), applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Read is Load without validation, for callers that apply further overrides
// such as command-line flags before validating.
func Read(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from the environment:
// ROBOT_IP, BALLTRACK_LOG_LEVEL, BALLTRACK_PRESET, MQTT_BROKER, NEATO_PORT.
func (c *Config) ApplyEnv() {
	if ip := os.Getenv("ROBOT_IP"); ip != "" {
		c.Transport.Rosbridge.URL = "ws://" + ip + ":" + DefaultRosbridgePort
		c.Transport.WebRTC.RobotIP = ip
	}
	if lvl := os.Getenv("BALLTRACK_LOG_LEVEL"); lvl != "" {
		c.LogLevel = lvl
	}
	if preset := os.Getenv("BALLTRACK_PRESET"); preset != "" {
		c.Tracker.Preset = preset
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.Transport.MQTT.Broker = broker
	}
	if port := os.Getenv("NEATO_PORT"); port != "" {
		c.Transport.Neato.Port = port
	}
}

// Validate checks the whole configuration. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if _, err := c.Tracker.ColorRange(); err != nil {
		return fmt.Errorf("%w: tracker: %v", ErrInvalid, err)
	}
	if err := c.Tracker.Motion.Validate(); err != nil {
		return fmt.Errorf("%w: tracker.motion: %v", ErrInvalid, err)
	}
	if c.Tracker.RateHz <= 0 {
		return fmt.Errorf("%w: tracker.rate_hz must be > 0, got %v", ErrInvalid, c.Tracker.RateHz)
	}
	switch c.Tracker.Backend {
	case BackendScan, BackendOpenCV:
	default:
		return fmt.Errorf("%w: unknown tracker.backend %q", ErrInvalid, c.Tracker.Backend)
	}

	t := c.Transport
	switch t.Kind {
	case TransportRosbridge:
		if t.Rosbridge.URL == "" || t.Rosbridge.ImageTopic == "" || t.Rosbridge.CommandTopic == "" {
			return fmt.Errorf("%w: transport.rosbridge needs url, image_topic and command_topic", ErrInvalid)
		}
		if !strings.HasSuffix(t.Rosbridge.ImageType, "/Image") && !strings.HasSuffix(t.Rosbridge.ImageType, "/CompressedImage") {
			return fmt.Errorf("%w: unsupported transport.rosbridge.image_type %q", ErrInvalid, t.Rosbridge.ImageType)
		}
	case TransportMQTT:
		if t.MQTT.Broker == "" || t.MQTT.FrameTopic == "" || t.MQTT.CommandTopic == "" {
			return fmt.Errorf("%w: transport.mqtt needs broker, frame_topic and command_topic", ErrInvalid)
		}
		if t.MQTT.QoS > 2 {
			return fmt.Errorf("%w: transport.mqtt.qos must be 0, 1 or 2", ErrInvalid)
		}
	case TransportWebRTC:
		if t.WebRTC.RobotIP == "" {
			return fmt.Errorf("%w: transport.webrtc.robot_ip is required (or set ROBOT_IP)", ErrInvalid)
		}
	case TransportNone:
	default:
		return fmt.Errorf("%w: unknown transport.kind %q", ErrInvalid, t.Kind)
	}

	switch t.Drive {
	case DriveBus:
		if t.Kind == TransportWebRTC || t.Kind == TransportNone {
			return fmt.Errorf("%w: transport %q cannot carry commands, use drive neato or log", ErrInvalid, t.Kind)
		}
	case DriveNeato:
		if err := t.Neato.Validate(); err != nil {
			return fmt.Errorf("%w: transport.neato: %v", ErrInvalid, err)
		}
	case DriveLog:
	default:
		return fmt.Errorf("%w: unknown transport.drive %q", ErrInvalid, t.Drive)
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("%w: dashboard.port out of range: %d", ErrInvalid, c.Dashboard.Port)
	}
	return nil
}

// ColorRange returns the named preset if one is set, else the explicit range.
func (t TrackerConfig) ColorRange() (vision.ColorRange, error) {
	if t.Preset != "" {
		rng := vision.GetPreset(t.Preset)
		if rng == nil {
			return vision.ColorRange{}, fmt.Errorf("unknown preset %q (have %v)", t.Preset, vision.PresetNames())
		}
		return *rng, nil
	}
	rng, err := t.Range.ColorRange()
	if err != nil {
		return vision.ColorRange{}, fmt.Errorf("range: %w", err)
	}
	return rng, nil
}

// ColorRange converts the [B, G, R] lists into a validated vision range.
func (r RangeConfig) ColorRange() (vision.ColorRange, error) {
	lo, err := toBGR(r.Lower)
	if err != nil {
		return vision.ColorRange{}, fmt.Errorf("lower: %w", err)
	}
	hi, err := toBGR(r.Upper)
	if err != nil {
		return vision.ColorRange{}, fmt.Errorf("upper: %w", err)
	}
	rng := vision.ColorRange{Lower: lo, Upper: hi}
	if err := rng.Validate(); err != nil {
		return vision.ColorRange{}, err
	}
	return rng, nil
}

func toBGR(v []int) (vision.BGR, error) {
	if len(v) != 3 {
		return vision.BGR{}, fmt.Errorf("want 3 values [b, g, r], got %d", len(v))
	}
	for _, c := range v {
		if c < 0 || c > 255 {
			return vision.BGR{}, fmt.Errorf("channel value %d out of range 0-255", c)
		}
	}
	return vision.BGR{B: uint8(v[0]), G: uint8(v[1]), R: uint8(v[2])}, nil
}

// ControlPeriod returns the control tick period.
func (t TrackerConfig) ControlPeriod() time.Duration {
	return time.Duration(float64(time.Second) / t.RateHz)
}

// SignalingURL returns the robot's WebRTC signalling endpoint.
func (w WebRTCConfig) SignalingURL() string {
	port := w.SignalingPort
	if port == "" {
		port = DefaultSignalingPort
	}
	return fmt.Sprintf("ws://%s:%s", w.RobotIP, port)
}

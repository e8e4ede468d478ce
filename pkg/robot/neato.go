package robot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-balltrack/pkg/motion"
)

// Neato XV physical limits.
const (
	NeatoWheelBase = 0.248 // meters between the drive wheels
	NeatoMaxSpeed  = 0.30  // m/s, firmware rejects faster SetMotor requests
	NeatoBaudRate  = 115200
)

// NeatoConfig configures the serial base driver.
type NeatoConfig struct {
	Port      string  `yaml:"port" json:"port"`             // e.g. /dev/ttyACM0
	BaudRate  int     `yaml:"baud_rate" json:"baud_rate"`   // USB CDC ignores it, kept for adapters
	WheelBase float64 `yaml:"wheel_base" json:"wheel_base"` // meters
	MaxSpeed  float64 `yaml:"max_speed" json:"max_speed"`   // m/s per wheel
}

// DefaultNeatoConfig returns settings for a stock XV-11 on USB.
func DefaultNeatoConfig() NeatoConfig {
	return NeatoConfig{
		Port:      "/dev/ttyACM0",
		BaudRate:  NeatoBaudRate,
		WheelBase: NeatoWheelBase,
		MaxSpeed:  NeatoMaxSpeed,
	}
}

// Validate checks the driver settings.
func (c *NeatoConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("neato port is required")
	}
	if c.WheelBase <= 0 {
		return fmt.Errorf("neato wheel_base must be > 0, got %v", c.WheelBase)
	}
	if c.MaxSpeed <= 0 {
		return fmt.Errorf("neato max_speed must be > 0, got %v", c.MaxSpeed)
	}
	return nil
}

// NeatoDriver publishes velocity commands straight to a Neato base over its
// serial console using differential SetMotor requests.
type NeatoDriver struct {
	cfg    NeatoConfig
	logger *slog.Logger

	mu     sync.Mutex
	port   io.ReadWriteCloser
	closed bool
}

// OpenNeato opens the serial port and puts the base into test mode, which the
// firmware requires before it accepts motor commands.
func OpenNeato(cfg NeatoConfig, logger *slog.Logger) (*NeatoDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid neato config: %w", err)
	}
	baud := cfg.BaudRate
	if baud == 0 {
		baud = NeatoBaudRate
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return NewNeatoDriver(port, cfg, logger)
}

// NewNeatoDriver wraps an already open port.
func NewNeatoDriver(port io.ReadWriteCloser, cfg NeatoConfig, logger *slog.Logger) (*NeatoDriver, error) {
	if cfg.WheelBase == 0 {
		cfg.WheelBase = NeatoWheelBase
	}
	if cfg.MaxSpeed == 0 {
		cfg.MaxSpeed = NeatoMaxSpeed
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &NeatoDriver{cfg: cfg, logger: logger, port: port}
	if err := d.send("TestMode On"); err != nil {
		port.Close()
		return nil, fmt.Errorf("enable test mode: %w", err)
	}
	logger.Info("neato base ready", "port", cfg.Port)
	return d, nil
}

// WheelSpeeds converts a body twist into left/right wheel speeds (m/s),
// scaling both down together if either exceeds maxSpeed.
func WheelSpeeds(cmd motion.Command, wheelBase, maxSpeed float64) (left, right float64) {
	v, w := cmd.Linear.X, cmd.Angular.Z
	left = v - w*wheelBase/2
	right = v + w*wheelBase/2

	if k := math.Max(math.Abs(left), math.Abs(right)); k > maxSpeed {
		left *= maxSpeed / k
		right *= maxSpeed / k
	}
	return left, right
}

// setMotorLine formats one SetMotor request. Distances and speed are in mm
// and mm/s; each wheel is asked to travel one second's worth at its speed.
func setMotorLine(left, right float64) string {
	l := int(math.Round(left * 1000))
	r := int(math.Round(right * 1000))
	speed := max(abs(l), abs(r))
	return fmt.Sprintf("SetMotor LWheelDist %d RWheelDist %d Speed %d", l, r, speed)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// PublishCommand sends cmd to the wheels.
func (d *NeatoDriver) PublishCommand(_ context.Context, cmd motion.Command) error {
	left, right := WheelSpeeds(cmd, d.cfg.WheelBase, d.cfg.MaxSpeed)
	return d.send(setMotorLine(left, right))
}

func (d *NeatoDriver) send(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("neato driver is closed")
	}
	if _, err := io.WriteString(d.port, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

// Close stops the wheels, leaves test mode and closes the port.
func (d *NeatoDriver) Close() error {
	stopErr := d.send(setMotorLine(0, 0))
	modeErr := d.send("TestMode Off")

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.port.Close(); err != nil {
		return err
	}
	if stopErr != nil {
		return stopErr
	}
	return modeErr
}

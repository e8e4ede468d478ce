// Package motion maps detection results to body-frame velocity commands.
//
// The policy has three regimes, checked in order every control tick:
//
//   - Idle: no frame has been processed yet. Everything is zero.
//   - Search: too few matching pixels to trust. Spin in place.
//   - Approach: drive forward and turn proportionally toward the blob.
package motion

import (
	"fmt"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Vector3 is a body-frame vector (x forward, y left, z up).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Command is a velocity command: linear in m/s, angular in rad/s.
type Command struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Zero returns the all-zero command.
func Zero() Command {
	return Command{}
}

// IsZero reports whether every component is zero.
func (c Command) IsZero() bool {
	return c == Command{}
}

// Regime names which branch of the policy produced a command.
type Regime int

const (
	Idle Regime = iota
	Search
	Approach
)

func (r Regime) String() string {
	switch r {
	case Idle:
		return "idle"
	case Search:
		return "search"
	case Approach:
		return "approach"
	default:
		return fmt.Sprintf("regime(%d)", int(r))
	}
}

// MarshalText lets regimes appear by name in JSON status output.
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Config holds the control-law constants.
type Config struct {
	PixelThreshold int     `yaml:"pixel_threshold" json:"pixel_threshold"` // Minimum mass to trust a detection
	ForwardSpeed   float64 `yaml:"forward_speed" json:"forward_speed"`     // linear.x while approaching
	SearchRate     float64 `yaml:"search_rate" json:"search_rate"`         // angular.z while searching
	Gain           float64 `yaml:"gain" json:"gain"`                       // rad/s per pixel of offset
	CenterX        float64 `yaml:"center_x" json:"center_x"`               // Reference column
}

// DefaultConfig returns the constants the ball tracker was tuned with on a
// 600px-wide Neato camera.
func DefaultConfig() Config {
	return Config{
		PixelThreshold: 20,
		ForwardSpeed:   1.0,
		SearchRate:     0.5,
		Gain:           0.005,
		CenterX:        300,
	}
}

// Validate checks the constants. A threshold of at least one guarantees that
// every result with mass has a centroid, so the policy stays total.
func (c Config) Validate() error {
	if c.PixelThreshold < 1 {
		return fmt.Errorf("pixel_threshold must be >= 1, got %d", c.PixelThreshold)
	}
	if c.ForwardSpeed <= 0 {
		return fmt.Errorf("forward_speed must be > 0, got %v", c.ForwardSpeed)
	}
	if c.SearchRate <= 0 {
		return fmt.Errorf("search_rate must be > 0, got %v", c.SearchRate)
	}
	if c.Gain <= 0 {
		return fmt.Errorf("gain must be > 0, got %v", c.Gain)
	}
	if c.CenterX < 0 {
		return fmt.Errorf("center_x must be >= 0, got %v", c.CenterX)
	}
	return nil
}

// Controller applies the policy with a fixed Config.
type Controller struct {
	cfg Config
}

// NewController creates a controller. cfg is copied.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Config returns the controller's constants.
func (c *Controller) Config() Config {
	return c.cfg
}

// Compute returns the command for result, steering toward centerX.
// A nil result means no frame has been processed yet.
func (c *Controller) Compute(result *vision.DetectionResult, centerX float64) (Command, Regime) {
	if result == nil {
		return Zero(), Idle
	}

	if result.PixelCount < c.cfg.PixelThreshold || result.Centroid == nil {
		return Command{Angular: Vector3{Z: c.cfg.SearchRate}}, Search
	}

	return Command{
		Linear:  Vector3{X: c.cfg.ForwardSpeed},
		Angular: Vector3{Z: c.cfg.Gain * (centerX - result.Centroid.X)},
	}, Approach
}

// Step is Compute with the configured reference column.
func (c *Controller) Step(result *vision.DetectionResult) (Command, Regime) {
	return c.Compute(result, c.cfg.CenterX)
}

package tracking

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/robot"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Config holds all parameters for ball tracking. It is fixed once the
// tracker is built.
type Config struct {
	// Detection
	Range vision.ColorRange `json:"range"` // Inclusive BGR bounds of the ball color

	// Control
	Motion      motion.Config `json:"motion"`
	ControlRate time.Duration `json:"control_rate"` // Control tick period

	// Logging
	MissLogThreshold int `json:"miss_log_threshold"` // Log "lost" after this many frames without the ball
}

// DefaultConfig returns the red ball settings: BGR (0,0,60)-(50,50,255),
// 20 pixel threshold, 5 Hz control.
func DefaultConfig() Config {
	return Config{
		Range:            vision.RedBall(),
		Motion:           motion.DefaultConfig(),
		ControlRate:      robot.DefaultRate,
		MissLogThreshold: 5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Range.Validate(); err != nil {
		return fmt.Errorf("range: %w", err)
	}
	if err := c.Motion.Validate(); err != nil {
		return fmt.Errorf("motion: %w", err)
	}
	if c.ControlRate <= 0 {
		return fmt.Errorf("control rate must be > 0, got %v", c.ControlRate)
	}
	return nil
}

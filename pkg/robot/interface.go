// Package robot drives the base from detection results.
//
// This package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces. The control loop only needs somewhere to read the
// latest detection, a policy, and somewhere to send commands.
package robot

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// CommandPublisher delivers velocity commands to the base.
// Bus clients and the serial driver implement it.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd motion.Command) error
}

// ResultSource exposes the latest detection result, nil before the first frame.
type ResultSource interface {
	Load() *vision.DetectionResult
}

// Policy turns a detection result into a command.
type Policy interface {
	Step(result *vision.DetectionResult) (motion.Command, motion.Regime)
}

// PublisherFunc adapts a function to CommandPublisher.
type PublisherFunc func(ctx context.Context, cmd motion.Command) error

// PublishCommand calls f.
func (f PublisherFunc) PublishCommand(ctx context.Context, cmd motion.Command) error {
	return f(ctx, cmd)
}

// LogPublisher only logs commands. Used for dry runs without a robot.
type LogPublisher struct {
	Logger *slog.Logger
}

// PublishCommand logs cmd at debug level.
func (p LogPublisher) PublishCommand(_ context.Context, cmd motion.Command) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("command",
		"linear_x", cmd.Linear.X,
		"angular_z", cmd.Angular.Z,
	)
	return nil
}

// Ensure implementations satisfy the interfaces
var (
	_ CommandPublisher = PublisherFunc(nil)
	_ CommandPublisher = LogPublisher{}
	_ CommandPublisher = (*NeatoDriver)(nil)
	_ Policy           = (*motion.Controller)(nil)
)

package robot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// DefaultRate is the control tick period (5 Hz).
const DefaultRate = 200 * time.Millisecond

// haltTimeout bounds the final zero-command publish on shutdown.
const haltTimeout = 2 * time.Second

// Tick records one control cycle.
type Tick struct {
	Seq     uint64         `json:"seq"`
	Command motion.Command `json:"command"`
	Regime  motion.Regime  `json:"regime"`
	At      time.Time      `json:"at"`
}

// RateController runs the control law at a fixed rate.
// Every tick it reads the latest detection, computes a command and publishes
// it; no tick is ever skipped. When the loop ends it sends a zero command so
// the base is never left moving.
type RateController struct {
	source ResultSource
	policy Policy
	pub    CommandPublisher
	logger *slog.Logger

	rate     time.Duration
	stop     chan struct{}
	stopOnce sync.Once

	mu   sync.RWMutex
	last Tick

	// Diagnostics
	tickCount     atomic.Uint64
	errorCount    atomic.Uint64
	lastErrorTime time.Time // Loop goroutine only
	heartbeat     uint64    // Ticks between heartbeat logs (~5s)
}

// NewRateController creates a controller ticking every rate.
// A nil logger uses slog.Default().
func NewRateController(source ResultSource, policy Policy, pub CommandPublisher, rate time.Duration, logger *slog.Logger) *RateController {
	if rate <= 0 {
		rate = DefaultRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	hb := uint64(5 * time.Second / rate)
	if hb == 0 {
		hb = 1
	}
	return &RateController{
		source:    source,
		policy:    policy,
		pub:       pub,
		logger:    logger,
		rate:      rate,
		stop:      make(chan struct{}),
		heartbeat: hb,
	}
}

// Rate returns the tick period.
func (c *RateController) Rate() time.Duration {
	return c.rate
}

// Last returns the most recent tick. Before the first tick it is the zero Tick
// (idle, all-zero command).
func (c *RateController) Last() Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Stats returns the tick and publish-error counts.
func (c *RateController) Stats() (ticks, errors uint64) {
	return c.tickCount.Load(), c.errorCount.Load()
}

// Run ticks until ctx is cancelled or Stop is called, then publishes a zero
// command and returns.
func (c *RateController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()
	defer c.halt()

	c.logger.Info("control loop started", "rate", c.rate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// Stop halts the control loop gracefully. Safe to call more than once.
func (c *RateController) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// tick executes one control cycle: read, compute, publish.
func (c *RateController) tick(ctx context.Context) {
	var result *vision.DetectionResult
	if c.source != nil {
		result = c.source.Load()
	}
	cmd, regime := motion.Zero(), motion.Idle
	if c.policy != nil {
		cmd, regime = c.policy.Step(result)
	}

	seq := c.tickCount.Add(1)
	t := Tick{Seq: seq, Command: cmd, Regime: regime, At: time.Now()}
	c.mu.Lock()
	c.last = t
	c.mu.Unlock()

	if c.pub != nil {
		if err := c.pub.PublishCommand(ctx, cmd); err != nil {
			// Log errors (but don't spam - max once per 5 seconds)
			n := c.errorCount.Add(1)
			if c.lastErrorTime.IsZero() || time.Since(c.lastErrorTime) > 5*time.Second {
				c.logger.Warn("publish command failed", "error", err, "total_errors", n)
				c.lastErrorTime = time.Now()
			}
		}
	}

	if seq%c.heartbeat == 0 {
		c.logger.Info("control heartbeat",
			"ticks", seq,
			"errors", c.errorCount.Load(),
			"regime", regime.String(),
			"linear_x", cmd.Linear.X,
			"angular_z", cmd.Angular.Z,
		)
	}
}

// halt publishes the all-zero command with a fresh context, since the loop's
// context is usually already cancelled by now.
func (c *RateController) halt() {
	c.mu.Lock()
	c.last = Tick{Seq: c.last.Seq, Regime: motion.Idle, At: time.Now()}
	c.mu.Unlock()

	if c.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), haltTimeout)
	defer cancel()
	if err := c.pub.PublishCommand(ctx, motion.Zero()); err != nil {
		c.logger.Error("failed to publish stop command", "error", err)
		return
	}
	c.logger.Info("control loop stopped, base halted", "ticks", c.tickCount.Load())
}

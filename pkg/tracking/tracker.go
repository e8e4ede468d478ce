// Package tracking wires frame ingest, blob detection and the control loop
// into one ball tracker.
//
// Two loops run independently: detection wakes on every frame arrival and
// processes the newest frame; control ticks at a fixed rate and acts on
// whatever result is newest. They share only the latest frame and the latest
// result, each replaced wholesale.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-balltrack/pkg/ingest"
	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/robot"
	"github.com/teslashibe/go-balltrack/pkg/tracking/detection"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Tracker is a complete visual servoing pipeline.
type Tracker struct {
	config  Config
	session string
	started time.Time
	logger  *slog.Logger

	// Core components
	frames     *ingest.FrameIngest
	results    *ingest.Latest[vision.DetectionResult]
	perception *Perception
	policy     *motion.Controller
	control    *robot.RateController
	detector   detection.Detector

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

// New creates a tracker publishing commands to pub.
func New(cfg Config, det detection.Detector, pub robot.CommandPublisher, logger *slog.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracking config: %w", err)
	}
	if det == nil {
		det = detection.ScanDetector{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	session := uuid.NewString()
	logger = logger.With("session", session[:8])

	frames := ingest.New()
	results := &ingest.Latest[vision.DetectionResult]{}
	policy := motion.NewController(cfg.Motion)

	return &Tracker{
		config:     cfg,
		session:    session,
		logger:     logger,
		frames:     frames,
		results:    results,
		perception: NewPerception(cfg, det, frames, results, logger),
		policy:     policy,
		control:    robot.NewRateController(results, policy, pub, cfg.ControlRate, logger),
		detector:   det,
	}, nil
}

// OnFrame hands a received frame to the tracker. Safe from any goroutine;
// transports use it as their frame sink.
func (t *Tracker) OnFrame(frame *vision.Frame) {
	t.frames.OnFrame(frame)
}

// OnDetection registers a read-only observer of processed frames. Register
// observers before Run.
func (t *Tracker) OnDetection(fn Observer) {
	t.perception.AddObserver(fn)
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config {
	return t.config
}

// Run starts the detection and control loops and blocks until ctx is done.
// It returns after the detection loop has exited and the control loop has
// published its final zero command.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return fmt.Errorf("tracker already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.isRunning = true
	t.started = time.Now()
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info("ball tracker started",
		"backend", detection.Name(t.detector),
		"control_rate", t.config.ControlRate,
		"pixel_threshold", t.config.Motion.PixelThreshold,
		"gain", t.config.Motion.Gain,
		"center_x", t.config.Motion.CenterX,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.perception.Run(ctx)
	}()

	t.control.Run(ctx)
	wg.Wait()

	t.mu.Lock()
	t.isRunning = false
	t.cancel = nil
	t.mu.Unlock()
	t.logger.Info("ball tracker stopped")
	return nil
}

// Stop ends a running tracker. Run still publishes the zero command before
// returning.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Snapshot is a point-in-time view of the tracker for dashboards.
type Snapshot struct {
	Session   string                  `json:"session"`
	Backend   string                  `json:"backend"`
	Running   bool                    `json:"running"`
	Uptime    float64                 `json:"uptime_s"`
	Regime    motion.Regime           `json:"regime"`
	Command   motion.Command          `json:"command"`
	Result    *vision.DetectionResult `json:"result"`
	Frames    ingest.Stats            `json:"frames"`
	Processed uint64                  `json:"processed"`
	Failed    uint64                  `json:"failed"`
	Ticks     uint64                  `json:"ticks"`
	PubErrors uint64                  `json:"publish_errors"`
	Latency   LatencyStats            `json:"latency"`
}

// Snapshot returns the current state. Safe from any goroutine.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	running, started := t.isRunning, t.started
	t.mu.Unlock()

	last := t.control.Last()
	ticks, pubErrors := t.control.Stats()
	processed, failed := t.perception.Counts()

	s := Snapshot{
		Session:   t.session,
		Backend:   detection.Name(t.detector),
		Running:   running,
		Regime:    last.Regime,
		Command:   last.Command,
		Result:    t.results.Load(),
		Frames:    t.frames.Stats(),
		Processed: processed,
		Failed:    failed,
		Ticks:     ticks,
		PubErrors: pubErrors,
		Latency:   t.perception.Latency(),
	}
	if running {
		s.Uptime = time.Since(started).Seconds()
	}
	return s
}

package tracking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-balltrack/pkg/ingest"
	"github.com/teslashibe/go-balltrack/pkg/tracking/detection"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Observer receives every processed frame with its mask and result. Observers
// run on the detection goroutine and must not modify their arguments or block.
type Observer func(frame *vision.Frame, mask *vision.Mask, result vision.DetectionResult)

// Perception turns frames into detection results. It is woken by frame
// arrival, detects on the newest frame and publishes the result to the
// shared slot the control loop reads.
type Perception struct {
	detector detection.Detector
	rng      vision.ColorRange
	frames   *ingest.FrameIngest
	results  *ingest.Latest[vision.DetectionResult]
	logger   *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer

	stats *detectionStats

	// Detection state
	processed         atomic.Uint64
	failed            atomic.Uint64
	consecutiveMisses int // Detection goroutine only
	missLogThreshold  int
	lastErrorTime     time.Time // Detection goroutine only
}

// NewPerception creates a perception stage reading frames and writing results.
func NewPerception(cfg Config, det detection.Detector, frames *ingest.FrameIngest,
	results *ingest.Latest[vision.DetectionResult], logger *slog.Logger) *Perception {
	if logger == nil {
		logger = slog.Default()
	}
	return &Perception{
		detector:         det,
		rng:              cfg.Range,
		frames:           frames,
		results:          results,
		logger:           logger,
		stats:            newDetectionStats(),
		missLogThreshold: cfg.MissLogThreshold,
	}
}

// AddObserver registers fn for every processed frame.
func (p *Perception) AddObserver(fn Observer) {
	if fn == nil {
		return
	}
	p.obsMu.Lock()
	p.observers = append(p.observers, fn)
	p.obsMu.Unlock()
}

// Run processes frames until ctx is done.
func (p *Perception) Run(ctx context.Context) {
	p.logger.Info("detection loop started", "backend", detection.Name(p.detector))
	for {
		frame, err := p.frames.Next(ctx)
		if err != nil {
			p.logger.Info("detection loop stopped", "processed", p.processed.Load(), "failed", p.failed.Load())
			return
		}
		p.Process(frame)
	}
}

// Process detects on one frame. A frame the detector rejects is logged and
// skipped; the previous result stays in place.
func (p *Perception) Process(frame *vision.Frame) {
	start := time.Now()
	result, mask, err := p.detector.Detect(frame, p.rng)
	if err != nil {
		n := p.failed.Add(1)
		// Log errors (but don't spam - max once per 5 seconds)
		if p.lastErrorTime.IsZero() || time.Since(p.lastErrorTime) > 5*time.Second {
			p.logger.Warn("skipping frame", "error", err, "total_failed", n)
			p.lastErrorTime = time.Now()
		}
		return
	}
	done := time.Now()

	p.results.Store(result)
	p.processed.Add(1)
	p.stats.add(done.Sub(start), done)
	p.trackMisses(result)

	p.obsMu.RLock()
	observers := p.observers
	p.obsMu.RUnlock()
	for _, fn := range observers {
		fn(frame, mask, result)
	}
}

func (p *Perception) trackMisses(result vision.DetectionResult) {
	if result.Found() {
		if p.missLogThreshold > 0 && p.consecutiveMisses >= p.missLogThreshold {
			p.logger.Info("ball reacquired",
				"pixels", result.PixelCount,
				"cx", result.Centroid.X,
				"cy", result.Centroid.Y)
		}
		p.consecutiveMisses = 0
		return
	}
	p.consecutiveMisses++
	if p.consecutiveMisses == p.missLogThreshold {
		p.logger.Info("ball lost", "consecutive_misses", p.consecutiveMisses)
	}
}

// Counts returns the processed and failed frame counts.
func (p *Perception) Counts() (processed, failed uint64) {
	return p.processed.Load(), p.failed.Load()
}

// Latency returns detection latency statistics over the recent window.
func (p *Perception) Latency() LatencyStats {
	return p.stats.summary()
}

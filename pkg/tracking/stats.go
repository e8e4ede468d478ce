package tracking

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// statsWindow is the number of recent detections summarized.
const statsWindow = 100

// LatencyStats summarizes recent detections.
type LatencyStats struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	StdMs   float64 `json:"std_ms"`
	MaxMs   float64 `json:"max_ms"`
	FPS     float64 `json:"fps"` // Detections per second over the window
}

// detectionStats keeps a ring of recent detection latencies and completion
// times.
type detectionStats struct {
	mu      sync.Mutex
	latency []float64 // ms
	done    []time.Time
	next    int
	full    bool
}

func newDetectionStats() *detectionStats {
	return &detectionStats{
		latency: make([]float64, statsWindow),
		done:    make([]time.Time, statsWindow),
	}
}

func (s *detectionStats) add(latency time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[s.next] = float64(latency) / float64(time.Millisecond)
	s.done[s.next] = at
	s.next = (s.next + 1) % statsWindow
	if s.next == 0 {
		s.full = true
	}
}

func (s *detectionStats) summary() LatencyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	oldest := 0
	if s.full {
		n = statsWindow
		oldest = s.next
	}
	if n == 0 {
		return LatencyStats{}
	}

	xs := make([]float64, n)
	copy(xs, s.latency[:n])
	out := LatencyStats{Samples: n}
	if n > 1 {
		out.MeanMs, out.StdMs = stat.MeanStdDev(xs, nil)
	} else {
		out.MeanMs = xs[0]
	}
	for _, x := range xs {
		if x > out.MaxMs {
			out.MaxMs = x
		}
	}

	newest := (s.next - 1 + statsWindow) % statsWindow
	if span := s.done[newest].Sub(s.done[oldest]).Seconds(); n > 1 && span > 0 {
		out.FPS = float64(n-1) / span
	}
	return out
}

package robot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-balltrack/pkg/ingest"
	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// mockPublisher records all commands for testing
type mockPublisher struct {
	mu   sync.Mutex
	cmds []motion.Command
	err  error
}

func (m *mockPublisher) PublishCommand(_ context.Context, cmd motion.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	return m.err
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cmds)
}

func (m *mockPublisher) last() motion.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cmds) == 0 {
		return motion.Command{}
	}
	return m.cmds[len(m.cmds)-1]
}

func newTestController(pub CommandPublisher, rate time.Duration) (*RateController, *ingest.Latest[vision.DetectionResult]) {
	results := &ingest.Latest[vision.DetectionResult]{}
	policy := motion.NewController(motion.DefaultConfig())
	return NewRateController(results, policy, pub, rate, nil), results
}

func TestController_IdleBeforeAnyResult(t *testing.T) {
	mock := &mockPublisher{}
	ctrl, _ := newTestController(mock, 10*time.Millisecond)

	ctrl.tick(context.Background())

	if mock.count() != 1 {
		t.Fatalf("publish count: got %d, want 1", mock.count())
	}
	if !mock.last().IsZero() {
		t.Errorf("idle command: got %+v, want zero", mock.last())
	}
	if ctrl.Last().Regime != motion.Idle {
		t.Errorf("regime: got %v, want idle", ctrl.Last().Regime)
	}
}

func TestController_UsesLatestResult(t *testing.T) {
	mock := &mockPublisher{}
	ctrl, results := newTestController(mock, 10*time.Millisecond)
	cfg := motion.DefaultConfig()

	results.Store(vision.DetectionResult{})
	ctrl.tick(context.Background())
	if got := mock.last(); got.Angular.Z != cfg.SearchRate || got.Linear.X != 0 {
		t.Errorf("search command: got %+v", got)
	}

	results.Store(vision.DetectionResult{PixelCount: 50, Centroid: &vision.Point{X: 250, Y: 40}})
	ctrl.tick(context.Background())
	got := mock.last()
	if !floatEquals(got.Angular.Z, 0.25) {
		t.Errorf("angular.z: got %v, want 0.25", got.Angular.Z)
	}
	if got.Linear.X != cfg.ForwardSpeed {
		t.Errorf("linear.x: got %v, want %v", got.Linear.X, cfg.ForwardSpeed)
	}
	if ctrl.Last().Regime != motion.Approach {
		t.Errorf("regime: got %v, want approach", ctrl.Last().Regime)
	}

	// A stale result keeps producing the same command.
	ctrl.tick(context.Background())
	if mock.last() != got {
		t.Errorf("stale result changed command: %+v vs %+v", mock.last(), got)
	}
}

func TestController_PublishesEveryTickDespiteErrors(t *testing.T) {
	mock := &mockPublisher{err: errors.New("bus down")}
	ctrl, _ := newTestController(mock, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		ctrl.tick(context.Background())
	}

	ticks, errs := ctrl.Stats()
	if ticks != 5 || errs != 5 {
		t.Errorf("stats: got ticks=%d errors=%d, want 5 and 5", ticks, errs)
	}
	if mock.count() != 5 {
		t.Errorf("publish count: got %d, want 5", mock.count())
	}
}

func TestController_RunStop(t *testing.T) {
	mock := &mockPublisher{}
	ctrl, results := newTestController(mock, 5*time.Millisecond)
	results.Store(vision.DetectionResult{PixelCount: 100, Centroid: &vision.Point{X: 10}})

	// Start controller in goroutine
	done := make(chan struct{})
	go func() {
		ctrl.Run(context.Background())
		close(done)
	}()

	// Let it run for a bit
	time.Sleep(50 * time.Millisecond)

	ctrl.Stop()
	ctrl.Stop() // idempotent

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Controller did not stop within timeout")
	}

	if mock.count() < 5 {
		t.Errorf("Expected at least 5 commands, got %d", mock.count())
	}
	if !mock.last().IsZero() {
		t.Errorf("last command after stop: got %+v, want zero", mock.last())
	}
}

func TestController_ContextCancelHalts(t *testing.T) {
	mock := &mockPublisher{}
	ctrl, results := newTestController(mock, 5*time.Millisecond)
	results.Store(vision.DetectionResult{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ctrl.Run(ctx)

	if !mock.last().IsZero() {
		t.Errorf("last command after cancel: got %+v, want zero", mock.last())
	}
	if ctrl.Last().Regime != motion.Idle {
		t.Errorf("regime after halt: got %v, want idle", ctrl.Last().Regime)
	}
}

func TestController_Rate(t *testing.T) {
	mock := &mockPublisher{}
	ctrl, _ := newTestController(mock, 10*time.Millisecond) // 100Hz

	go ctrl.Run(context.Background())

	time.Sleep(100 * time.Millisecond)
	ctrl.Stop()
	time.Sleep(5 * time.Millisecond)

	// ~10 ticks plus the stop command, with some tolerance
	count := mock.count()
	if count < 7 || count > 16 {
		t.Errorf("Expected ~11 commands at 100Hz over 100ms, got %d", count)
	}
}

func TestController_NilPublisher(t *testing.T) {
	ctrl, _ := newTestController(nil, 10*time.Millisecond)

	// Should not panic with nil publisher
	ctrl.tick(context.Background())
	ctrl.halt()
}

func TestController_DefaultRate(t *testing.T) {
	ctrl := NewRateController(nil, nil, nil, 0, nil)
	if ctrl.Rate() != DefaultRate {
		t.Errorf("Rate: got %v, want %v", ctrl.Rate(), DefaultRate)
	}
	// nil source and policy behave like idle
	ctrl.tick(context.Background())
	if ctrl.Last().Regime != motion.Idle {
		t.Errorf("regime: got %v, want idle", ctrl.Last().Regime)
	}
}

func TestPublisherFunc(t *testing.T) {
	var got motion.Command
	pub := PublisherFunc(func(_ context.Context, cmd motion.Command) error {
		got = cmd
		return nil
	})
	want := motion.Command{Linear: motion.Vector3{X: 1}}
	if err := pub.PublishCommand(context.Background(), want); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if err := (LogPublisher{}).PublishCommand(context.Background(), want); err != nil {
		t.Errorf("LogPublisher: %v", err)
	}
}

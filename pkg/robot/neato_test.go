package robot

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/teslashibe/go-balltrack/pkg/motion"
)

// mockPort is an in-memory serial port.
type mockPort struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	writeErr error
}

func (p *mockPort) Read(b []byte) (int, error) { return 0, nil }

func (p *mockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *mockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *mockPort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Split(strings.TrimSpace(p.buf.String()), "\n")
}

func TestWheelSpeeds(t *testing.T) {
	tests := []struct {
		name        string
		cmd         motion.Command
		left, right float64
	}{
		{"stopped", motion.Zero(), 0, 0},
		{"straight", motion.Command{Linear: motion.Vector3{X: 0.2}}, 0.2, 0.2},
		{"spin left", motion.Command{Angular: motion.Vector3{Z: 1}}, -0.124, 0.124},
		{"clamped straight", motion.Command{Linear: motion.Vector3{X: 1}}, 0.3, 0.3},
		{"clamped arc", motion.Command{Linear: motion.Vector3{X: 0.6}, Angular: motion.Vector3{Z: 2}}, 0.3 * 0.352 / 0.848, 0.3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, r := WheelSpeeds(tc.cmd, NeatoWheelBase, NeatoMaxSpeed)
			if !floatEquals(l, tc.left) || !floatEquals(r, tc.right) {
				t.Errorf("got (%v, %v), want (%v, %v)", l, r, tc.left, tc.right)
			}
		})
	}
}

func TestSetMotorLine(t *testing.T) {
	if got := setMotorLine(0.1, -0.25); got != "SetMotor LWheelDist 100 RWheelDist -250 Speed 250" {
		t.Errorf("got %q", got)
	}
	if got := setMotorLine(0, 0); got != "SetMotor LWheelDist 0 RWheelDist 0 Speed 0" {
		t.Errorf("got %q", got)
	}
}

func TestNeatoDriver_Lifecycle(t *testing.T) {
	port := &mockPort{}
	d, err := NewNeatoDriver(port, NeatoConfig{Port: "mock"}, nil)
	if err != nil {
		t.Fatalf("NewNeatoDriver: %v", err)
	}

	cmd := motion.Command{Linear: motion.Vector3{X: 0.1}, Angular: motion.Vector3{Z: 0.5}}
	if err := d.PublishCommand(context.Background(), cmd); err != nil {
		t.Fatalf("PublishCommand: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{
		"TestMode On",
		"SetMotor LWheelDist 38 RWheelDist 162 Speed 162",
		"SetMotor LWheelDist 0 RWheelDist 0 Speed 0",
		"TestMode Off",
	}
	got := port.lines()
	if len(got) != len(want) {
		t.Fatalf("lines: got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if !port.closed {
		t.Error("port should be closed")
	}

	if err := d.PublishCommand(context.Background(), cmd); err == nil {
		t.Error("PublishCommand after Close should fail")
	}
}

func TestNeatoDriver_WriteError(t *testing.T) {
	port := &mockPort{writeErr: errors.New("unplugged")}
	if _, err := NewNeatoDriver(port, NeatoConfig{Port: "mock"}, nil); err == nil {
		t.Fatal("expected error when test mode cannot be enabled")
	}
	if !port.closed {
		t.Error("port should be closed after failed init")
	}
}

func TestNeatoConfig_Validate(t *testing.T) {
	cfg := DefaultNeatoConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty port should be rejected")
	}
	cfg = DefaultNeatoConfig()
	cfg.MaxSpeed = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max speed should be rejected")
	}
}

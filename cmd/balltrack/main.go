// balltrack drives a robot base toward a colored ball seen by its camera.
//
// Frames arrive over rosbridge, MQTT or the robot's WebRTC stream; velocity
// commands go back over the same link, straight to a Neato over serial, or to
// the log for a dry run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/teslashibe/go-balltrack/internal/config"
	"github.com/teslashibe/go-balltrack/internal/log"
)

// OpenCV's HighGUI expects the main OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	transport := flag.String("transport", "", "Frame transport: rosbridge, mqtt, webrtc, none (overrides config)")
	drive := flag.String("drive", "", "Command sink: bus, neato, log (overrides config)")
	backend := flag.String("backend", "", "Detector backend: scan, opencv (overrides config)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	dashboard := flag.Bool("dashboard", false, "Serve the web dashboard")
	view := flag.Bool("view", false, "Show OpenCV video and threshold windows")
	flag.Parse()

	cfg, err := loadConfig(*configPath, func(c *config.Config) {
		if *transport != "" {
			c.Transport.Kind = *transport
		}
		if *drive != "" {
			c.Transport.Drive = *drive
		}
		if *backend != "" {
			c.Tracker.Backend = *backend
		}
		if *debug {
			c.LogLevel = "debug"
		}
		if *dashboard {
			c.Dashboard.Enabled = true
		}
		if *view {
			c.Viewer.Enabled = true
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		log.Error("tracker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer app.Close()
	return app.Run(ctx, cancel)
}

// loadConfig loads the file, applies flag overrides, then validates.
func loadConfig(path string, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}
	override(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

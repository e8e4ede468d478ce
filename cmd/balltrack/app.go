package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-balltrack/internal/config"
	"github.com/teslashibe/go-balltrack/internal/log"
	"github.com/teslashibe/go-balltrack/pkg/bus/mqtt"
	"github.com/teslashibe/go-balltrack/pkg/bus/rosbridge"
	"github.com/teslashibe/go-balltrack/pkg/robot"
	"github.com/teslashibe/go-balltrack/pkg/tracking"
	"github.com/teslashibe/go-balltrack/pkg/tracking/detection"
	"github.com/teslashibe/go-balltrack/pkg/video"
	"github.com/teslashibe/go-balltrack/pkg/vision"
	"github.com/teslashibe/go-balltrack/pkg/vision/cvbridge"
	"github.com/teslashibe/go-balltrack/pkg/web"
)

// frameSource delivers camera frames to a sink until ctx is done.
type frameSource interface {
	Run(ctx context.Context, sink func(*vision.Frame)) error
}

// app holds the wired components. Close releases them in reverse order.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	source  frameSource // nil when Transport.Kind is none
	tracker *tracking.Tracker
	dash    *web.Server
	viewer  *cvbridge.Viewer

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log.Component("balltrack")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	det, err := detection.New(cfg.Tracker.Backend)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, det.Close)

	decode := vision.Decode
	if cfg.Tracker.Backend == config.BackendOpenCV {
		decode = cvbridge.DecodeImage
	}

	busPub, err := a.connectTransport(ctx, decode)
	if err != nil {
		return nil, err
	}

	pub, err := a.openDrive(busPub)
	if err != nil {
		return nil, err
	}

	rng, err := cfg.Tracker.ColorRange()
	if err != nil {
		return nil, err
	}
	tcfg := tracking.DefaultConfig()
	tcfg.Range = rng
	tcfg.Motion = cfg.Tracker.Motion
	tcfg.ControlRate = cfg.Tracker.ControlPeriod()

	a.tracker, err = tracking.New(tcfg, det, pub, log.Component("tracker"))
	if err != nil {
		return nil, err
	}

	if cfg.Dashboard.Enabled {
		opts := web.Options{Port: cfg.Dashboard.Port, Config: cfg}
		if cfg.Tracker.Backend == config.BackendOpenCV {
			opts.EncodeFrame = cvbridge.EncodeJPEG
			opts.EncodeMask = cvbridge.EncodeMaskJPEG
		}
		a.dash = web.NewServer(a.tracker, opts, log.Component("web"))
		a.tracker.OnDetection(a.dash.Observe)
	}
	if cfg.Viewer.Enabled {
		a.viewer = cvbridge.NewViewer(log.Component("viewer"))
		a.tracker.OnDetection(a.viewer.Observe)
	}
	return a, nil
}

// connectTransport opens the frame link and returns it as a command
// publisher when it can carry commands back.
func (a *app) connectTransport(ctx context.Context, decode vision.DecodeFunc) (robot.CommandPublisher, error) {
	t := a.cfg.Transport
	switch t.Kind {
	case config.TransportRosbridge:
		c, err := rosbridge.ConnectWithRetry(ctx, rosbridge.Config{
			URL:          t.Rosbridge.URL,
			ImageTopic:   t.Rosbridge.ImageTopic,
			ImageType:    t.Rosbridge.ImageType,
			CommandTopic: t.Rosbridge.CommandTopic,
			ThrottleMs:   t.Rosbridge.ThrottleMs,
			Decode:       decode,
		}, log.Component("rosbridge"))
		if err != nil {
			return nil, err
		}
		a.source = c
		a.closers = append(a.closers, c.Close)
		return c, nil

	case config.TransportMQTT:
		c := mqtt.New(mqtt.Config{
			Broker:       t.MQTT.Broker,
			ClientID:     t.MQTT.ClientID,
			FrameTopic:   t.MQTT.FrameTopic,
			CommandTopic: t.MQTT.CommandTopic,
			QoS:          t.MQTT.QoS,
			Decode:       decode,
		}, log.Component("mqtt"))
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		a.source = c
		a.closers = append(a.closers, c.Close)
		return c, nil

	case config.TransportWebRTC:
		c := video.NewClient(video.Config{
			SignalingURL: t.WebRTC.SignalingURL(),
			FPS:          t.WebRTC.FPS,
			Decode:       decode,
		}, log.Component("video"))
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		a.source = c
		return nil, nil

	case config.TransportNone:
		a.logger.Warn("no frame transport, the base will only idle")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

// openDrive selects where velocity commands go.
func (a *app) openDrive(busPub robot.CommandPublisher) (robot.CommandPublisher, error) {
	switch a.cfg.Transport.Drive {
	case config.DriveBus:
		if busPub == nil {
			return nil, fmt.Errorf("transport %q cannot carry commands", a.cfg.Transport.Kind)
		}
		return busPub, nil

	case config.DriveNeato:
		d, err := robot.OpenNeato(a.cfg.Transport.Neato, log.Component("neato"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		return d, nil

	case config.DriveLog:
		return robot.LogPublisher{Logger: log.Component("drive")}, nil

	default:
		return nil, fmt.Errorf("unknown drive %q", a.cfg.Transport.Drive)
	}
}

// Run starts every component and blocks until ctx is done, the frame source
// fails or the viewer is closed. It returns after the base has been sent the
// stop command.
func (a *app) Run(ctx context.Context, cancel context.CancelFunc) error {
	var wg sync.WaitGroup

	if a.source != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.source.Run(ctx, a.tracker.OnFrame); err != nil && ctx.Err() == nil {
				a.logger.Error("frame source failed, shutting down", "error", err)
				cancel()
			}
		}()
	}

	if a.dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.dash.Start(ctx); err != nil {
				a.logger.Warn("web dashboard stopped", "error", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- a.tracker.Run(ctx) }()

	// OpenCV windows must be driven from the main goroutine.
	if a.viewer != nil {
		a.viewer.Run(ctx)
		cancel()
	}

	err := <-done
	wg.Wait()

	snap := a.tracker.Snapshot()
	a.logger.Info("session summary",
		"frames", snap.Frames.Received,
		"processed", snap.Processed,
		"failed", snap.Failed,
		"ticks", snap.Ticks,
		"publish_errors", snap.PubErrors,
		"latency_ms", snap.Latency.MeanMs,
	)
	return err
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
	a.closers = nil
}

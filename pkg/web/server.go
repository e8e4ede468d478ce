// Package web provides a real-time dashboard for the ball tracker
package web

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-balltrack/pkg/hub"
	"github.com/teslashibe/go-balltrack/pkg/ingest"
	"github.com/teslashibe/go-balltrack/pkg/tracking"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

//go:embed index.html
var indexHTML []byte

const (
	// DefaultFPS caps the camera and mask streams.
	DefaultFPS = 10

	// statusPeriod is how often status is pushed to /ws/status.
	statusPeriod = 500 * time.Millisecond
)

// StatusSource provides the tracker state. *tracking.Tracker implements it.
type StatusSource interface {
	Snapshot() tracking.Snapshot
}

// FrameEncoder encodes a frame for the camera stream.
type FrameEncoder func(*vision.Frame) ([]byte, error)

// MaskEncoder encodes a mask for the threshold stream.
type MaskEncoder func(*vision.Mask) ([]byte, error)

// Options configures a Server. Zero values select defaults.
type Options struct {
	Port        int
	FPS         int
	Config      any // Served read-only at /api/config
	EncodeFrame FrameEncoder
	EncodeMask  MaskEncoder
}

// view is one observed detection, handed from the detection goroutine to
// the stream loop.
type view struct {
	seq    uint64
	frame  *vision.Frame
	mask   *vision.Mask
	result vision.DetectionResult
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	port   int
	fps    int
	config any
	logger *slog.Logger

	status StatusSource

	// Latest detection, replaced wholesale
	latest  ingest.Latest[view]
	seq     atomic.Uint64
	encFrm  FrameEncoder
	encMask MaskEncoder

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	cameraHub *hub.Hub
	maskHub   *hub.Hub
}

// NewServer creates a new web dashboard server
func NewServer(status StatusSource, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.EncodeFrame == nil {
		opts.EncodeFrame = EncodeFrameJPEG
	}
	if opts.EncodeMask == nil {
		opts.EncodeMask = EncodeMaskJPEG
	}

	s := &Server{
		port:      opts.Port,
		fps:       opts.FPS,
		config:    opts.Config,
		logger:    logger,
		status:    status,
		encFrm:    opts.EncodeFrame,
		encMask:   opts.EncodeMask,
		statusHub: hub.New("status", logger),
		cameraHub: hub.New("camera", logger),
		maskHub:   hub.New("mask", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Ball Tracker Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/", s.handleIndex)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleConfig)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleStreamWS(s.cameraHub)))
	app.Get("/ws/mask", websocket.New(s.handleStreamWS(s.maskHub)))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Observe records a processed frame for streaming. It matches
// tracking.Observer and returns immediately; encoding happens on the stream
// loop at the capped rate.
func (s *Server) Observe(frame *vision.Frame, mask *vision.Mask, result vision.DetectionResult) {
	s.latest.Store(view{seq: s.seq.Add(1), frame: frame, mask: mask, result: result})
}

// Start runs the hubs, the stream loops and the HTTP listener. It blocks
// until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.maskHub.Run(ctx)
	go s.streamLoop(ctx)
	go s.statusLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web dashboard listening", "url", fmt.Sprintf("http://localhost:%d", s.port))
		errCh <- s.app.Listen(fmt.Sprintf(":%d", s.port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(2 * time.Second)
}

// streamLoop encodes the newest observed frame at most fps times a second,
// only when someone is watching.
func (s *Server) streamLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := s.latest.Load()
			if v == nil || v.seq == sent {
				continue
			}
			sent = v.seq
			s.publishView(v)
		}
	}
}

func (s *Server) publishView(v *view) {
	if s.cameraHub.ClientCount() > 0 && v.frame != nil {
		if data, err := s.encFrm(v.frame); err != nil {
			s.logger.Debug("camera encode failed", "error", err)
		} else {
			s.cameraHub.BroadcastBinary(data)
		}
	}
	if s.maskHub.ClientCount() > 0 && v.mask != nil {
		if data, err := s.encMask(v.mask); err != nil {
			s.logger.Debug("mask encode failed", "error", err)
		} else {
			s.maskHub.BroadcastBinary(data)
		}
	}
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.status == nil || s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.status.Snapshot()); err != nil {
				s.logger.Warn("status encode failed", "error", err)
			}
		}
	}
}

// EncodeFrameJPEG encodes a frame with image/jpeg.
func EncodeFrameJPEG(f *vision.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.RGBA(), &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeMaskJPEG encodes a mask as a grayscale JPEG.
func EncodeMaskJPEG(m *vision.Mask) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, m.Gray(), &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

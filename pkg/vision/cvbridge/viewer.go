package cvbridge

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-balltrack/pkg/ingest"
	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Window names.
const (
	VideoWindow     = "video"
	ThresholdWindow = "threshold"
)

type view struct {
	frame  *vision.Frame
	mask   *vision.Mask
	result vision.DetectionResult
}

// Viewer shows the latest camera frame and its threshold mask in two OpenCV
// windows. Observe may be called from any goroutine; Run must own the
// windows, so call it from the main goroutine.
type Viewer struct {
	latest ingest.Latest[view]
	logger *slog.Logger
}

// NewViewer creates a viewer. A nil logger uses slog.Default().
func NewViewer(logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{logger: logger}
}

// Observe records a processed frame for display.
func (v *Viewer) Observe(frame *vision.Frame, mask *vision.Mask, result vision.DetectionResult) {
	if frame == nil {
		return
	}
	v.latest.Store(view{frame: frame, mask: mask, result: result})
}

// Run refreshes the windows until ctx is done or the user presses q / Esc.
func (v *Viewer) Run(ctx context.Context) {
	video := gocv.NewWindow(VideoWindow)
	defer video.Close()
	threshold := gocv.NewWindow(ThresholdWindow)
	defer threshold.Close()

	v.logger.Info("viewer started", "windows", []string{VideoWindow, ThresholdWindow})

	var shown *view
	for ctx.Err() == nil {
		if cur := v.latest.Load(); cur != nil && cur != shown {
			shown = cur
			v.show(video, threshold, cur)
		}
		// WaitKey also pumps the GUI event loop.
		if key := video.WaitKey(5); key == 'q' || key == 27 {
			v.logger.Info("viewer closed by user")
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func (v *Viewer) show(video, threshold *gocv.Window, cur *view) {
	img, err := MatFromFrame(cur.frame)
	if err != nil {
		v.logger.Debug("viewer skipped frame", "error", err)
		return
	}
	defer img.Close()

	if c := cur.result.Centroid; c != nil {
		pt := image.Pt(int(c.X+0.5), int(c.Y+0.5))
		gocv.Circle(&img, pt, 6, color.RGBA{G: 255, A: 255}, 2)
	}
	video.IMShow(img)

	if cur.mask == nil {
		return
	}
	mask, err := MatFromMask(cur.mask)
	if err != nil {
		return
	}
	defer mask.Close()
	threshold.IMShow(mask)
}

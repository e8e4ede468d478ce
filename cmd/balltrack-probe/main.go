// balltrack-probe runs the ball detector and control policy on one image file
// and prints what the tracker would do. Useful for tuning the color range.
//
// Usage:
//
//	balltrack-probe -lower 0,0,60 -upper 50,50,255 -mask mask.jpg frame.jpg
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/teslashibe/go-balltrack/internal/config"
	"github.com/teslashibe/go-balltrack/internal/log"
	"github.com/teslashibe/go-balltrack/pkg/motion"
	"github.com/teslashibe/go-balltrack/pkg/tracking/detection"
	"github.com/teslashibe/go-balltrack/pkg/vision"
	"github.com/teslashibe/go-balltrack/pkg/vision/cvbridge"
)

type report struct {
	Image   string                 `json:"image"`
	Width   int                    `json:"width"`
	Height  int                    `json:"height"`
	Backend string                 `json:"backend"`
	Result  vision.DetectionResult `json:"result"`
	Regime  motion.Regime          `json:"regime"`
	Command motion.Command         `json:"command"`
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (range and motion settings)")
	preset := flag.String("preset", "", "Named color range: red, green, blue, yellow, orange")
	lower := flag.String("lower", "", "Lower BGR bound, e.g. 0,0,60")
	upper := flag.String("upper", "", "Upper BGR bound, e.g. 50,50,255")
	threshold := flag.Int("threshold", 0, "Pixel threshold (0 = config value)")
	backend := flag.String("backend", "", "Detector backend: scan, opencv")
	maskOut := flag.String("mask", "", "Write the threshold mask as JPEG to this path")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: balltrack-probe [flags] IMAGE")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *debug {
		log.Init("debug")
	} else {
		log.Init("warn")
	}

	cfg, err := config.Read(*configPath)
	if err != nil {
		fatal(err)
	}
	if *preset != "" {
		cfg.Tracker.Preset = *preset
	}
	if *lower != "" || *upper != "" {
		cfg.Tracker.Preset = ""
	}
	if *lower != "" {
		if cfg.Tracker.Range.Lower, err = parseTriple(*lower); err != nil {
			fatal(fmt.Errorf("-lower: %w", err))
		}
	}
	if *upper != "" {
		if cfg.Tracker.Range.Upper, err = parseTriple(*upper); err != nil {
			fatal(fmt.Errorf("-upper: %w", err))
		}
	}
	if *threshold > 0 {
		cfg.Tracker.Motion.PixelThreshold = *threshold
	}
	if *backend != "" {
		cfg.Tracker.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	rng, err := cfg.Tracker.ColorRange()
	if err != nil {
		fatal(err)
	}

	det, err := detection.New(cfg.Tracker.Backend)
	if err != nil {
		fatal(err)
	}
	defer det.Close()

	path := flag.Arg(0)
	frame, err := cvbridge.LoadImage(path)
	if err != nil {
		fatal(err)
	}

	result, mask, err := det.Detect(frame, rng)
	if err != nil {
		fatal(err)
	}
	cmd, regime := motion.NewController(cfg.Tracker.Motion).Step(&result)

	if *maskOut != "" {
		data, err := cvbridge.EncodeMaskJPEG(mask)
		if err != nil {
			fatal(err)
		}
		if err := os.WriteFile(*maskOut, data, 0o644); err != nil {
			fatal(err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{
		Image:   path,
		Width:   frame.Width,
		Height:  frame.Height,
		Backend: detection.Name(det),
		Result:  result,
		Regime:  regime,
		Command: cmd,
	}); err != nil {
		fatal(err)
	}
}

// parseTriple parses "b,g,r".
func parseTriple(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("want 3 comma separated values, got %q", s)
	}
	out := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "balltrack-probe: %v\n", err)
	os.Exit(1)
}

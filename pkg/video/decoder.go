package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxJPEGSize bounds one MJPEG frame from ffmpeg.
const maxJPEGSize = 8 << 20

// warmupFrames bounds how many leading frames may be dropped as decoder
// warm-up output. The filter is off once a real frame has been seen.
const warmupFrames = 30

// Decoder uses a persistent ffmpeg process with pipe I/O for H264 decoding.
// Annex-B NAL units go in through Write; ffmpeg emits an MJPEG stream at the
// configured rate, which Run splits and decodes into frames.
type Decoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	decode vision.DecodeFunc
	logger *slog.Logger

	mu     sync.Mutex // serializes writes to stdin
	closed bool
}

// StartDecoder launches ffmpeg. fps caps the output frame rate.
func StartDecoder(ctx context.Context, fps int, decode vision.DecodeFunc, logger *slog.Logger) (*Decoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if decode == nil {
		decode = vision.Decode
	}
	if fps <= 0 {
		fps = 10
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "h264", // Input format
		"-i", "pipe:0", // Read from stdin
		"-r", strconv.Itoa(fps),
		"-f", "image2pipe", // Output as pipe
		"-vcodec", "mjpeg", // Output as JPEG
		"-q:v", "3", // Quality (1-31, lower is better)
		"pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	logger.Info("h264 decoder started", "pid", cmd.Process.Pid, "fps", fps)

	return &Decoder{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		decode: decode,
		logger: logger,
	}, nil
}

// Write feeds Annex-B NAL units to ffmpeg.
func (d *Decoder) Write(nal []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return io.ErrClosedPipe
	}
	_, err := d.stdin.Write(nal)
	return err
}

// Run reads decoded frames until ffmpeg exits, skipping blank warm-up frames.
func (d *Decoder) Run(sink func(*vision.Frame)) error {
	return readJPEGStream(d.stdout, d.decode, sink, d.logger)
}

// Close terminates the decoder.
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stdin.Close()
	d.mu.Unlock()

	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	return nil
}

func readJPEGStream(r io.Reader, decode vision.DecodeFunc, sink func(*vision.Frame), logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256<<10), maxJPEGSize)
	sc.Split(splitJPEG)

	warmup := warmupFrames
	for sc.Scan() {
		frame, err := decode(sc.Bytes())
		if err != nil || frame == nil {
			logger.Debug("skipping undecodable frame", "error", err)
			continue
		}
		if warmup > 0 {
			if isBlankFrame(frame) {
				warmup--
				continue
			}
			// A dark room is a valid scene once the decoder has produced
			// real output.
			warmup = 0
		}
		sink(frame)
	}
	return sc.Err()
}

// splitJPEG is a bufio.SplitFunc yielding complete JPEG images from an MJPEG
// byte stream. Bytes before a start-of-image marker are discarded.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin a marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// isBlankFrame reports frames that are almost certainly decoder warm-up
// output: uniformly dark, or flat mid-gray.
func isBlankFrame(f *vision.Frame) bool {
	if f == nil || f.Width < 10 || f.Height < 10 {
		return true
	}

	// Sample pixels to check variance
	var rSum, gSum, bSum, samples int
	for y := 0; y < f.Height; y += f.Height / 10 {
		for x := 0; x < f.Width; x += f.Width / 10 {
			px := f.At(x, y)
			rSum += int(px.R)
			gSum += int(px.G)
			bSum += int(px.B)
			samples++
		}
	}

	avgR := rSum / samples
	avgG := gSum / samples
	avgB := bSum / samples

	// Gray frames have R ≈ G ≈ B with low values
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}

	// Check for uniform gray (R = G = B)
	colorDiff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return colorDiff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

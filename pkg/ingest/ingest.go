// Package ingest holds the latest camera frame and the latest detection
// result for the tracking pipeline.
//
// Both hand-offs are "latest value only": a new value replaces the old one
// wholesale, nothing is queued, and superseded frames are simply dropped.
// Readers always see a complete value because values are swapped by pointer.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-balltrack/pkg/vision"
)

// Latest is a single-slot, overwrite-on-store value shared between one
// writer and any number of readers.
type Latest[T any] struct {
	v atomic.Pointer[T]
}

// Store replaces the current value.
func (l *Latest[T]) Store(v T) {
	l.v.Store(&v)
}

// Load returns a pointer to the current value, or nil before the first Store.
// The pointee is never modified after Store.
func (l *Latest[T]) Load() *T {
	return l.v.Load()
}

type entry struct {
	frame *vision.Frame

	// Set once, either by Next handing the frame out or by OnFrame
	// replacing it unseen. Whoever sets it owns the count.
	taken atomic.Bool
}

// Stats is a snapshot of ingest counters. Every received frame is counted
// exactly once as consumed or superseded, except the latest one while it is
// still waiting for Next.
type Stats struct {
	Received   uint64    `json:"received"`   // Frames passed to OnFrame
	Consumed   uint64    `json:"consumed"`   // Frames returned by Next
	Superseded uint64    `json:"superseded"` // Frames replaced before Next picked them up
	LastFrame  time.Time `json:"last_frame"` // Arrival time of the latest frame
}

// FrameIngest owns the most recently received frame.
//
// OnFrame may be called from any transport goroutine. Next is meant for a
// single consumer (the detection loop).
type FrameIngest struct {
	latest atomic.Pointer[entry]
	notify chan struct{} // Capacity 1, overwritten never queued

	seq        atomic.Uint64 // Frames received
	nConsumed  atomic.Uint64
	superseded atomic.Uint64
	lastFrame  atomic.Int64 // UnixNano
}

// New creates an empty FrameIngest.
func New() *FrameIngest {
	return &FrameIngest{
		notify: make(chan struct{}, 1),
	}
}

// OnFrame stores frame as the latest, unconditionally replacing any previous one.
// The caller must not modify frame afterwards.
func (in *FrameIngest) OnFrame(frame *vision.Frame) {
	if frame == nil {
		return
	}
	now := time.Now()
	if frame.Stamp.IsZero() {
		frame.Stamp = now
	}

	in.seq.Add(1)
	e := &entry{frame: frame}
	prev := in.latest.Swap(e)
	in.lastFrame.Store(now.UnixNano())

	if prev != nil && prev.taken.CompareAndSwap(false, true) {
		in.superseded.Add(1)
	}

	// Wake the consumer; if a wake-up is already pending it covers this frame too.
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// Latest returns the current frame, or false before the first arrival.
func (in *FrameIngest) Latest() (*vision.Frame, bool) {
	e := in.latest.Load()
	if e == nil {
		return nil, false
	}
	return e.frame, true
}

// Next blocks until a frame newer than the last one returned is available,
// then returns it. Frames that arrive while the consumer is busy are skipped
// in favor of the newest.
func (in *FrameIngest) Next(ctx context.Context) (*vision.Frame, error) {
	for {
		if e := in.latest.Load(); e != nil && e.taken.CompareAndSwap(false, true) {
			in.nConsumed.Add(1)
			return e.frame, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-in.notify:
		}
	}
}

// Stats returns the current counters.
func (in *FrameIngest) Stats() Stats {
	s := Stats{
		Received:   in.seq.Load(),
		Consumed:   in.nConsumed.Load(),
		Superseded: in.superseded.Load(),
	}
	if ns := in.lastFrame.Load(); ns != 0 {
		s.LastFrame = time.Unix(0, ns)
	}
	return s
}

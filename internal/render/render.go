// Package render holds the sinks decoded pictures are presented to.
package render

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Sink receives one planar I420 picture per call. The plane slices are
// only valid for the duration of the call. A Sink may be called up to
// media.FramesPerTick times per redraw tick.
type Sink interface {
	UploadPlanes(y, u, v []byte, width, height int) error
}

// Func adapts a function to Sink.
type Func func(y, u, v []byte, width, height int) error

// UploadPlanes calls f.
func (f Func) UploadPlanes(y, u, v []byte, width, height int) error {
	return f(y, u, v, width, height)
}

// Discard counts pictures and throws them away.
type Discard struct {
	frames atomic.Int64
	width  atomic.Int64
	height atomic.Int64
}

// UploadPlanes records the picture size.
func (d *Discard) UploadPlanes(_, _, _ []byte, width, height int) error {
	d.frames.Add(1)
	d.width.Store(int64(width))
	d.height.Store(int64(height))
	return nil
}

// Frames returns how many pictures were uploaded.
func (d *Discard) Frames() int64 {
	return d.frames.Load()
}

// LastSize returns the dimensions of the most recent picture.
func (d *Discard) LastSize() (width, height int) {
	return int(d.width.Load()), int(d.height.Load())
}

// Raw writes pictures back to back as planar yuv420p, the format ffplay
// reads with -f rawvideo -pixel_format yuv420p -video_size WxH. A size
// change is written as is; the reader has to be restarted with the new
// size.
type Raw struct {
	mu     sync.Mutex
	w      *bufio.Writer
	frames int64
	width  int
	height int
}

// NewRaw creates a Raw sink writing to w.
func NewRaw(w io.Writer) *Raw {
	return &Raw{w: bufio.NewWriterSize(w, 1<<20)}
}

// UploadPlanes writes the three planes and flushes.
func (r *Raw) UploadPlanes(y, u, v []byte, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, plane := range [][]byte{y, u, v} {
		if _, err := r.w.Write(plane); err != nil {
			return fmt.Errorf("render: write plane: %w", err)
		}
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("render: flush: %w", err)
	}
	r.frames++
	r.width, r.height = width, height
	return nil
}

// Frames returns how many pictures were written.
func (r *Raw) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// LastSize returns the dimensions of the most recent picture.
func (r *Raw) LastSize() (width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Package present paces decoded pictures onto a render sink. The
// Scheduler owns the bounded presentation queue; a redraw driver calls
// Tick once per display refresh.
package present

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/metrics"
	"github.com/zsiec/lens/internal/render"
)

// Scheduler buffers decoded frames between the decoder and the sink.
// All methods are safe for concurrent use.
type Scheduler struct {
	log *slog.Logger

	mu       sync.Mutex
	queue    []media.DecodedFrame
	layout   media.PlaneLayout
	sink     render.Sink
	active   bool
	onFirst  func()
	rendered int64
	dropped  int64

	depth atomic.Int64
}

// New creates an inactive Scheduler. If log is nil, slog.Default() is
// used.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:   log.With("component", "present"),
		queue: make([]media.DecodedFrame, 0, media.QueueCapacity),
	}
}

// Activate starts accepting frames for sink. onFirstFrame, if not nil,
// runs once after the first frame is presented.
func (s *Scheduler) Activate(sink render.Sink, onFirstFrame func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.onFirst = onFirstFrame
	s.active = true
	s.layout = media.PlaneLayout{}
	s.clearLocked()
}

// Deactivate clears the queue and stops presenting. When it returns no
// further frame reaches the sink until the next Activate.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.queue); n > 0 {
		metrics.FramesDroppedTotal.WithLabelValues(metrics.ReasonStopped).Add(float64(n))
		s.dropped += int64(n)
	}
	s.active = false
	s.sink = nil
	s.onFirst = nil
	s.clearLocked()
}

func (s *Scheduler) clearLocked() {
	clear(s.queue)
	s.queue = s.queue[:0]
	s.setDepthLocked()
}

func (s *Scheduler) setDepthLocked() {
	s.depth.Store(int64(len(s.queue)))
	metrics.PresentationQueueDepth.Set(float64(len(s.queue)))
}

// Push appends a frame. It reports false if the scheduler is inactive or
// the queue is at capacity; the frame is dropped.
func (s *Scheduler) Push(f media.DecodedFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		s.dropped++
		metrics.FramesDroppedTotal.WithLabelValues(metrics.ReasonStopped).Inc()
		return false
	}
	if len(s.queue) >= media.QueueCapacity {
		s.dropped++
		metrics.FramesDroppedTotal.WithLabelValues(metrics.ReasonQueueFull).Inc()
		s.log.Debug("presentation queue full, frame dropped", "pts", f.PTS)
		return false
	}
	s.queue = append(s.queue, f)
	s.setDepthLocked()
	return true
}

// ApplyParams replaces the picture dimensions and plane lengths as one
// step.
func (s *Scheduler) ApplyParams(p media.ParamUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(p.Width, p.Height)
}

func (s *Scheduler) applyLocked(w, h int) {
	if w == s.layout.Width && h == s.layout.Height {
		return
	}
	s.layout = media.NewPlaneLayout(w, h)
	s.log.Info("plane layout changed", "width", w, "height", h,
		"yLength", s.layout.YLength, "uvLength", s.layout.UVLength)
}

// Tick presents up to media.FramesPerTick queued frames and returns how
// many reached the sink.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	if !s.active || len(s.queue) == 0 {
		s.mu.Unlock()
		return 0
	}

	k := min(media.FramesPerTick, len(s.queue))
	n := 0
	for _, f := range s.queue[:k] {
		if s.present(f) {
			n++
		}
	}
	rest := copy(s.queue, s.queue[k:])
	clear(s.queue[rest:])
	s.queue = s.queue[:rest]
	s.setDepthLocked()

	var hook func()
	if n > 0 && s.onFirst != nil {
		hook, s.onFirst = s.onFirst, nil
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return n
}

// present uploads one frame. The frame's own dimensions, when known,
// take effect before its planes are sliced.
func (s *Scheduler) present(f media.DecodedFrame) bool {
	if f.Width > 0 && f.Height > 0 {
		s.applyLocked(f.Width, f.Height)
	}
	if !s.layout.Valid() {
		s.drop(metrics.ReasonNoDimensions, f)
		return false
	}
	y, u, v, ok := s.layout.Split(f.Data)
	if !ok {
		s.drop(metrics.ReasonShortBuffer, f)
		return false
	}
	if err := s.sink.UploadPlanes(y, u, v, s.layout.Width, s.layout.Height); err != nil {
		s.drop(metrics.ReasonSinkError, f)
		s.log.Warn("render failed", "pts", f.PTS, "error", err)
		return false
	}
	s.rendered++
	metrics.FramesRenderedTotal.Inc()
	return true
}

func (s *Scheduler) drop(reason string, f media.DecodedFrame) {
	s.dropped++
	metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
	s.log.Debug("frame dropped", "reason", reason, "pts", f.PTS, "size", len(f.Data))
}

// CurrentDimensions returns the layout frames are currently sliced with.
func (s *Scheduler) CurrentDimensions() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout.Width, s.layout.Height
}

// Depth returns the number of queued frames without taking the lock.
func (s *Scheduler) Depth() int {
	return int(s.depth.Load())
}

// Stats reports presentation counters.
type Stats struct {
	Rendered int64 `json:"rendered"`
	Dropped  int64 `json:"dropped"`
	Depth    int   `json:"depth"`
}

// Stats returns a snapshot of presentation counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Rendered: s.rendered, Dropped: s.dropped, Depth: len(s.queue)}
}

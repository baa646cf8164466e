package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/metrics"
)

const (
	mailboxSize = 2 * media.QueueCapacity
	eventBuffer = 2 * media.QueueCapacity
)

// ErrStopped is returned by mailbox sends once Run has returned.
var ErrStopped = errors.New("decode: orchestrator stopped")

// ErrNoHandle is wrapped in an InitError when the engine returns a zero
// handle without an error.
var ErrNoHandle = errors.New("engine returned no handle")

// EventKind identifies what an Event carries.
type EventKind int

// Event kinds emitted by the Orchestrator.
const (
	EventFrame EventKind = iota + 1
	EventParams
	EventUninitialized
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventParams:
		return "params"
	case EventUninitialized:
		return "uninitialized"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one output of the Orchestrator, in emission order.
type Event struct {
	Kind   EventKind
	Frame  media.DecodedFrame
	Params media.ParamUpdate
}

type msgKind int

const (
	msgOpen msgKind = iota
	msgConfigure
	msgSubmit
	msgUninit
)

type message struct {
	kind   msgKind
	params media.StreamParameters
	packet media.EncodedPacket
}

// Stats counts orchestrator activity since creation.
type Stats struct {
	Inits     int64 `json:"inits"`
	InitFails int64 `json:"initFails"`
	Submitted int64 `json:"submitted"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Frames    int64 `json:"frames"`
}

// Orchestrator serializes every engine call on the goroutine running Run.
// Other goroutines talk to it through the mailbox methods.
type Orchestrator struct {
	log    *slog.Logger
	engine Engine
	inbox  chan message
	events chan Event
	done   chan struct{}
	stop   sync.Once

	// quit is closed when Run's context ends, releasing blocked emits.
	quit     chan struct{}
	quitOnce sync.Once

	// Owned by the Run goroutine.
	handle  Handle
	scratch []byte
	acked   bool

	// gen identifies the callbacks registered with the live handle.
	// Callbacks carrying an older generation are dropped. Callbacks hold
	// genMu for reading from the generation check through the emit, and
	// release bumps gen under the write lock, so no callback event of a
	// released handle follows the release.
	gen   atomic.Uint64
	genMu sync.RWMutex

	mu     sync.Mutex
	width  int
	height int

	inits     atomic.Int64
	initFails atomic.Int64
	submitted atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	frames    atomic.Int64
}

// New creates an Orchestrator for engine. If log is nil, slog.Default()
// is used.
func New(engine Engine, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:    log.With("component", "decode"),
		engine: engine,
		inbox:  make(chan message, mailboxSize),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

// Events returns the channel the Orchestrator emits on. It is never
// closed.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Open starts a playback session: the next Uninit reports
// EventUninitialized again.
func (o *Orchestrator) Open(ctx context.Context) error {
	return o.send(ctx, message{kind: msgOpen})
}

// Configure creates a decoder for a stream (re)start, releasing any live
// decoder first.
func (o *Orchestrator) Configure(ctx context.Context, p media.StreamParameters) error {
	return o.send(ctx, message{kind: msgConfigure, params: p})
}

// Uninit releases the decoder. Every session gets exactly one
// EventUninitialized, whether or not a decoder was live.
func (o *Orchestrator) Uninit(ctx context.Context) error {
	return o.send(ctx, message{kind: msgUninit})
}

// Submit queues a packet for decoding without blocking. It reports false
// if the mailbox is full or the orchestrator has stopped; the caller
// counts the drop.
func (o *Orchestrator) Submit(p media.EncodedPacket) bool {
	if o.stopped() {
		return false
	}
	select {
	case o.inbox <- message{kind: msgSubmit, packet: p}:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) send(ctx context.Context, m message) error {
	if o.stopped() {
		return ErrStopped
	}
	select {
	case o.inbox <- m:
		return nil
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) stopped() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Run processes the mailbox in FIFO order until ctx is canceled, then
// releases any live decoder. It must be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.stop.Do(func() { close(o.done) })
	defer o.release()
	stopQuit := context.AfterFunc(ctx, o.closeQuit)
	defer stopQuit()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-o.inbox:
			switch m.kind {
			case msgOpen:
				o.acked = false
				o.setDimensions(0, 0)
			case msgConfigure:
				o.configure(m.params)
			case msgSubmit:
				o.submit(m.packet)
			case msgUninit:
				o.uninit()
			}
		}
	}
}

func (o *Orchestrator) configure(p media.StreamParameters) {
	o.acked = false
	if o.handle != 0 {
		o.log.Debug("releasing decoder for stream restart", "handle", o.handle)
		o.release()
	}

	gen := o.gen.Add(1)
	h, err := o.engine.Init(p.Codec, &callbacks{o: o, gen: gen})
	if err == nil && h == 0 {
		err = ErrNoHandle
	}
	if err != nil {
		o.genMu.Lock()
		o.gen.Add(1)
		o.genMu.Unlock()
		o.initFails.Add(1)
		metrics.DecoderInitsTotal.WithLabelValues(metrics.ResultError).Inc()
		o.log.Error("decoder init failed", "error", &InitError{Codec: p.Codec, Err: err})
		return
	}

	o.handle = h
	o.scratch = make([]byte, media.MaxPacketSize)
	o.inits.Add(1)
	metrics.DecoderInitsTotal.WithLabelValues(metrics.ResultOK).Inc()
	o.log.Info("decoder initialized", "handle", h, "codec", p.Codec,
		"width", p.Width, "height", p.Height, "fps", p.FPS)

	if p.Width > 0 && p.Height > 0 {
		o.updateDimensions(gen, p.Width, p.Height)
	}
}

func (o *Orchestrator) submit(p media.EncodedPacket) {
	if o.handle == 0 {
		o.skipped.Add(1)
		metrics.DecodePacketsTotal.WithLabelValues(metrics.ResultNoDecoder).Inc()
		o.log.Debug("no decoder, packet skipped", "seq", p.Seq, "size", len(p.Data))
		return
	}
	if len(p.Data) > len(o.scratch) {
		o.failed.Add(1)
		metrics.DecodePacketsTotal.WithLabelValues(metrics.ResultOversized).Inc()
		o.log.Warn("packet rejected", "error", &OversizedPacketError{
			Seq: p.Seq, Size: len(p.Data), Limit: len(o.scratch),
		})
		return
	}

	n := copy(o.scratch, p.Data)
	if err := o.engine.Submit(o.handle, o.scratch[:n]); err != nil {
		o.failed.Add(1)
		metrics.DecodePacketsTotal.WithLabelValues(metrics.ResultError).Inc()
		o.log.Warn("decode failed", "seq", p.Seq, "size", n, "error", err)
		return
	}
	o.submitted.Add(1)
	metrics.DecodePacketsTotal.WithLabelValues(metrics.ResultSubmitted).Inc()
}

func (o *Orchestrator) uninit() {
	o.release()
	if o.acked {
		o.log.Debug("decoder already uninitialized")
		return
	}
	o.acked = true
	o.log.Info("decoder uninitialized")
	o.emit(Event{Kind: EventUninitialized})
}

func (o *Orchestrator) closeQuit() {
	o.quitOnce.Do(func() { close(o.quit) })
}

// release tears down the live decoder, if any, without emitting.
func (o *Orchestrator) release() {
	if o.handle == 0 {
		return
	}
	o.genMu.Lock()
	o.gen.Add(1)
	o.genMu.Unlock()
	o.engine.Uninit(o.handle)
	o.handle = 0
	o.scratch = nil
}

func (o *Orchestrator) setDimensions(w, h int) {
	o.mu.Lock()
	o.width, o.height = w, h
	o.mu.Unlock()
}

// updateDimensions records w x h and emits EventParams if they changed.
func (o *Orchestrator) updateDimensions(gen uint64, w, h int) {
	o.genMu.RLock()
	defer o.genMu.RUnlock()
	if gen != o.gen.Load() {
		return
	}

	o.mu.Lock()
	if o.width == w && o.height == h {
		o.mu.Unlock()
		return
	}
	o.width, o.height = w, h
	o.mu.Unlock()

	o.log.Info("decoded dimensions changed", "width", w, "height", h)
	o.emit(Event{Kind: EventParams, Params: media.ParamUpdate{Width: w, Height: h}})
}

func (o *Orchestrator) frame(gen uint64, buf []byte, ts int64) {
	o.genMu.RLock()
	defer o.genMu.RUnlock()
	if gen != o.gen.Load() {
		return
	}
	w, h := o.dimensions()

	data := make([]byte, len(buf))
	copy(data, buf)
	o.frames.Add(1)
	metrics.FramesDecodedTotal.Inc()
	o.emit(Event{Kind: EventFrame, Frame: media.DecodedFrame{PTS: ts, Data: data, Width: w, Height: h}})
}

// emit blocks until the event is taken or Run's context ends. Events
// emitted after that are dropped.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.quit:
	case <-o.done:
	}
}

// dimensions returns the latest decoded picture size.
func (o *Orchestrator) dimensions() (width, height int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.width, o.height
}

// Stats returns a snapshot of orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Inits:     o.inits.Load(),
		InitFails: o.initFails.Load(),
		Submitted: o.submitted.Load(),
		Skipped:   o.skipped.Load(),
		Failed:    o.failed.Load(),
		Frames:    o.frames.Load(),
	}
}

// callbacks binds engine output to the generation of the handle it was
// registered with.
type callbacks struct {
	o   *Orchestrator
	gen uint64
}

func (c *callbacks) OnFrame(buf []byte, ts int64) {
	c.o.frame(c.gen, buf, ts)
}

func (c *callbacks) OnParam(width, height int) {
	c.o.updateDimensions(c.gen, width, height)
}

// Package player owns the playback lifecycle. A Session wires one ingest
// connection, the decode orchestrator and the presentation scheduler
// together and moves between Idle, Playing and Closing.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lens/internal/decode"
	"github.com/zsiec/lens/internal/ingest"
	"github.com/zsiec/lens/internal/metrics"
	"github.com/zsiec/lens/internal/present"
	"github.com/zsiec/lens/internal/render"
	"github.com/zsiec/lens/internal/transport"
)

// State is the lifecycle state of a Session.
type State int32

// Lifecycle states.
const (
	StateIdle State = iota
	StatePlaying
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Play errors. None of them change the session state.
var (
	ErrInvalidURL     = errors.New("player: invalid url")
	ErrNoRenderTarget = errors.New("player: no render target")
	ErrNoDecoder      = errors.New("player: decoder not running")
	ErrClosing        = errors.New("player: session is closing")
)

// Options configures a Session.
type Options struct {
	Dialer transport.Dialer
	Engine decode.Engine
	Log    *slog.Logger

	// OnFirstFrame runs once per Play, after the first picture reaches
	// the sink.
	OnFirstFrame func()
}

// Snapshot is a point-in-time view of a Session.
type Snapshot struct {
	SessionID  string        `json:"sessionId,omitempty"`
	URL        string        `json:"url,omitempty"`
	State      string        `json:"state"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	QueueDepth int           `json:"queueDepth"`
	FirstFrame bool          `json:"firstFrame"`
	LastError  string        `json:"lastError,omitempty"`
	Ingest     *ingest.Stats `json:"ingest,omitempty"`
	Decode     decode.Stats  `json:"decode"`
	Present    present.Stats `json:"present"`
}

// Session is a single playback pipeline. Run must be running for Play to
// succeed. Play, Stop, State, Tick and Snapshot are safe for concurrent
// use.
type Session struct {
	log    *slog.Logger
	dialer transport.Dialer
	orch   *decode.Orchestrator
	sched  *present.Scheduler
	hook   func()

	// attach hands the ingest of a new play to the routing loop; nil
	// detaches it on stop.
	attach chan *ingest.Ingest

	// playMu orders the attach step of Play against Stop.
	playMu sync.Mutex

	mu        sync.Mutex
	state     State
	idle      chan struct{}
	runCtx    context.Context
	seq       uint64
	id        string
	url       string
	in        *ingest.Ingest
	stats     *ingest.Ingest
	cancelIn  context.CancelFunc
	lastError string

	firstFrame atomic.Bool
	wg         sync.WaitGroup
}

// New creates an idle Session.
func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Session{
		log:    log.With("component", "player"),
		dialer: opts.Dialer,
		orch:   decode.New(opts.Engine, log),
		sched:  present.New(log),
		hook:   opts.OnFirstFrame,
		attach: make(chan *ingest.Ingest),
		idle:   idle,
	}
}

// Run drives the decode orchestrator and the routing between actors
// until ctx is canceled. It may be called once.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("player: session already running")
	}
	s.runCtx = gctx
	s.mu.Unlock()

	g.Go(func() error { return s.orch.Run(gctx) })
	g.Go(func() error { return s.routeIngest(gctx) })
	g.Go(func() error { return s.routeDecode(gctx) })
	err := g.Wait()

	s.mu.Lock()
	in, cancel := s.in, s.cancelIn
	s.in, s.cancelIn = nil, nil
	if s.state != StateIdle {
		s.state = StateIdle
		close(s.idle)
	}
	s.mu.Unlock()
	metrics.SessionState.Set(float64(StateIdle))

	if in != nil {
		in.Close()
		cancel()
	}
	s.sched.Deactivate()
	s.wg.Wait()
	return err
}

// Play connects to url and starts presenting to sink. Playing again while
// already playing is a no-op. A connect failure leaves the session Idle
// and returns an error wrapping *transport.ConnectError.
func (s *Session) Play(ctx context.Context, url string, sink render.Sink) error {
	if url == "" {
		return ErrInvalidURL
	}
	if sink == nil {
		return ErrNoRenderTarget
	}

	s.mu.Lock()
	switch s.state {
	case StatePlaying:
		s.mu.Unlock()
		return nil
	case StateClosing:
		s.mu.Unlock()
		return ErrClosing
	}
	runCtx := s.runCtx
	if runCtx == nil || runCtx.Err() != nil {
		s.mu.Unlock()
		return ErrNoDecoder
	}
	s.seq++
	seq := s.seq
	s.state = StatePlaying
	s.idle = make(chan struct{})
	s.lastError = ""
	s.mu.Unlock()

	in := ingest.New(s.dialer, s.sched, s.log)
	if err := in.Connect(ctx, url); err != nil {
		s.log.Warn("connect failed", "url", url, "error", err)
		s.abort(seq)
		return fmt.Errorf("player: play: %w", err)
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	s.mu.Lock()
	if s.seq != seq || s.state != StatePlaying {
		// Stopped while connecting.
		s.mu.Unlock()
		in.Close()
		return ErrClosing
	}
	if runCtx.Err() != nil {
		s.mu.Unlock()
		in.Close()
		s.abort(seq)
		return ErrNoDecoder
	}
	// Run waits on wg only after it has taken mu and seen runCtx done,
	// so this Add always precedes that Wait.
	s.wg.Add(1)
	ictx, cancel := context.WithCancel(runCtx)
	s.id = uuid.NewString()
	s.url = url
	s.in, s.stats, s.cancelIn = in, in, cancel
	id := s.id
	s.mu.Unlock()

	s.firstFrame.Store(false)
	s.sched.Activate(sink, s.onFirstFrame)

	select {
	case s.attach <- in:
	case <-runCtx.Done():
		cancel()
		in.Close()
		s.sched.Deactivate()
		s.abort(seq)
		s.wg.Done()
		return ErrNoDecoder
	}

	go func() {
		defer s.wg.Done()
		if err := in.Run(ictx); err != nil {
			s.setLastError(err)
		}
	}()

	metrics.SessionState.Set(float64(StatePlaying))
	s.log.Info("playing", "session", id, "url", url)
	return nil
}

// abort returns a failed Play to Idle unless a Stop already took over.
func (s *Session) abort(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == seq && s.state == StatePlaying {
		s.state = StateIdle
		close(s.idle)
	}
}

// Stop tears the pipeline down. It returns once teardown is requested;
// the session becomes Idle when the decoder confirms it. Safe to call in
// any state.
func (s *Session) Stop() {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.seq++
	in, cancel := s.in, s.cancelIn
	s.in, s.cancelIn = nil, nil
	runCtx := s.runCtx
	id := s.id
	s.mu.Unlock()
	metrics.SessionState.Set(float64(StateClosing))

	s.sched.Deactivate()
	if in != nil {
		in.Close()
		cancel()
	}
	s.log.Info("stopping", "session", id)

	if runCtx == nil {
		s.finishStop()
		return
	}
	select {
	case s.attach <- nil:
	case <-runCtx.Done():
		s.finishStop()
	}
}

func (s *Session) finishStop() {
	s.mu.Lock()
	if s.state != StateClosing {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	close(s.idle)
	id := s.id
	s.mu.Unlock()

	metrics.SessionState.Set(float64(StateIdle))
	s.log.Info("stopped", "session", id)
}

// routeIngest forwards the attached ingest's events to the orchestrator.
// It is the only sender of control messages to the orchestrator, so
// teardown is ordered after every packet already routed.
func (s *Session) routeIngest(ctx context.Context) error {
	var (
		events   <-chan ingest.Event
		attached bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case in := <-s.attach:
			if in != nil {
				if err := s.orch.Open(ctx); err != nil {
					return nilIfCanceled(ctx, err)
				}
				events, attached = in.Events(), true
				continue
			}
			events = nil
			if !attached {
				s.finishStop()
				continue
			}
			attached = false
			if err := s.orch.Uninit(ctx); err != nil {
				return nilIfCanceled(ctx, err)
			}

		case ev := <-events:
			if err := s.handleIngest(ctx, ev); err != nil {
				return nilIfCanceled(ctx, err)
			}
		}
	}
}

func (s *Session) handleIngest(ctx context.Context, ev ingest.Event) error {
	switch ev.Kind {
	case ingest.EventParameters:
		return s.orch.Configure(ctx, ev.Params)
	case ingest.EventPacket:
		if !s.orch.Submit(ev.Packet) {
			metrics.IngestDropsTotal.WithLabelValues(metrics.ReasonMailbox).Inc()
			s.log.Debug("decoder mailbox full, packet dropped", "seq", ev.Packet.Seq)
		}
	case ingest.EventException:
		s.setLastError(ev.Err)
	case ingest.EventEnded:
		if ev.Err != nil {
			s.setLastError(ev.Err)
		}
	}
	return nil
}

// routeDecode moves decoder output into the scheduler.
func (s *Session) routeDecode(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.orch.Events():
			switch ev.Kind {
			case decode.EventFrame:
				s.sched.Push(ev.Frame)
			case decode.EventParams:
				s.sched.ApplyParams(ev.Params)
			case decode.EventUninitialized:
				s.finishStop()
			}
		}
	}
}

func nilIfCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) onFirstFrame() {
	s.firstFrame.Store(true)
	s.log.Info("first frame presented")
	if s.hook != nil {
		s.hook()
	}
}

func (s *Session) setLastError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick presents queued frames; call it once per redraw.
func (s *Session) Tick() int {
	return s.sched.Tick()
}

// Scheduler returns the presentation scheduler, for redraw drivers.
func (s *Session) Scheduler() *present.Scheduler {
	return s.sched
}

// WaitIdle blocks until the session is Idle or ctx is done.
func (s *Session) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		SessionID: s.id,
		URL:       s.url,
		State:     s.state.String(),
		LastError: s.lastError,
	}
	in := s.stats
	s.mu.Unlock()

	if in != nil {
		st := in.Stats()
		snap.Ingest = &st
	}
	snap.Width, snap.Height = s.sched.CurrentDimensions()
	snap.QueueDepth = s.sched.Depth()
	snap.FirstFrame = s.firstFrame.Load()
	snap.Decode = s.orch.Stats()
	snap.Present = s.sched.Stats()
	return snap
}

// stopTimeout bounds how long Close waits for the decoder to confirm.
const stopTimeout = 5 * time.Second

// Close stops playback and waits for the session to become Idle.
func (s *Session) Close() error {
	s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return s.WaitIdle(ctx)
}

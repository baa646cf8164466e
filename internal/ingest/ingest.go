// Package ingest owns the stream connection of a playback session. It
// reads whole messages from the transport, separates in-band stream
// headers from encoded payload, and applies the admission check that
// keeps the presentation queue bounded.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/metrics"
	"github.com/zsiec/lens/internal/transport"
	"github.com/zsiec/lens/internal/wire"
)

// eventBuffer is the depth of the Events channel.
const eventBuffer = 2 * media.QueueCapacity

var (
	// ErrNotConnected is returned by Run before a successful Connect.
	ErrNotConnected = errors.New("ingest: not connected")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("ingest: closed")
)

// DepthGauge reports how many decoded frames are waiting to be presented.
type DepthGauge interface {
	Depth() int
}

// EventKind identifies what an Event carries.
type EventKind int

// Event kinds emitted by Ingest.
const (
	EventParameters EventKind = iota + 1
	EventPacket
	EventException
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventParameters:
		return "parameters"
	case EventPacket:
		return "packet"
	case EventException:
		return "exception"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one output of Ingest, in arrival order.
type Event struct {
	Kind   EventKind
	Params media.StreamParameters // EventParameters
	Packet media.EncodedPacket    // EventPacket
	Err    error                  // EventException, and EventEnded on a read failure
}

// StreamException reports a stream header the player cannot play: a
// non-zero status byte or an unknown codec. The stream is treated as
// ended.
type StreamException struct {
	Status byte
	Err    error
}

func (e *StreamException) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream exception: %v", e.Err)
	}
	return fmt.Sprintf("stream exception: status %d", e.Status)
}

func (e *StreamException) Unwrap() error {
	return e.Err
}

// Stats captures connection-level counters for the current stream.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	Packets       int64  `json:"packets"`
	Drops         int64  `json:"drops"`
	Headers       int64  `json:"headers"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Ingest is one session's connection reader. OnBytes is not safe for
// concurrent use; Run calls it from a single goroutine.
type Ingest struct {
	log    *slog.Logger
	dialer transport.Dialer
	gauge  DepthGauge
	events chan Event

	mu        sync.Mutex
	conn      transport.Conn
	closed    bool
	done      chan struct{}
	startedAt time.Time

	ended   atomic.Bool
	seq     uint64
	dropLog rate.Sometimes

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	packets       atomic.Int64
	drops         atomic.Int64
	headers       atomic.Int64
	remoteAddr    atomic.Value
}

// New creates an Ingest that dials through dialer and admits packets
// while gauge reports fewer than media.QueueCapacity queued frames. If log
// is nil, slog.Default() is used.
func New(dialer transport.Dialer, gauge DepthGauge, log *slog.Logger) *Ingest {
	if log == nil {
		log = slog.Default()
	}
	return &Ingest{
		log:     log.With("component", "ingest"),
		dialer:  dialer,
		gauge:   gauge,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Events returns the channel Ingest emits on. It is never closed.
func (i *Ingest) Events() <-chan Event {
	return i.events
}

// Connect opens the stream connection. Failures are *transport.ConnectError
// values returned as is; the caller decides whether to try again.
func (i *Ingest) Connect(ctx context.Context, url string) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	if i.conn != nil {
		i.mu.Unlock()
		return fmt.Errorf("ingest: already connected to %s", i.conn.RemoteAddr())
	}
	i.mu.Unlock()

	conn, err := i.dialer.Dial(ctx, url)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		conn.Close()
		return ErrClosed
	}
	i.conn = conn
	i.startedAt = time.Now()
	i.remoteAddr.Store(conn.RemoteAddr())
	return nil
}

// Run reads messages until the connection ends or ctx is canceled, then
// emits EventEnded. A clean end of stream or a local Close returns nil.
func (i *Ingest) Run(ctx context.Context) error {
	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { i.Close() })
	defer stop()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || i.isClosed() {
				i.log.Info("stream ended", "remote", conn.RemoteAddr())
				i.emitControl(Event{Kind: EventEnded})
				return nil
			}
			i.log.Warn("stream read failed", "remote", conn.RemoteAddr(), "error", err)
			i.emitControl(Event{Kind: EventEnded, Err: err})
			return fmt.Errorf("ingest: read: %w", err)
		}
		i.recordRead(len(msg))
		i.OnBytes(msg)
	}
}

// OnBytes classifies one inbound message. A stream header becomes an
// EventParameters or EventException; anything else is payload, forwarded
// as one packet if the presentation queue is below capacity and dropped
// otherwise. Messages after an exception are ignored.
func (i *Ingest) OnBytes(chunk []byte) {
	if i.ended.Load() || len(chunk) == 0 {
		return
	}

	kind, hdr, err := wire.Classify(chunk)
	switch kind {
	case wire.KindHeader:
		i.headers.Add(1)
		if !hdr.OK() {
			metrics.StreamHeadersTotal.WithLabelValues(metrics.ResultException).Inc()
			i.raise(&StreamException{Status: hdr.Status})
			return
		}
		metrics.StreamHeadersTotal.WithLabelValues(metrics.ResultOK).Inc()
		params := hdr.Parameters()
		i.log.Info("stream header", "codec", params.Codec, "width", params.Width,
			"height", params.Height, "fps", params.FPS)
		i.emitControl(Event{Kind: EventParameters, Params: params})

	case wire.KindMalformed:
		i.headers.Add(1)
		metrics.StreamHeadersTotal.WithLabelValues(metrics.ResultMalformed).Inc()
		i.raise(&StreamException{Status: hdr.Status, Err: err})

	default:
		i.admit(chunk)
	}
}

func (i *Ingest) admit(chunk []byte) {
	if depth := i.gauge.Depth(); depth >= media.QueueCapacity {
		i.drop(metrics.ReasonBackpressure, len(chunk), depth)
		return
	}

	data := make([]byte, len(chunk))
	copy(data, chunk)
	ev := Event{Kind: EventPacket, Packet: media.EncodedPacket{Seq: i.seq, Data: data}}

	select {
	case i.events <- ev:
		i.seq++
		i.packets.Add(1)
		metrics.IngestPacketsTotal.Inc()
	default:
		i.drop(metrics.ReasonMailbox, len(chunk), i.gauge.Depth())
	}
}

func (i *Ingest) drop(reason string, size, depth int) {
	i.drops.Add(1)
	metrics.IngestDropsTotal.WithLabelValues(reason).Inc()
	i.dropLog.Do(func() {
		i.log.Warn("packet dropped", "reason", reason, "size", size,
			"depth", depth, "drops", i.drops.Load())
	})
}

// raise reports a stream exception and ends the stream without reconnecting.
func (i *Ingest) raise(exc *StreamException) {
	i.log.Error("stream exception", "status", exc.Status, "error", exc.Err)
	i.ended.Store(true)
	i.emitControl(Event{Kind: EventException, Err: exc})
	i.Close()
}

// emitControl delivers events that must not be dropped. It gives up only
// once Ingest is closed.
func (i *Ingest) emitControl(ev Event) {
	select {
	case i.events <- ev:
		return
	default:
	}
	select {
	case i.events <- ev:
	case <-i.done:
	}
}

func (i *Ingest) recordRead(n int) {
	i.bytesReceived.Add(int64(n))
	i.readCount.Add(1)
	metrics.IngestBytesTotal.Add(float64(n))
}

// Close closes the connection, unblocking Run. Safe to call repeatedly.
func (i *Ingest) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	conn := i.conn
	close(i.done)
	i.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (i *Ingest) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Stats returns a snapshot of connection counters.
func (i *Ingest) Stats() Stats {
	i.mu.Lock()
	started := i.startedAt
	i.mu.Unlock()

	addr, _ := i.remoteAddr.Load().(string)
	s := Stats{
		BytesReceived: i.bytesReceived.Load(),
		ReadCount:     i.readCount.Load(),
		Packets:       i.packets.Load(),
		Drops:         i.drops.Load(),
		Headers:       i.headers.Load(),
		RemoteAddr:    addr,
	}
	if !started.IsZero() {
		s.ConnectedAt = started.UnixMilli()
		s.UptimeMs = time.Since(started).Milliseconds()
	}
	return s
}

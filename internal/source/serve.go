package source

import (
	"context"
	"io"
	"time"

	"github.com/zsiec/lens/internal/metrics"
	"github.com/zsiec/lens/internal/wire"
)

// messageWriter sends one stream message.
type messageWriter interface {
	WriteMessage(msg []byte) error
}

// framedWriter encodes messages for a framing and splits the encoded bytes
// into writes of at most chunk bytes. A chunk of zero writes each message
// at once.
type framedWriter struct {
	w       io.Writer
	framing wire.Framing
	chunk   int
	buf     []byte
}

func newFramedWriter(w io.Writer, framing wire.Framing, chunk int) *framedWriter {
	return &framedWriter{w: w, framing: framing, chunk: chunk}
}

func (f *framedWriter) WriteMessage(msg []byte) error {
	data := msg
	if f.framing == wire.FramingLength {
		f.buf = wire.AppendMessage(f.buf[:0], msg)
		data = f.buf
	}
	total := len(data)
	for len(data) > 0 {
		n := len(data)
		if f.chunk > 0 {
			n = min(n, f.chunk)
		}
		if _, err := f.w.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	metrics.SourceMessagesTotal.Inc()
	metrics.SourceBytesTotal.Add(float64(total))
	return nil
}

// sendUnavailable tells a player the stream it asked for does not exist.
func sendUnavailable(w messageWriter) error {
	return w.WriteMessage(wire.Header{Status: StatusUnavailable}.Marshal())
}

// serve writes the stream header followed by the clip's access units,
// paced against the start time so timing stays continuous across loops.
// It returns nil when ctx is done or, without loop, after the last unit.
func (s *Stream) serve(ctx context.Context, w messageWriter, loop bool) error {
	s.viewers.Add(1)
	metrics.SourceConnections.Inc()
	defer func() {
		s.viewers.Add(-1)
		metrics.SourceConnections.Dec()
	}()

	if err := w.WriteMessage(s.Clip.Header().Marshal()); err != nil {
		return err
	}

	interval := s.Clip.Interval()
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for sent := 0; ; {
		for _, unit := range s.Clip.Units {
			if wait := time.Until(start.Add(time.Duration(sent) * interval)); wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return nil
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				return nil
			}
			if err := w.WriteMessage(unit); err != nil {
				return err
			}
			sent++
		}
		if !loop {
			return nil
		}
	}
}

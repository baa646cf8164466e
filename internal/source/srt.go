package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/lens/internal/transport"
	"github.com/zsiec/lens/internal/wire"
)

// srtChunkSize is the largest single SRT write, the standard live payload.
const srtChunkSize = 1316

// SRTServer accepts SRT callers and streams the clip named by their stream
// id.
type SRTServer struct {
	log     *slog.Logger
	addr    string
	catalog *Catalog
	framing wire.Framing
	loop    bool
}

// NewSRTServer creates an SRT listener on addr. If log is nil,
// slog.Default() is used.
func NewSRTServer(addr string, catalog *Catalog, framing wire.Framing, loop bool, log *slog.Logger) *SRTServer {
	if log == nil {
		log = slog.Default()
	}
	return &SRTServer{
		log:     log.With("component", "srt-source"),
		addr:    addr,
		catalog: catalog,
		framing: framing,
		loop:    loop,
	}
}

// Start accepts SRT connections. It blocks until ctx is canceled.
func (s *SRTServer) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = transport.SRTLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr, "framing", s.framing)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *SRTServer) handleConnection(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(cctx, func() { conn.Close() })
	defer stop()

	requested := conn.StreamID()
	remote := conn.RemoteAddr().String()
	w := newFramedWriter(conn, s.framing, srtChunkSize)

	st, ok := s.catalog.Lookup(requested)
	if !ok {
		s.log.Info("unknown stream", "stream_id", requested, "remote", remote)
		if err := sendUnavailable(w); err != nil {
			s.log.Debug("write error", "stream_id", requested, "error", err)
		}
		return
	}

	s.log.Info("play", "stream_key", st.Key, "remote", remote)
	err := st.serve(cctx, w, s.loop)
	if err != nil && !errors.Is(err, io.EOF) && cctx.Err() == nil {
		s.log.Debug("write error", "stream_key", st.Key, "error", err)
	}
	s.log.Info("connection closed", "stream_key", st.Key, "remote", remote)
}

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/lens/internal/certs"
	"github.com/zsiec/lens/internal/transport"
	"github.com/zsiec/lens/internal/wire"
)

const (
	quicCodeNoError  quic.ApplicationErrorCode = 0
	quicCodeBadPath  quic.ApplicationErrorCode = 0x1
	requestTimeout                             = 5 * time.Second
	drainTimeout                               = 5 * time.Second
	maxRequestLength                           = 1024
)

// QUICServer serves streams over QUIC. A player opens one bidirectional
// stream, sends the stream path as a length-framed message, and receives
// length-framed messages until either side closes.
type QUICServer struct {
	log     *slog.Logger
	addr    string
	cert    *certs.CertInfo
	catalog *Catalog
	loop    bool

	mu sync.Mutex
	ln *quic.Listener
}

// NewQUICServer creates a QUIC listener on addr presenting cert. If log is
// nil, slog.Default() is used.
func NewQUICServer(addr string, cert *certs.CertInfo, catalog *Catalog, loop bool, log *slog.Logger) *QUICServer {
	if log == nil {
		log = slog.Default()
	}
	return &QUICServer{
		log:     log.With("component", "quic-source"),
		addr:    addr,
		cert:    cert,
		catalog: catalog,
		loop:    loop,
	}
}

// Listen binds the UDP socket. Start calls it when needed.
func (s *QUICServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := quic.ListenAddr(s.addr, s.cert.ServerTLSConfig(transport.ALPN), &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("QUIC listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *QUICServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start accepts QUIC connections. It blocks until ctx is canceled.
func (s *QUICServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	defer ln.Close()

	s.log.Info("listening", "addr", ln.Addr().String(), "fingerprint", s.cert.FingerprintBase64())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("QUIC accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *QUICServer) handleConnection(ctx context.Context, conn quic.Connection) {
	remote := conn.RemoteAddr().String()

	actx, cancel := context.WithTimeout(ctx, requestTimeout)
	stream, err := conn.AcceptStream(actx)
	cancel()
	if err != nil {
		s.log.Debug("no stream request", "remote", remote, "error", err)
		conn.CloseWithError(quicCodeNoError, "")
		return
	}

	requested, err := wire.NewMessageReader(stream, maxRequestLength).ReadMessage()
	if err != nil {
		s.log.Debug("bad stream request", "remote", remote, "error", err)
		conn.CloseWithError(quicCodeBadPath, "bad request")
		return
	}

	w := newFramedWriter(stream, wire.FramingLength, 0)
	st, ok := s.catalog.Lookup(string(requested))
	if !ok {
		s.log.Info("unknown stream", "path", string(requested), "remote", remote)
		if err := sendUnavailable(w); err == nil {
			stream.Close()
			awaitPeerClose(ctx, conn)
		}
		conn.CloseWithError(quicCodeNoError, "")
		return
	}

	cctx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	stop := context.AfterFunc(conn.Context(), cancelConn)
	defer stop()

	s.log.Info("play", "stream_key", st.Key, "remote", remote)
	err = st.serve(cctx, w, s.loop)
	switch {
	case err == nil && cctx.Err() == nil:
		// Clip ended; a graceful close lets the player read to EOF.
		stream.Close()
		awaitPeerClose(ctx, conn)
	case err != nil && cctx.Err() == nil && !errors.Is(err, context.Canceled):
		s.log.Debug("write error", "stream_key", st.Key, "error", err)
	}
	conn.CloseWithError(quicCodeNoError, "")
	s.log.Info("connection closed", "stream_key", st.Key, "remote", remote)
}

// awaitPeerClose gives the player time to read what was sent before the
// connection is torn down.
func awaitPeerClose(ctx context.Context, conn quic.Connection) {
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
	case <-timer.C:
	}
}

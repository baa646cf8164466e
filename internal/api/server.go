// Package api serves the lens HTTP control surface: session status,
// play and stop for the player, the certificate hash for the stream
// source, and Prometheus metrics for both.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/lens/internal/player"
	"github.com/zsiec/lens/internal/render"
	"github.com/zsiec/lens/internal/transport"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxRequestBody    = 64 << 10
)

// Player is the part of player.Session the API drives.
type Player interface {
	Play(ctx context.Context, url string, sink render.Sink) error
	Stop()
	Snapshot() player.Snapshot
}

// ServerConfig configures a Server. Player and CertHash are optional;
// their routes are only registered when set.
type ServerConfig struct {
	Addr   string
	Player Player
	// NewSink supplies the render target for each play request.
	NewSink func() render.Sink
	// CertHash returns the base64 SHA-256 fingerprint clients pin.
	CertHash func() string
	// Streams lists the stream keys a source is serving.
	Streams func() []string
	Log     *slog.Logger
}

// Server is the control API.
type Server struct {
	log    *slog.Logger
	config ServerConfig
}

// NewServer creates a Server. If config.Log is nil, slog.Default() is used.
func NewServer(config ServerConfig) *Server {
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log.With("component", "api"), config: config}
}

type playRequest struct {
	URL string `json:"url"`
}

type certHashResponse struct {
	Hash string `json:"hash"`
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	if s.config.Player != nil {
		mux.HandleFunc("GET /api/session", s.handleSession)
		mux.HandleFunc("POST /api/play", s.handlePlay)
		mux.HandleFunc("POST /api/stop", s.handleStop)
	}
	if s.config.CertHash != nil {
		mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	}
	if s.config.Streams != nil {
		mux.HandleFunc("GET /api/streams", s.handleStreams)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the API as an http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start listens on config.Addr and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	})
	defer stop()

	s.log.Info("API server listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Player.Snapshot())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var sink render.Sink
	if s.config.NewSink != nil {
		sink = s.config.NewSink()
	}
	if err := s.config.Player.Play(r.Context(), req.URL, sink); err != nil {
		s.log.Warn("play failed", "url", req.URL, "error", err)
		writeError(w, playStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.config.Player.Snapshot())
}

// playStatus maps a Play error to an HTTP status code.
func playStatus(err error) int {
	var connErr *transport.ConnectError
	switch {
	case errors.Is(err, player.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, player.ErrClosing):
		return http.StatusConflict
	case errors.Is(err, player.ErrNoDecoder):
		return http.StatusServiceUnavailable
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.config.Player.Stop()
	writeJSON(w, http.StatusAccepted, s.config.Player.Snapshot())
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{Hash: s.config.CertHash()})
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	keys := s.config.Streams()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

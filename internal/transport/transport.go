// Package transport provides the byte-stream connections ingest reads
// from. A connection yields whole messages: either the transport's own
// message boundaries (message framing) or length-prefixed messages
// reassembled from a byte stream (length framing).
//
// Supported URLs:
//
//	srt://host:port/live/key?framing=message
//	quic://host:port/live/key
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zsiec/lens/internal/wire"
)

// ALPN is the TLS application protocol the QUIC source speaks.
const ALPN = "lens-stream"

const defaultDialTimeout = 10 * time.Second

// Conn is one live stream connection. ReadMessage blocks until a full
// message is available; it returns io.EOF when the peer ends the stream.
// Close unblocks a pending ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// Dialer opens a Conn for a stream URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// ConnectError reports that the stream source could not be reached. It is
// surfaced to the caller of Play; the core never retries.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Options configures a URLDialer.
type Options struct {
	// Framing is the default for transports that carry message
	// boundaries (SRT). A framing query parameter overrides it per URL.
	Framing wire.Framing

	DialTimeout    time.Duration
	MaxMessageSize int

	// CertFingerprint pins the QUIC server certificate by the base64
	// SHA-256 hash of its DER encoding.
	CertFingerprint    string
	InsecureSkipVerify bool
}

// URLDialer dispatches on the URL scheme.
type URLDialer struct {
	log  *slog.Logger
	opts Options
}

// NewDialer creates a URLDialer. If log is nil, slog.Default() is used.
func NewDialer(opts Options, log *slog.Logger) *URLDialer {
	if log == nil {
		log = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &URLDialer{
		log:  log.With("component", "transport"),
		opts: opts,
	}
}

// Dial connects to rawURL. Every failure is a *ConnectError.
func (d *URLDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConnectError{URL: rawURL, Err: err}
	}
	if u.Host == "" {
		return nil, &ConnectError{URL: rawURL, Err: fmt.Errorf("missing host")}
	}

	framing := d.opts.Framing
	if f := u.Query().Get("framing"); f != "" {
		framing, err = wire.ParseFraming(f)
		if err != nil {
			return nil, &ConnectError{URL: rawURL, Err: err}
		}
	}

	var conn Conn
	switch u.Scheme {
	case "srt":
		conn, err = d.dialSRT(ctx, u, framing)
	case "quic":
		conn, err = d.dialQUIC(ctx, u)
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, &ConnectError{URL: rawURL, Err: err}
	}

	d.log.Info("connected", "url", rawURL, "remote", conn.RemoteAddr(), "framing", framing)
	return conn, nil
}

// streamPath returns the stream key path requested from the source, e.g.
// "live/cam1". An empty path maps to "live/default".
func streamPath(u *url.URL) string {
	p := u.Path
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	if p == "" {
		return "live/default"
	}
	return p
}

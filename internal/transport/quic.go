package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/lens/internal/certs"
	"github.com/zsiec/lens/internal/wire"
)

// QUIC application error codes used when closing a stream connection.
const (
	quicCodeNoError quic.ApplicationErrorCode = 0
	quicCodeCancel  quic.StreamErrorCode      = 0x10
)

type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
	mr     *wire.MessageReader
}

func (d *URLDialer) tlsConfig(u *url.URL) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: u.Hostname(),
		NextProtos: []string{ALPN},
		MinVersion: tls.VersionTLS13,
	}
	switch {
	case d.opts.CertFingerprint != "":
		verify, err := certs.PinnedVerifier(d.opts.CertFingerprint)
		if err != nil {
			return nil, err
		}
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verify
	case d.opts.InsecureSkipVerify:
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

// dialQUIC opens a connection and one bidirectional stream, then sends the
// requested stream path as the first length-framed message. The source
// answers with length-framed messages on the same stream.
func (d *URLDialer) dialQUIC(ctx context.Context, u *url.URL) (Conn, error) {
	tlsConf, err := d.tlsConfig(u)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, u.Host, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("QUIC dial failed: %w", err)
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(quicCodeNoError, "")
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if err := wire.WriteMessage(stream, []byte(streamPath(u))); err != nil {
		conn.CloseWithError(quicCodeNoError, "")
		return nil, fmt.Errorf("send stream request: %w", err)
	}

	return &quicConn{
		conn:   conn,
		stream: stream,
		mr:     wire.NewMessageReader(stream, d.opts.MaxMessageSize),
	}, nil
}

func (c *quicConn) ReadMessage() ([]byte, error) {
	return c.mr.ReadMessage()
}

func (c *quicConn) Close() error {
	c.stream.CancelRead(quicCodeCancel)
	return c.conn.CloseWithError(quicCodeNoError, "closed")
}

func (c *quicConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

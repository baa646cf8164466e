package transport

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lens/internal/certs"
	"github.com/zsiec/lens/internal/wire"
)

func TestDialRejectsBadURLs(t *testing.T) {
	t.Parallel()

	d := NewDialer(Options{DialTimeout: time.Second}, nil)
	tests := []struct {
		name string
		url  string
	}{
		{"unsupported scheme", "ws://example.com/live"},
		{"missing host", "srt:///live/cam1"},
		{"bad framing", "srt://127.0.0.1:9000/live?framing=bogus"},
		{"unparseable", "srt://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn, err := d.Dial(context.Background(), tt.url)
			require.Error(t, err)
			assert.Nil(t, conn)

			var ce *ConnectError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.url, ce.URL)
		})
	}
}

func TestStreamPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"srt://host:9000/live/cam1", "live/cam1"},
		{"quic://host:9000//live/cam2", "live/cam2"},
		{"quic://host:9000", "live/default"},
		{"quic://host:9000/", "live/default"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, streamPath(u), tt.raw)
	}
}

func TestMemoryConn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := NewMemoryConn("mem:1", 4)
	require.NoError(t, c.Send(ctx, []byte("a")))
	require.NoError(t, c.Send(ctx, []byte("b")))
	c.End()

	msg, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "a", string(msg))
	msg, err = c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "b", string(msg))

	_, err = c.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "mem:1", c.RemoteAddr())
}

func TestMemoryConnCloseUnblocksReader(t *testing.T) {
	t.Parallel()

	c := NewMemoryConn("mem", 0)
	errc := make(chan error, 1)
	go func() {
		_, err := c.ReadMessage()
		errc <- err
	}()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage did not return after Close")
	}
	assert.ErrorIs(t, c.Send(context.Background(), []byte("x")), ErrClosed)

	select {
	case <-c.Closed():
	default:
		t.Error("Closed channel not closed")
	}
}

func TestMemoryDialer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := NewMemoryDialer()
	c := NewMemoryConn("mem", 1)
	d.Register("srt://mem/live", c)

	got, err := d.Dial(ctx, "srt://mem/live")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = d.Dial(ctx, "srt://mem/other")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)

	d.Err = errors.New("refused")
	_, err = d.Dial(ctx, "srt://mem/live")
	require.ErrorAs(t, err, &ce)
	assert.ErrorContains(t, err, "refused")
}

// startQUICSource serves the given messages on the first stream of the
// first connection and records the requested stream path.
func startQUICSource(t *testing.T, cert *certs.CertInfo, msgs [][]byte) (addr string, path <-chan string) {
	t.Helper()

	ln, err := quic.ListenAddr("127.0.0.1:0", cert.ServerTLSConfig(ALPN), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	pathc := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		req, err := wire.NewMessageReader(stream, 0).ReadMessage()
		if err != nil {
			return
		}
		pathc <- string(req)
		for _, m := range msgs {
			if err := wire.WriteMessage(stream, m); err != nil {
				return
			}
		}
		stream.Close()
		<-conn.Context().Done()
	}()
	return ln.Addr().String(), pathc
}

func TestQUICLoopback(t *testing.T) {
	t.Parallel()

	cert, err := certs.Generate(time.Hour)
	require.NoError(t, err)

	hdr := wire.Header{Codec: 0, Width: 640, Height: 360, FPS: 25}
	msgs := [][]byte{hdr.Marshal(), {0, 0, 0, 1, 0x65, 0x88}}
	addr, pathc := startQUICSource(t, cert, msgs)

	d := NewDialer(Options{CertFingerprint: cert.FingerprintBase64(), DialTimeout: 5 * time.Second}, nil)
	conn, err := d.Dial(context.Background(), "quic://"+addr+"/live/cam1")
	require.NoError(t, err)
	defer conn.Close()

	select {
	case p := <-pathc:
		assert.Equal(t, "live/cam1", p)
	case <-time.After(5 * time.Second):
		t.Fatal("source never received the stream request")
	}

	for _, want := range msgs {
		got, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = conn.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestQUICFingerprintMismatch(t *testing.T) {
	t.Parallel()

	served, err := certs.Generate(time.Hour)
	require.NoError(t, err)
	pinned, err := certs.Generate(time.Hour)
	require.NoError(t, err)

	addr, _ := startQUICSource(t, served, nil)

	d := NewDialer(Options{CertFingerprint: pinned.FingerprintBase64(), DialTimeout: 3 * time.Second}, nil)
	_, err = d.Dial(context.Background(), "quic://"+addr+"/live")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
}

func TestSRTDialCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDialer(Options{DialTimeout: time.Second}, nil)
	_, err := d.Dial(ctx, "srt://127.0.0.1:1/live")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
}

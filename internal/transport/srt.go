package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/lens/internal/wire"
)

// srtReadBufferSize bounds one SRT read in message framing.
// 1316 bytes is the standard SRT live payload size.
const srtReadBufferSize = 1316 * 10

// SRTLatencyNs is the SRT latency setting in nanoseconds (120ms), shared
// with the stream source.
const SRTLatencyNs = 120_000_000

type srtConn struct {
	conn *srtgo.Conn
	mr   *wire.MessageReader
	buf  []byte
}

func (d *URLDialer) dialSRT(ctx context.Context, u *url.URL, framing wire.Framing) (Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = SRTLatencyNs
	cfg.StreamID = u.Query().Get("streamid")
	if cfg.StreamID == "" {
		cfg.StreamID = streamPath(u)
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(d.opts.DialTimeout)
	defer timer.Stop()

	// Drain the dial result in the background and close any leaked connection.
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		c := &srtConn{conn: res.conn}
		if framing == wire.FramingLength {
			c.mr = wire.NewMessageReader(res.conn, d.opts.MaxMessageSize)
		} else {
			c.buf = make([]byte, srtReadBufferSize)
		}
		return c, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("SRT dial timed out after %s", d.opts.DialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

func (c *srtConn) ReadMessage() ([]byte, error) {
	if c.mr != nil {
		return c.mr.ReadMessage()
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, n)
	copy(msg, c.buf[:n])
	return msg, nil
}

func (c *srtConn) Close() error {
	return c.conn.Close()
}

func (c *srtConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by ReadMessage on a closed MemoryConn.
var ErrClosed = errors.New("transport: connection closed")

// MemoryConn is an in-process Conn fed by Send. Messages keep their
// boundaries, which makes it behave like message framing.
type MemoryConn struct {
	msgs      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
	ended     chan struct{}
	addr      string
}

// NewMemoryConn creates a connection buffering up to depth messages.
func NewMemoryConn(addr string, depth int) *MemoryConn {
	return &MemoryConn{
		msgs:  make(chan []byte, depth),
		done:  make(chan struct{}),
		ended: make(chan struct{}),
		addr:  addr,
	}
}

// Send queues one message for the reader. It blocks while the buffer is
// full and fails once the connection is closed.
func (c *MemoryConn) Send(ctx context.Context, msg []byte) error {
	select {
	case c.msgs <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End makes ReadMessage return io.EOF once queued messages are read.
func (c *MemoryConn) End() {
	c.endOnce.Do(func() { close(c.ended) })
}

// Closed is closed when the reader side closes the connection.
func (c *MemoryConn) Closed() <-chan struct{} {
	return c.done
}

// ReadMessage returns the next queued message.
func (c *MemoryConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.done:
		return nil, ErrClosed
	case <-c.ended:
		select {
		case msg := <-c.msgs:
			return msg, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close unblocks any pending ReadMessage.
func (c *MemoryConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// RemoteAddr returns the address given to NewMemoryConn.
func (c *MemoryConn) RemoteAddr() string {
	return c.addr
}

// MemoryDialer hands out pre-registered MemoryConns by URL.
type MemoryDialer struct {
	mu    sync.Mutex
	conns map[string]*MemoryConn
	Err   error
}

// NewMemoryDialer creates an empty MemoryDialer.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{conns: make(map[string]*MemoryConn)}
}

// Register makes Dial(rawURL) return conn.
func (d *MemoryDialer) Register(rawURL string, conn *MemoryConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[rawURL] = conn
}

// Dial returns the registered connection or a *ConnectError.
func (d *MemoryDialer) Dial(_ context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, &ConnectError{URL: rawURL, Err: d.Err}
	}
	conn, ok := d.conns[rawURL]
	if !ok {
		return nil, &ConnectError{URL: rawURL, Err: errors.New("no such stream")}
	}
	return conn, nil
}

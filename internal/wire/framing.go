package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/lens/internal/media"
)

// DefaultMaxMessageSize bounds a length-framed message. It is larger than
// media.MaxPacketSize so an oversized packet still reaches the decoder and
// fails there as a single bad packet instead of tearing down the stream.
const DefaultMaxMessageSize = 2 * media.MaxPacketSize

// Framing selects how a transport delimits inbound messages.
type Framing int

// Supported framings.
const (
	// FramingMessage trusts transport message boundaries.
	FramingMessage Framing = iota
	// FramingLength prefixes every message with a QUIC varint length.
	FramingLength
)

func (f Framing) String() string {
	switch f {
	case FramingMessage:
		return "message"
	case FramingLength:
		return "length"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// ParseFraming maps a configuration string to a Framing. An empty string
// selects message framing.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "message", "compat", "":
		return FramingMessage, nil
	case "length":
		return FramingLength, nil
	default:
		return 0, fmt.Errorf("wire: unknown framing %q", s)
	}
}

// MessageReader reads length-framed messages from a byte stream.
type MessageReader struct {
	br  *bufio.Reader
	max uint64
}

// NewMessageReader wraps r. A max of zero selects DefaultMaxMessageSize.
func NewMessageReader(r io.Reader, max int) *MessageReader {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &MessageReader{br: br, max: uint64(max)}
}

// ReadMessage returns the next message. It returns io.EOF only at a clean
// message boundary; a stream cut mid-message yields a *ParseError wrapping
// io.ErrUnexpectedEOF.
func (r *MessageReader) ReadMessage() ([]byte, error) {
	n, err := quicvarint.Read(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ParseError{Field: "length", Err: err}
	}
	if n > r.max {
		return nil, &ParseError{
			Field: "length",
			Err:   fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, r.max),
		}
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(r.br, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &ParseError{Field: "payload", Err: err}
	}
	return msg, nil
}

// AppendMessage appends msg with its varint length prefix to buf.
func AppendMessage(buf, msg []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(msg)))
	return append(buf, msg...)
}

// WriteMessage writes msg to w as one length-framed message.
func WriteMessage(w io.Writer, msg []byte) error {
	buf := AppendMessage(make([]byte, 0, quicvarint.Len(uint64(len(msg)))+len(msg)), msg)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

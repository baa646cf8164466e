// Package wire implements the lens stream framing: the 11-byte in-band
// stream header and the two message framings a transport may use.
//
// In message framing every transport message is either one complete
// header or one complete encoded packet, and a message is a header only if
// it begins with the magic bytes. In length framing each message is
// preceded by a QUIC variable-length integer carrying its size, which
// removes the dependency on transport message boundaries.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/lens/internal/media"
)

// HeaderSize is the fixed length of a stream header.
const HeaderSize = 11

// Magic marks the start of a stream header.
var Magic = [4]byte{0xF1, 0xF2, 0xF3, 0xF4}

// StatusOK is the only header status that starts a stream.
const StatusOK = 0

// Header is the in-band marker sent once per stream (re)start, before any
// encoded bytes:
//
//	F1 F2 F3 F4 <status> <type> <w_hi> <w_lo> <h_hi> <h_lo> <fps>
type Header struct {
	Status byte
	Codec  media.CodecType
	Width  uint16
	Height uint16
	FPS    uint8
}

// OK reports whether the header announces a healthy stream.
func (h Header) OK() bool {
	return h.Status == StatusOK
}

// Parameters converts the header to the parameters handed to the decoder.
func (h Header) Parameters() media.StreamParameters {
	return media.StreamParameters{
		Codec:  h.Codec,
		Width:  int(h.Width),
		Height: int(h.Height),
		FPS:    int(h.FPS),
	}
}

// AppendTo appends the 11-byte encoding of h to buf.
func (h Header) AppendTo(buf []byte) []byte {
	buf = append(buf, Magic[:]...)
	buf = append(buf, h.Status, byte(h.Codec))
	buf = binary.BigEndian.AppendUint16(buf, h.Width)
	buf = binary.BigEndian.AppendUint16(buf, h.Height)
	return append(buf, h.FPS)
}

// Marshal returns the 11-byte encoding of h.
func (h Header) Marshal() []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// HasMagic reports whether chunk begins with the header magic.
func HasMagic(chunk []byte) bool {
	return len(chunk) >= len(Magic) &&
		chunk[0] == Magic[0] && chunk[1] == Magic[1] &&
		chunk[2] == Magic[2] && chunk[3] == Magic[3]
}

// ParseHeader decodes a header from the start of chunk. Bytes past
// HeaderSize are ignored. The status byte is not checked; a header with a
// non-zero status still parses.
func ParseHeader(chunk []byte) (Header, error) {
	if !HasMagic(chunk) {
		return Header{}, &ParseError{Field: "magic", Err: ErrNotHeader}
	}
	if len(chunk) < HeaderSize {
		return Header{}, &ParseError{
			Field: "header",
			Err:   fmt.Errorf("%w: %d bytes, need %d", ErrNotHeader, len(chunk), HeaderSize),
		}
	}

	h := Header{
		Status: chunk[4],
		Codec:  media.CodecType(chunk[5]),
		Width:  binary.BigEndian.Uint16(chunk[6:8]),
		Height: binary.BigEndian.Uint16(chunk[8:10]),
		FPS:    chunk[10],
	}
	if !h.Codec.Valid() {
		return h, &ParseError{
			Field: "type",
			Err:   fmt.Errorf("%w: %d", ErrUnknownCodec, chunk[5]),
		}
	}
	return h, nil
}

// Kind classifies one inbound message.
type Kind int

// Message kinds produced by Classify.
const (
	// KindPayload is encoded bitstream to forward as a packet.
	KindPayload Kind = iota
	// KindHeader is a well-formed header; check Header.OK for the status.
	KindHeader
	// KindMalformed starts with the magic and is long enough to be a
	// header, but a field is invalid. It is never forwarded as payload.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindHeader:
		return "header"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Classify inspects chunk at offset 0. A chunk that carries the magic but
// is shorter than HeaderSize cannot be a header and is payload. There is
// no resynchronization: the magic is only looked for at offset 0.
func Classify(chunk []byte) (Kind, Header, error) {
	if !HasMagic(chunk) || len(chunk) < HeaderSize {
		return KindPayload, Header{}, nil
	}
	h, err := ParseHeader(chunk)
	if err != nil {
		return KindMalformed, h, err
	}
	return KindHeader, h, nil
}

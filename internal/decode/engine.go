// Package decode drives an external decode engine. The Orchestrator owns
// the engine handle and the scratch buffer, feeds packets in arrival
// order, and turns engine callbacks into frame and parameter events.
package decode

import (
	"fmt"

	"github.com/zsiec/lens/internal/media"
)

// Handle identifies a live decoder instance inside an Engine. Zero means
// no decoder.
type Handle uint64

// Engine is the boundary to a decoding library.
//
// Init registers cb for the lifetime of the returned handle; the engine
// may invoke it before Init returns. Submit hands one encoded packet to
// the decoder; data is only valid for the duration of the call. Callbacks
// may fire synchronously inside Submit or later from another goroutine.
// Uninit releases the handle; callbacks after Uninit are ignored.
type Engine interface {
	Init(codec media.CodecType, cb Callbacks) (Handle, error)
	Submit(h Handle, data []byte) error
	Uninit(h Handle)
}

// Callbacks receives decoder output. buf holds one planar I420 picture
// and is only valid for the duration of the call. Implementations must
// not call Engine.Submit.
type Callbacks interface {
	OnFrame(buf []byte, ts int64)
	OnParam(width, height int)
}

// InitError reports that the engine refused a codec. The orchestrator
// stays without a decoder until the next stream header.
type InitError struct {
	Codec media.CodecType
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("decoder init %s: %v", e.Codec, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// OversizedPacketError reports a packet that does not fit the scratch
// buffer. The packet is failed; the stream continues.
type OversizedPacketError struct {
	Seq   uint64
	Size  int
	Limit int
}

func (e *OversizedPacketError) Error() string {
	return fmt.Sprintf("packet %d is %d bytes, limit %d", e.Seq, e.Size, e.Limit)
}

// Package media defines the values that flow through the lens playback
// pipeline, from encoded packets off the wire to decoded planar pictures
// handed to the render sink.
package media

import "fmt"

// Pipeline bounds shared by ingest, decode and presentation.
const (
	// MaxPacketSize is the size of the decoder scratch buffer. Larger
	// packets are a protocol violation and fail without being truncated.
	MaxPacketSize = 2 * 1024 * 1024

	// QueueCapacity bounds the presentation queue. Ingest stops admitting
	// packets once the queue holds this many frames.
	QueueCapacity = 100

	// FramesPerTick is how many frames one redraw may present, letting
	// rendering catch up when the redraw rate undershoots the source fps.
	FramesPerTick = 2
)

// CodecType identifies the elementary stream format announced in the
// stream header.
type CodecType uint8

// Codec types carried in the header's type byte.
const (
	CodecH264 CodecType = 0
	CodecH265 CodecType = 1
)

// Valid reports whether c is a codec the header may announce.
func (c CodecType) Valid() bool {
	return c == CodecH264 || c == CodecH265
}

func (c CodecType) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// StreamParameters is what a stream header announces before any encoded
// bytes of a stream (re)start.
type StreamParameters struct {
	Codec  CodecType `json:"codec"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	FPS    int       `json:"fps"`
}

// EncodedPacket is one transport message of still-encoded bitstream. Seq
// is the arrival order, which is also the decode order.
type EncodedPacket struct {
	Seq  uint64
	Data []byte
}

// DecodedFrame is one decoded picture in planar I420 layout: a full
// resolution luma plane followed by two quarter-size chroma planes.
// Width and Height are the dimensions in effect when the engine produced
// the frame; zero means unknown.
type DecodedFrame struct {
	PTS    int64
	Data   []byte
	Width  int
	Height int
}

// ParamUpdate reports the dimensions the engine actually decodes at.
type ParamUpdate struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlaneLayout holds picture dimensions together with the plane lengths
// derived from them, so the two are always updated as one value.
type PlaneLayout struct {
	Width    int
	Height   int
	YLength  int
	UVLength int
}

// NewPlaneLayout derives plane lengths for a width x height I420 picture.
func NewPlaneLayout(width, height int) PlaneLayout {
	if width <= 0 || height <= 0 {
		return PlaneLayout{}
	}
	return PlaneLayout{
		Width:    width,
		Height:   height,
		YLength:  width * height,
		UVLength: (width / 2) * (height / 2),
	}
}

// Valid reports whether the layout has known, positive dimensions.
func (l PlaneLayout) Valid() bool {
	return l.Width > 0 && l.Height > 0
}

// FrameSize is the number of bytes an I420 picture of this layout needs.
func (l PlaneLayout) FrameSize() int {
	return l.YLength + 2*l.UVLength
}

// Split slices data into its luma and chroma planes. It reports false if
// the layout is unknown or data is too short.
func (l PlaneLayout) Split(data []byte) (y, u, v []byte, ok bool) {
	if !l.Valid() || len(data) < l.FrameSize() {
		return nil, nil, nil, false
	}
	uEnd := l.YLength + l.UVLength
	return data[:l.YLength], data[l.YLength:uEnd], data[uEnd:l.FrameSize()], true
}

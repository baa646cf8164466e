// Package source serves elementary video streams to lens players. A clip
// read from an Annex B file is announced with a stream header and then
// sent one access unit per message, paced at the clip frame rate, over
// SRT or QUIC.
package source

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/zsiec/lens/internal/codec"
	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/wire"
)

// StatusUnavailable is the header status sent when a player asks for a
// stream key that is not published.
const StatusUnavailable byte = 1

// ErrEmptyClip is returned when a file holds no access units.
var ErrEmptyClip = errors.New("source: no access units in clip")

// Clip is an encoded clip split into access units.
type Clip struct {
	Params media.StreamParameters
	Units  [][]byte
}

// LoadClip reads an Annex B file.
func LoadClip(path string, c media.CodecType, fps int) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read clip: %w", err)
	}
	clip, err := NewClip(data, c, fps)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", path, err)
	}
	return clip, nil
}

// NewClip splits an Annex B stream into access units and takes the
// announced dimensions from its first SPS.
func NewClip(data []byte, c media.CodecType, fps int) (*Clip, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("source: unsupported codec %v", c)
	}
	if fps < 1 || fps > math.MaxUint8 {
		return nil, fmt.Errorf("source: fps %d out of range", fps)
	}
	units := codec.SplitAccessUnits(data, c)
	if len(units) == 0 {
		return nil, ErrEmptyClip
	}
	w, h, _ := codec.Dimensions(data, c)
	if w > math.MaxUint16 || h > math.MaxUint16 {
		return nil, fmt.Errorf("source: %dx%d does not fit the stream header", w, h)
	}
	return &Clip{
		Params: media.StreamParameters{Codec: c, Width: w, Height: h, FPS: fps},
		Units:  units,
	}, nil
}

// Header returns the stream header announcing the clip.
func (c *Clip) Header() wire.Header {
	return wire.Header{
		Status: wire.StatusOK,
		Codec:  c.Params.Codec,
		Width:  uint16(c.Params.Width),
		Height: uint16(c.Params.Height),
		FPS:    uint8(c.Params.FPS),
	}
}

// Interval is the time between two access units.
func (c *Clip) Interval() time.Duration {
	return time.Second / time.Duration(c.Params.FPS)
}

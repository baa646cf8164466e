// Package probe is a software decode engine that understands just enough
// of an Annex B bitstream to drive the pipeline without a codec library.
// It reads picture dimensions from each SPS and emits one synthetic I420
// picture per picture-bearing packet.
package probe

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/lens/internal/codec"
	"github.com/zsiec/lens/internal/decode"
	"github.com/zsiec/lens/internal/media"
)

var (
	// ErrUnknownHandle is returned by Submit for a released handle.
	ErrUnknownHandle = errors.New("probe: unknown handle")

	// ErrNoNALUnits is returned for a packet without an Annex B start code.
	ErrNoNALUnits = errors.New("probe: no NAL units in packet")
)

type decoder struct {
	codec  media.CodecType
	cb     decode.Callbacks
	layout media.PlaneLayout
	buf    []byte
	pts    int64
}

// Engine implements decode.Engine.
type Engine struct {
	log *slog.Logger

	mu       sync.Mutex
	next     decode.Handle
	decoders map[decode.Handle]*decoder
}

var _ decode.Engine = (*Engine)(nil)

// New creates an Engine. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:      log.With("component", "probe"),
		decoders: make(map[decode.Handle]*decoder),
	}
}

// Init creates a decoder for c.
func (e *Engine) Init(c media.CodecType, cb decode.Callbacks) (decode.Handle, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("probe: unsupported codec %s", c)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.decoders[e.next] = &decoder{codec: c, cb: cb}
	return e.next, nil
}

// Submit scans data. A new SPS size is reported through OnParam before
// the picture that follows it; a packet carrying slices yields one frame.
func (e *Engine) Submit(h decode.Handle, data []byte) error {
	e.mu.Lock()
	d, ok := e.decoders[h]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}

	nals := codec.Parse(data, d.codec)
	if len(nals) == 0 {
		return ErrNoNALUnits
	}

	if w, h, ok := codec.Dimensions(data, d.codec); ok && (w != d.layout.Width || h != d.layout.Height) {
		d.layout = media.NewPlaneLayout(w, h)
		d.buf = nil
		e.log.Debug("sequence parameters", "codec", d.codec, "width", w, "height", h)
		d.cb.OnParam(w, h)
	}

	if !codec.HasPicture(data, d.codec) || !d.layout.Valid() {
		return nil
	}
	d.cb.OnFrame(d.render(), d.pts)
	d.pts++
	return nil
}

// render paints a flat picture whose luma steps with the frame count and
// neutral chroma.
func (d *decoder) render() []byte {
	size := d.layout.FrameSize()
	if len(d.buf) != size {
		d.buf = make([]byte, size)
	}
	luma := byte(16 + d.pts%220)
	y, u, v, _ := d.layout.Split(d.buf)
	for i := range y {
		y[i] = luma
	}
	for i := range u {
		u[i] = 128
		v[i] = 128
	}
	return d.buf
}

// Uninit releases h.
func (e *Engine) Uninit(h decode.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.decoders, h)
}

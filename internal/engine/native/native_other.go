//go:build !darwin && !linux

package native

import (
	"errors"
	"log/slog"

	"github.com/zsiec/lens/internal/decode"
	"github.com/zsiec/lens/internal/media"
)

// LibPathEnv overrides the library search path.
const LibPathEnv = "LENS_DECODER_LIB"

var errUnsupported = errors.New("native: decoder library not supported on this platform")

// Engine is unavailable on this platform.
type Engine struct{}

// Available reports false on this platform.
func Available() bool { return false }

// New always fails on this platform.
func New(*slog.Logger) (*Engine, error) { return nil, errUnsupported }

// Init always fails on this platform.
func (*Engine) Init(media.CodecType, decode.Callbacks) (decode.Handle, error) {
	return 0, errUnsupported
}

// Submit always fails on this platform.
func (*Engine) Submit(decode.Handle, []byte) error { return errUnsupported }

// Uninit does nothing on this platform.
func (*Engine) Uninit(decode.Handle) {}

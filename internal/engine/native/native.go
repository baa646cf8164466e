//go:build darwin || linux

// Package native binds a shared decoder library through purego. The
// library exports
//
//	uint64_t lens_decoder_init(int32_t codec, void (*on_frame)(uint8_t *buf, int32_t len, int64_t ts),
//	                           void (*on_param)(int32_t width, int32_t height));
//	int32_t  lens_decoder_decode(uint64_t handle, const uint8_t *data, int32_t len);
//	void     lens_decoder_uninit(uint64_t handle);
//
// lens_decoder_init returns 0 on failure and lens_decoder_decode returns a
// negative value on error. on_frame buffers are only read during the
// callback. The library runs one decoder at a time, so the engine keeps
// at most one live handle.
package native

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/zsiec/lens/internal/decode"
	"github.com/zsiec/lens/internal/media"
)

// LibPathEnv overrides the library search path.
const LibPathEnv = "LENS_DECODER_LIB"

var (
	// ErrBusy is returned by Init while another handle is live.
	ErrBusy = errors.New("native: decoder already in use")

	// ErrUnknownHandle is returned by Submit for a handle that is not live.
	ErrUnknownHandle = errors.New("native: unknown handle")
)

var (
	libOnce sync.Once
	libErr  error

	decoderInit   func(codec int32, onFrame, onParam uintptr) uint64
	decoderDecode func(handle uint64, data uintptr, n int32) int32
	decoderUninit func(handle uint64)

	// C function pointers are created once per process; purego cannot
	// release them.
	onFrameCB uintptr
	onParamCB uintptr

	activeMu sync.Mutex
	active   decode.Callbacks
)

func libPaths() []string {
	var paths []string
	if p := os.Getenv(LibPathEnv); p != "" {
		paths = append(paths, p)
	}
	name := "liblens_decoder.so"
	if runtime.GOOS == "darwin" {
		name = "liblens_decoder.dylib"
	}
	return append(paths, name, "/usr/local/lib/"+name)
}

func load() error {
	libOnce.Do(func() {
		var lastErr error
		for _, path := range libPaths() {
			lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err != nil {
				lastErr = err
				continue
			}
			purego.RegisterLibFunc(&decoderInit, lib, "lens_decoder_init")
			purego.RegisterLibFunc(&decoderDecode, lib, "lens_decoder_decode")
			purego.RegisterLibFunc(&decoderUninit, lib, "lens_decoder_uninit")
			onFrameCB = purego.NewCallback(onFrame)
			onParamCB = purego.NewCallback(onParam)
			return
		}
		libErr = fmt.Errorf("native: load decoder library: %w", lastErr)
	})
	return libErr
}

func onFrame(buf uintptr, n int32, ts int64) {
	activeMu.Lock()
	cb := active
	activeMu.Unlock()
	if cb == nil || buf == 0 || n <= 0 {
		return
	}
	cb.OnFrame(unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(n)), ts)
}

func onParam(width, height int32) {
	activeMu.Lock()
	cb := active
	activeMu.Unlock()
	if cb != nil {
		cb.OnParam(int(width), int(height))
	}
}

// Engine implements decode.Engine on top of the shared library.
type Engine struct {
	log *slog.Logger

	mu     sync.Mutex
	handle decode.Handle
}

var _ decode.Engine = (*Engine)(nil)

// Available reports whether the decoder library can be loaded.
func Available() bool {
	return load() == nil
}

// New loads the library and creates an Engine. If log is nil,
// slog.Default() is used.
func New(log *slog.Logger) (*Engine, error) {
	if err := load(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With("component", "native")}, nil
}

// Init creates the library decoder for c. cb receives output until Uninit.
func (e *Engine) Init(c media.CodecType, cb decode.Callbacks) (decode.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		return 0, ErrBusy
	}

	setActive(cb)
	h := decode.Handle(decoderInit(int32(c), onFrameCB, onParamCB))
	if h == 0 {
		setActive(nil)
		return 0, fmt.Errorf("native: lens_decoder_init(%s) failed", c)
	}
	e.handle = h
	e.log.Debug("decoder created", "handle", h, "codec", c)
	return h, nil
}

// Submit decodes one packet. Callbacks fire on the calling goroutine.
func (e *Engine) Submit(h decode.Handle, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == 0 || h != e.handle {
		return ErrUnknownHandle
	}
	if len(data) == 0 {
		return nil
	}
	rc := decoderDecode(uint64(h), uintptr(unsafe.Pointer(&data[0])), int32(len(data)))
	runtime.KeepAlive(data)
	if rc < 0 {
		return fmt.Errorf("native: lens_decoder_decode returned %d", rc)
	}
	return nil
}

// Uninit destroys the library decoder.
func (e *Engine) Uninit(h decode.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == 0 || h != e.handle {
		return
	}
	setActive(nil)
	decoderUninit(uint64(h))
	e.handle = 0
}

func setActive(cb decode.Callbacks) {
	activeMu.Lock()
	active = cb
	activeMu.Unlock()
}

package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/wire"
)

// 256x192 Main profile SPS.
var sps = []byte{
	0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
	0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
	0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
	0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
	0x3a, 0x8e, 0x18, 0xc9,
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

var (
	keyframe = annexB(sps, []byte{0x68, 0xCE, 0x38, 0x80}, []byte{0x65, 0x88, 0x84})
	slice    = annexB([]byte{0x41, 0x9A, 0x02})
	clipData = bytes.Join([][]byte{keyframe, slice, slice, slice}, nil)
)

func testClip(t *testing.T, fps int) *Clip {
	t.Helper()
	clip, err := NewClip(clipData, media.CodecH264, fps)
	require.NoError(t, err)
	return clip
}

// recorder collects messages written to it.
type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (r *recorder) WriteMessage(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, bytes.Clone(msg))
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestNewClip(t *testing.T) {
	t.Parallel()

	clip := testClip(t, 25)
	assert.Equal(t, media.StreamParameters{Codec: media.CodecH264, Width: 256, Height: 192, FPS: 25}, clip.Params)
	require.Len(t, clip.Units, 4)
	assert.Equal(t, keyframe, clip.Units[0])
	assert.Equal(t, 40*time.Millisecond, clip.Interval())

	h := clip.Header()
	assert.True(t, h.OK())
	assert.Equal(t, uint16(256), h.Width)
	assert.Equal(t, uint16(192), h.Height)
	assert.Equal(t, uint8(25), h.FPS)
}

func TestNewClipErrors(t *testing.T) {
	t.Parallel()

	_, err := NewClip([]byte{1, 2, 3}, media.CodecH264, 30)
	assert.ErrorIs(t, err, ErrEmptyClip)

	_, err = NewClip(clipData, media.CodecType(9), 30)
	assert.Error(t, err)

	_, err = NewClip(clipData, media.CodecH264, 0)
	assert.Error(t, err)
	_, err = NewClip(clipData, media.CodecH264, 256)
	assert.Error(t, err)
}

func TestNewClipWithoutSPS(t *testing.T) {
	t.Parallel()

	clip, err := NewClip(bytes.Repeat(slice, 2), media.CodecH264, 30)
	require.NoError(t, err)
	assert.Zero(t, clip.Params.Width, "unknown dimensions are announced as zero")
	assert.Len(t, clip.Units, 2)
}

func TestLoadClip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.h264")
	require.NoError(t, os.WriteFile(path, clipData, 0o600))

	clip, err := LoadClip(path, media.CodecH264, 30)
	require.NoError(t, err)
	assert.Len(t, clip.Units, 4)

	_, err = LoadClip(filepath.Join(t.TempDir(), "missing.h264"), media.CodecH264, 30)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{name: "simple key", requested: "camera1", want: "camera1"},
		{name: "leading slash", requested: "/camera1", want: "camera1"},
		{name: "live prefix", requested: "live/camera1", want: "camera1"},
		{name: "slash and live prefix", requested: "/live/camera1", want: "camera1"},
		{name: "empty returns default", requested: "", want: "default"},
		{name: "just live/ returns default", requested: "live/", want: "default"},
		{name: "nested path preserved", requested: "studio/camera1", want: "studio/camera1"},
		{name: "live in name preserved", requested: "liveshow", want: "liveshow"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StreamKey(tc.requested); got != tc.want {
				t.Errorf("StreamKey(%q) = %q, want %q", tc.requested, got, tc.want)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	c := NewCatalog(nil)
	clip := testClip(t, 30)

	st, ok := c.Publish("live/cam1", clip)
	require.True(t, ok)
	assert.Equal(t, "cam1", st.Key)

	_, ok = c.Publish("cam1", clip)
	assert.False(t, ok, "duplicate key")

	_, ok = c.Publish("cam0", clip)
	require.True(t, ok)
	assert.Equal(t, []string{"cam0", "cam1"}, c.Keys())

	got, ok := c.Lookup("/live/cam1")
	require.True(t, ok)
	assert.Same(t, st, got)

	c.Remove("cam1")
	_, ok = c.Lookup("cam1")
	assert.False(t, ok)
	assert.Equal(t, []string{"cam0"}, c.Keys())
}

// chunkRecorder records individual writes.
type chunkRecorder struct {
	bytes.Buffer
	writes []int
}

func (c *chunkRecorder) Write(p []byte) (int, error) {
	c.writes = append(c.writes, len(p))
	return c.Buffer.Write(p)
}

func TestFramedWriterLength(t *testing.T) {
	t.Parallel()

	var out chunkRecorder
	w := newFramedWriter(&out, wire.FramingLength, 100)
	big := bytes.Repeat([]byte{0xAB}, 250)
	require.NoError(t, w.WriteMessage([]byte("hello")))
	require.NoError(t, w.WriteMessage(big))

	assert.Equal(t, []int{6, 100, 100, 52}, out.writes)

	r := wire.NewMessageReader(&out.Buffer, 0)
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
	msg, err = r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, big, msg)
	_, err = r.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramedWriterMessage(t *testing.T) {
	t.Parallel()

	var out chunkRecorder
	w := newFramedWriter(&out, wire.FramingMessage, srtChunkSize)
	require.NoError(t, w.WriteMessage(make([]byte, 3000)))
	assert.Equal(t, []int{1316, 1316, 368}, out.writes)
	assert.Equal(t, 3000, out.Len(), "message framing adds no prefix")
}

func TestServeSendsHeaderThenUnits(t *testing.T) {
	t.Parallel()

	st := &Stream{Key: "cam1", Clip: testClip(t, 200)}
	var rec recorder
	require.NoError(t, st.serve(context.Background(), &rec, false))

	require.Len(t, rec.msgs, 5)
	kind, h, err := wire.Classify(rec.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, wire.KindHeader, kind)
	assert.Equal(t, st.Clip.Header(), h)
	for i, unit := range st.Clip.Units {
		assert.Equal(t, unit, rec.msgs[i+1])
	}
	assert.Zero(t, st.Viewers())
}

func TestServePaces(t *testing.T) {
	t.Parallel()

	st := &Stream{Key: "cam1", Clip: testClip(t, 50)}
	var rec recorder
	start := time.Now()
	require.NoError(t, st.serve(context.Background(), &rec, false))

	// Four units at 20ms: the last goes out 60ms after the first.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestServeLoopsUntilCanceled(t *testing.T) {
	t.Parallel()

	st := &Stream{Key: "cam1", Clip: testClip(t, 250)}
	var rec recorder
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.serve(ctx, &rec, true) }()

	require.Eventually(t, func() bool { return rec.count() > 2*len(st.Clip.Units)+1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), st.Viewers())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Zero(t, st.Viewers())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, keyframe, rec.msgs[len(st.Clip.Units)+1], "the clip restarts from its first unit")
}

func TestServeWriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broken pipe")
	st := &Stream{Key: "cam1", Clip: testClip(t, 30)}
	err := st.serve(context.Background(), &recorder{err: boom}, true)
	assert.ErrorIs(t, err, boom)
}

func TestSendUnavailable(t *testing.T) {
	t.Parallel()

	var rec recorder
	require.NoError(t, sendUnavailable(&rec))
	require.Len(t, rec.msgs, 1)
	kind, h, _ := wire.Classify(rec.msgs[0])
	assert.Equal(t, wire.KindHeader, kind)
	assert.False(t, h.OK())
	assert.Equal(t, StatusUnavailable, h.Status)
}

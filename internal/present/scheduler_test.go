package present

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/render"
)

type upload struct {
	first         byte
	width, height int
	ylen, uvlen   int
}

// recordSink keeps the first luma byte of every picture as its tag.
type recordSink struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (r *recordSink) UploadPlanes(y, u, v []byte, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.uploads = append(r.uploads, upload{first: y[0], width: width, height: height, ylen: len(y), uvlen: len(u)})
	return nil
}

func (r *recordSink) got() []upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]upload(nil), r.uploads...)
}

func frame(tag byte, w, h int) media.DecodedFrame {
	l := media.NewPlaneLayout(w, h)
	data := make([]byte, l.FrameSize())
	data[0] = tag
	return media.DecodedFrame{PTS: int64(tag), Data: data, Width: w, Height: h}
}

func TestTickBatchesTwoFramesInOrder(t *testing.T) {
	t.Parallel()

	s := New(nil)
	sink := &recordSink{}
	s.Activate(sink, nil)

	for tag := byte(1); tag <= 5; tag++ {
		require.True(t, s.Push(frame(tag, 4, 2)))
	}
	assert.Equal(t, 5, s.Depth())

	assert.Equal(t, 2, s.Tick())
	assert.Equal(t, 3, s.Depth())
	assert.Equal(t, 2, s.Tick())
	assert.Equal(t, 1, s.Tick())
	assert.Equal(t, 0, s.Tick(), "empty queue is a no-op")
	assert.Equal(t, 0, s.Depth())

	var order []byte
	for _, u := range sink.got() {
		order = append(order, u.first)
		assert.Equal(t, 8, u.ylen)
		assert.Equal(t, 2, u.uvlen)
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, order)
	assert.Equal(t, int64(5), s.Stats().Rendered)
}

func TestPushBoundedByCapacity(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Activate(&recordSink{}, nil)
	for n := 0; n < media.QueueCapacity; n++ {
		require.True(t, s.Push(frame(byte(n), 2, 2)))
	}
	assert.False(t, s.Push(frame(0xFF, 2, 2)))
	assert.Equal(t, media.QueueCapacity, s.Depth())
	assert.Equal(t, int64(1), s.Stats().Dropped)
}

func TestNoRenderAfterDeactivate(t *testing.T) {
	t.Parallel()

	s := New(nil)
	sink := &recordSink{}
	s.Activate(sink, nil)
	for tag := byte(1); tag <= 10; tag++ {
		s.Push(frame(tag, 4, 2))
	}

	s.Deactivate()
	assert.Equal(t, 0, s.Depth())
	assert.Equal(t, 0, s.Tick())
	assert.False(t, s.Push(frame(11, 4, 2)), "in-flight pushes are dropped")
	assert.Equal(t, 0, s.Tick())
	assert.Empty(t, sink.got())
	assert.Equal(t, int64(11), s.Stats().Dropped)
}

func TestDeactivateWaitsForTick(t *testing.T) {
	t.Parallel()

	s := New(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var after atomic.Int64
	var deactivated atomic.Bool

	s.Activate(render.Func(func(_, _, _ []byte, _, _ int) error {
		if deactivated.Load() {
			after.Add(1)
		}
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}), nil)
	s.Push(frame(1, 2, 2))
	s.Push(frame(2, 2, 2))
	s.Push(frame(3, 2, 2))

	go s.Tick()
	<-entered

	done := make(chan struct{})
	go func() {
		s.Deactivate()
		deactivated.Store(true)
		close(done)
	}()
	close(release)
	<-done

	s.Tick()
	assert.Zero(t, after.Load())
	assert.Equal(t, 0, s.Depth())
}

func TestFrameDimensionsApplyBeforeRender(t *testing.T) {
	t.Parallel()

	s := New(nil)
	sink := &recordSink{}
	s.Activate(sink, nil)
	s.ApplyParams(media.ParamUpdate{Width: 4, Height: 2})

	s.Push(frame(1, 4, 2))
	s.Push(frame(2, 8, 4))
	s.Tick()

	got := sink.got()
	require.Len(t, got, 2)
	assert.Equal(t, upload{first: 1, width: 4, height: 2, ylen: 8, uvlen: 2}, got[0])
	assert.Equal(t, upload{first: 2, width: 8, height: 4, ylen: 32, uvlen: 8}, got[1])

	w, h := s.CurrentDimensions()
	assert.Equal(t, 8, w)
	assert.Equal(t, 4, h)
}

func TestApplyParamsUsedForUnstampedFrames(t *testing.T) {
	t.Parallel()

	s := New(nil)
	sink := &recordSink{}
	s.Activate(sink, nil)

	unstamped := frame(1, 6, 4)
	unstamped.Width, unstamped.Height = 0, 0
	s.Push(unstamped)
	assert.Equal(t, 0, s.Tick(), "no layout yet: frame dropped")

	s.ApplyParams(media.ParamUpdate{Width: 6, Height: 4})
	s.Push(unstamped)
	assert.Equal(t, 1, s.Tick())
	assert.Equal(t, upload{first: 1, width: 6, height: 4, ylen: 24, uvlen: 6}, sink.got()[0])
}

func TestShortFrameDropped(t *testing.T) {
	t.Parallel()

	s := New(nil)
	sink := &recordSink{}
	s.Activate(sink, nil)

	short := frame(1, 4, 2)
	short.Data = short.Data[:5]
	s.Push(short)
	s.Push(frame(2, 4, 2))

	assert.Equal(t, 1, s.Tick())
	assert.Equal(t, byte(2), sink.got()[0].first)
	assert.Equal(t, int64(1), s.Stats().Dropped)
}

func TestSinkErrorDoesNotStopPresentation(t *testing.T) {
	t.Parallel()

	s := New(nil)
	sink := &recordSink{err: errors.New("device lost")}
	s.Activate(sink, nil)
	s.Push(frame(1, 2, 2))
	assert.Equal(t, 0, s.Tick())

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	s.Push(frame(2, 2, 2))
	assert.Equal(t, 1, s.Tick())
}

func TestFirstFrameHookFiresOnce(t *testing.T) {
	t.Parallel()

	s := New(nil)
	var calls atomic.Int32
	hook := func() { calls.Add(1) }

	s.Activate(&recordSink{}, hook)
	s.Tick()
	assert.Zero(t, calls.Load(), "no frame, no hook")

	s.Push(frame(1, 2, 2))
	s.Push(frame(2, 2, 2))
	s.Push(frame(3, 2, 2))
	s.Tick()
	s.Tick()
	assert.Equal(t, int32(1), calls.Load())

	s.Deactivate()
	s.Activate(&recordSink{}, hook)
	s.Push(frame(4, 2, 2))
	s.Tick()
	assert.Equal(t, int32(2), calls.Load(), "re-armed by Activate")
}

func TestDriverTicks(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int32
	d := NewDriver(tickFunc(func() int { ticks.Add(1); return 0 }), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type tickFunc func() int

func (f tickFunc) Tick() int { return f() }

package source

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is a clip published under a stream key.
type Stream struct {
	Key       string
	Clip      *Clip
	StartedAt time.Time

	viewers atomic.Int64
}

// Viewers returns the number of players currently receiving the stream.
func (s *Stream) Viewers() int64 {
	return s.viewers.Load()
}

// Catalog holds the published streams, keyed by stream key.
type Catalog struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewCatalog creates an empty catalog. If log is nil, slog.Default() is used.
func NewCatalog(log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{
		log:     log.With("component", "source-catalog"),
		streams: make(map[string]*Stream),
	}
}

// Publish registers clip under key. It returns nil and false if the key
// is already taken.
func (c *Catalog) Publish(key string, clip *Clip) (*Stream, bool) {
	key = StreamKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.streams[key]; ok {
		c.log.Warn("stream already published, rejecting duplicate", "key", key)
		return nil, false
	}
	s := &Stream{Key: key, Clip: clip, StartedAt: time.Now()}
	c.streams[key] = s
	c.log.Info("stream published", "key", key, "codec", clip.Params.Codec,
		"width", clip.Params.Width, "height", clip.Params.Height,
		"fps", clip.Params.FPS, "units", len(clip.Units))
	return s, true
}

// Remove unpublishes key. Players already receiving it are not affected.
func (c *Catalog) Remove(key string) {
	key = StreamKey(key)

	c.mu.Lock()
	_, ok := c.streams[key]
	delete(c.streams, key)
	c.mu.Unlock()

	if ok {
		c.log.Info("stream removed", "key", key)
	}
}

// Lookup returns the stream a player asked for by path or SRT stream id.
func (c *Catalog) Lookup(requested string) (*Stream, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.streams[StreamKey(requested)]
	return s, ok
}

// Keys returns the published stream keys in sorted order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.streams))
	for k := range c.streams {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// StreamKey normalizes a requested path or stream id: leading slashes and
// a "live/" prefix are dropped, and an empty key maps to "default".
func StreamKey(requested string) string {
	requested = strings.TrimPrefix(requested, "/")
	requested = strings.TrimPrefix(requested, "live/")
	if requested == "" {
		return "default"
	}
	return requested
}

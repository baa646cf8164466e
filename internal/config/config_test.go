package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/wire"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second/60, cfg.Player.TickInterval())
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := decodeStrict([]byte(`
logLevel: debug
api:
  addr: 127.0.0.1:9999
player:
  url: quic://127.0.0.1:6001/live/cam1
  framing: length
  dialTimeout: 3s
  engine: native
source:
  file: clip.h265
  codec: h265
  fps: 25
  certValidity: 48h
`), &cfg)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Addr)
	assert.Equal(t, "quic://127.0.0.1:6001/live/cam1", cfg.Player.URL)
	assert.Equal(t, 3*time.Second, cfg.Player.DialTimeout)
	assert.Equal(t, EngineNative, cfg.Player.Engine)
	assert.Equal(t, 60, cfg.Player.TickRate, "unset keys keep defaults")
	assert.Equal(t, 48*time.Hour, cfg.Source.CertValidity)

	codec, err := cfg.Source.CodecType()
	require.NoError(t, err)
	assert.Equal(t, media.CodecH265, codec)
}

func TestDecodeStrictRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "player:\n  speed: 2\n"},
		{"two documents", "logLevel: info\n---\nlogLevel: debug\n"},
		{"wrong type", "player:\n  tickRate: fast\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			assert.Error(t, decodeStrict([]byte(tt.body), &cfg))
		})
	}
}

func TestDecodeStrictEmpty(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, decodeStrict(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookupFrom(map[string]string{
		"DEBUG":                     "1",
		"LENS_URL":                  "srt://10.0.0.1:6000?streamid=live/a",
		"LENS_TICK_RATE":            "30",
		"LENS_INSECURE_SKIP_VERIFY": "true",
		"LENS_DIAL_TIMEOUT":         "2s",
		"LENS_SOURCE_FPS":           "",
	})))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "srt://10.0.0.1:6000?streamid=live/a", cfg.Player.URL)
	assert.Equal(t, 30, cfg.Player.TickRate)
	assert.True(t, cfg.Player.InsecureSkipVerify)
	assert.Equal(t, 2*time.Second, cfg.Player.DialTimeout)
	assert.Equal(t, 30, cfg.Source.FPS, "empty values are ignored")
}

func TestApplyEnvBadValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"LENS_TICK_RATE":   "fast",
		"LENS_SOURCE_LOOP": "maybe",
	}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "LENS_TICK_RATE")
	assert.ErrorContains(t, err, "LENS_SOURCE_LOOP")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "logLevel"},
		{"framing", func(c *Config) { c.Player.Framing = "chunked" }, "player.framing"},
		{"engine", func(c *Config) { c.Player.Engine = "gpu" }, "player.engine"},
		{"tick rate", func(c *Config) { c.Player.TickRate = 0 }, "player.tickRate"},
		{"message size", func(c *Config) { c.Player.MaxMessageSize = 1024 }, "player.maxMessageSize"},
		{"dial timeout", func(c *Config) { c.Player.DialTimeout = 0 }, "player.dialTimeout"},
		{"codec", func(c *Config) { c.Source.Codec = "vp9" }, "source.codec"},
		{"fps", func(c *Config) { c.Source.FPS = 300 }, "source.fps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "player:\n  engine: probe\n  tickRate: 50\n")
	t.Setenv("LENS_TICK_RATE", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Player.TickRate, "environment overrides the file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, "player:\n  engine: gpu\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "player.engine")
}

func TestEmptyFramingMeansMessage(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, decodeStrict([]byte("player:\n  framing: \"\"\n"), &cfg))
	require.NoError(t, cfg.Validate())

	f, err := wire.ParseFraming(cfg.Player.Framing)
	require.NoError(t, err)
	assert.Equal(t, wire.FramingMessage, f)
}

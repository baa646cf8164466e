// Package config loads lens settings from an optional YAML file and
// LENS_* environment variables. Environment values win over the file,
// and the file wins over defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/lens/internal/media"
	"github.com/zsiec/lens/internal/wire"
)

// Engine names accepted by PlayerConfig.Engine.
const (
	EngineProbe  = "probe"
	EngineNative = "native"
)

// Config is the complete lens configuration.
type Config struct {
	LogLevel string       `yaml:"logLevel"`
	API      APIConfig    `yaml:"api"`
	Player   PlayerConfig `yaml:"player"`
	Source   SourceConfig `yaml:"source"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// PlayerConfig configures the playback pipeline.
type PlayerConfig struct {
	// URL starts playback at launch when set.
	URL                string        `yaml:"url"`
	Framing            string        `yaml:"framing"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	MaxMessageSize     int           `yaml:"maxMessageSize"`
	CertFingerprint    string        `yaml:"certFingerprint"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	Engine             string        `yaml:"engine"`
	// TickRate is the headless redraw rate in Hz.
	TickRate int `yaml:"tickRate"`
	// Output is where pictures are written: a file path, "-" for stdout,
	// or empty to discard them.
	Output string `yaml:"output"`
}

// SourceConfig configures lens-source.
type SourceConfig struct {
	SRTAddr  string `yaml:"srtAddr"`
	QUICAddr string `yaml:"quicAddr"`
	File     string `yaml:"file"`
	Codec    string `yaml:"codec"`
	FPS      int    `yaml:"fps"`
	Framing  string `yaml:"framing"`
	Loop     bool   `yaml:"loop"`
	// CertValidity is how long the generated QUIC certificate is valid.
	CertValidity time.Duration `yaml:"certValidity"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		API:      APIConfig{Addr: ":4480"},
		Player: PlayerConfig{
			Framing:        wire.FramingMessage.String(),
			DialTimeout:    10 * time.Second,
			MaxMessageSize: wire.DefaultMaxMessageSize,
			Engine:         EngineProbe,
			TickRate:       60,
		},
		Source: SourceConfig{
			SRTAddr:      ":6000",
			QUICAddr:     ":6001",
			Codec:        media.CodecH264.String(),
			FPS:          30,
			Framing:      wire.FramingMessage.String(),
			Loop:         true,
			CertValidity: 14 * 24 * time.Hour,
		},
	}
}

// Load reads path (if not empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := decodeStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeStrict decodes a single YAML document, rejecting unknown keys.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict parse: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("multiple documents or trailing content")
	}
	return nil
}

// ApplyEnv overrides fields from LENS_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	envInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	envBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	envDuration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	if _, ok := lookup("DEBUG"); ok {
		c.LogLevel = "debug"
	}
	env("LENS_LOG_LEVEL", &c.LogLevel)
	env("LENS_API_ADDR", &c.API.Addr)

	env("LENS_URL", &c.Player.URL)
	env("LENS_FRAMING", &c.Player.Framing)
	envDuration("LENS_DIAL_TIMEOUT", &c.Player.DialTimeout)
	envInt("LENS_MAX_MESSAGE_SIZE", &c.Player.MaxMessageSize)
	env("LENS_CERT_FINGERPRINT", &c.Player.CertFingerprint)
	envBool("LENS_INSECURE_SKIP_VERIFY", &c.Player.InsecureSkipVerify)
	env("LENS_ENGINE", &c.Player.Engine)
	envInt("LENS_TICK_RATE", &c.Player.TickRate)
	env("LENS_OUTPUT", &c.Player.Output)

	env("LENS_SOURCE_SRT_ADDR", &c.Source.SRTAddr)
	env("LENS_SOURCE_QUIC_ADDR", &c.Source.QUICAddr)
	env("LENS_SOURCE_FILE", &c.Source.File)
	env("LENS_SOURCE_CODEC", &c.Source.Codec)
	envInt("LENS_SOURCE_FPS", &c.Source.FPS)
	env("LENS_SOURCE_FRAMING", &c.Source.Framing)
	envBool("LENS_SOURCE_LOOP", &c.Source.Loop)
	envDuration("LENS_SOURCE_CERT_VALIDITY", &c.Source.CertValidity)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := wire.ParseFraming(c.Player.Framing); err != nil {
		errs = append(errs, fmt.Errorf("player.framing: %w", err))
	}
	if c.Player.DialTimeout <= 0 {
		errs = append(errs, errors.New("player.dialTimeout must be positive"))
	}
	if c.Player.MaxMessageSize < media.MaxPacketSize {
		errs = append(errs, fmt.Errorf("player.maxMessageSize must be at least %d", media.MaxPacketSize))
	}
	switch c.Player.Engine {
	case EngineProbe, EngineNative:
	default:
		errs = append(errs, fmt.Errorf("player.engine %q: want %s or %s", c.Player.Engine, EngineProbe, EngineNative))
	}
	if c.Player.TickRate < 1 || c.Player.TickRate > 240 {
		errs = append(errs, fmt.Errorf("player.tickRate %d: want 1-240", c.Player.TickRate))
	}
	if _, err := c.Source.CodecType(); err != nil {
		errs = append(errs, err)
	}
	if c.Source.FPS < 1 || c.Source.FPS > 255 {
		errs = append(errs, fmt.Errorf("source.fps %d: want 1-255", c.Source.FPS))
	}
	if _, err := wire.ParseFraming(c.Source.Framing); err != nil {
		errs = append(errs, fmt.Errorf("source.framing: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}

// CodecType parses Codec.
func (s SourceConfig) CodecType() (media.CodecType, error) {
	switch strings.ToLower(s.Codec) {
	case "h264", "avc":
		return media.CodecH264, nil
	case "h265", "hevc":
		return media.CodecH265, nil
	default:
		return 0, fmt.Errorf("source.codec %q: want h264 or h265", s.Codec)
	}
}

// TickInterval is the redraw period for TickRate.
func (p PlayerConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(p.TickRate)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lens/internal/api"
	"github.com/zsiec/lens/internal/config"
	"github.com/zsiec/lens/internal/decode"
	"github.com/zsiec/lens/internal/engine/native"
	"github.com/zsiec/lens/internal/engine/probe"
	"github.com/zsiec/lens/internal/player"
	"github.com/zsiec/lens/internal/present"
	"github.com/zsiec/lens/internal/render"
	"github.com/zsiec/lens/internal/transport"
	"github.com/zsiec/lens/internal/wire"
)

var version = "dev"

func main() {
	configPath := flag.String("config", envOr("LENS_CONFIG", ""), "YAML configuration file")
	url := flag.String("url", "", "Stream URL to play at startup (overrides config)")
	flag.Parse()

	if err := run(*configPath, *url); err != nil {
		slog.Error("lens failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, url string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if url != "" {
		cfg.Player.URL = url
	}

	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := newEngine(cfg.Player.Engine)
	if err != nil {
		return err
	}

	sink, closeSink, err := newSink(cfg.Player.Output)
	if err != nil {
		return err
	}
	defer closeSink()

	framing, _ := wire.ParseFraming(cfg.Player.Framing)
	dialer := transport.NewDialer(transport.Options{
		Framing:            framing,
		DialTimeout:        cfg.Player.DialTimeout,
		MaxMessageSize:     cfg.Player.MaxMessageSize,
		CertFingerprint:    cfg.Player.CertFingerprint,
		InsecureSkipVerify: cfg.Player.InsecureSkipVerify,
	}, nil)

	sess := player.New(player.Options{Dialer: dialer, Engine: engine})
	apiSrv := api.NewServer(api.ServerConfig{
		Addr:    cfg.API.Addr,
		Player:  sess,
		NewSink: func() render.Sink { return sink },
	})

	slog.Info("lens starting",
		"version", version,
		"api", cfg.API.Addr,
		"engine", cfg.Player.Engine,
		"framing", framing,
		"tick_rate", cfg.Player.TickRate,
	)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(runCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return present.NewDriver(sess, cfg.Player.TickInterval()).Run(gctx)
	})
	g.Go(func() error {
		return apiSrv.Start(gctx)
	})
	if cfg.Player.URL != "" {
		g.Go(func() error {
			autoplay(gctx, sess, cfg.Player.URL, sink)
			return nil
		})
	}
	err = g.Wait()

	if cerr := sess.Close(); cerr != nil {
		slog.Warn("stop did not complete", "error", cerr)
	}
	stopRun()
	if rerr := <-runDone; err == nil {
		err = rerr
	}
	slog.Info("lens stopped")
	return err
}

// autoplay starts the configured URL once the session accepts plays.
func autoplay(ctx context.Context, sess *player.Session, url string, sink render.Sink) {
	for {
		err := sess.Play(ctx, url, sink)
		if !errors.Is(err, player.ErrNoDecoder) {
			if err != nil {
				slog.Error("autoplay failed", "url", url, "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newEngine(name string) (decode.Engine, error) {
	switch name {
	case config.EngineNative:
		e, err := native.New(nil)
		if err != nil {
			return nil, fmt.Errorf("native decoder: %w", err)
		}
		return e, nil
	default:
		return probe.New(nil), nil
	}
}

// newSink opens the configured picture output.
func newSink(output string) (render.Sink, func(), error) {
	switch output {
	case "":
		return &render.Discard{}, func() {}, nil
	case "-":
		return render.NewRaw(os.Stdout), func() {}, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return render.NewRaw(f), func() { closeQuietly(f) }, nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("close output", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

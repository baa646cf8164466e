package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lens/internal/api"
	"github.com/zsiec/lens/internal/certs"
	"github.com/zsiec/lens/internal/config"
	"github.com/zsiec/lens/internal/source"
	"github.com/zsiec/lens/internal/wire"
)

var version = "dev"

func main() {
	configPath := flag.String("config", envOr("LENS_CONFIG", ""), "YAML configuration file")
	file := flag.String("file", "", "Annex B clip to serve (overrides config)")
	key := flag.String("key", "default", "Stream key to publish the clip under")
	apiAddr := flag.String("api", ":4481", "Control API address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *file, *key, *apiAddr); err != nil {
		slog.Error("lens-source failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, file, key, apiAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if file != "" {
		cfg.Source.File = file
	}
	if apiAddr != "" {
		cfg.API.Addr = apiAddr
	}
	if cfg.Source.File == "" {
		return errors.New("no clip: set -file or source.file")
	}

	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	codec, _ := cfg.Source.CodecType()
	clip, err := source.LoadClip(cfg.Source.File, codec, cfg.Source.FPS)
	if err != nil {
		return err
	}
	catalog := source.NewCatalog(nil)
	catalog.Publish(key, clip)

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(cfg.Source.CertValidity)
	if err != nil {
		return err
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	framing, _ := wire.ParseFraming(cfg.Source.Framing)
	srtSrv := source.NewSRTServer(cfg.Source.SRTAddr, catalog, framing, cfg.Source.Loop, nil)
	quicSrv := source.NewQUICServer(cfg.Source.QUICAddr, cert, catalog, cfg.Source.Loop, nil)
	apiSrv := api.NewServer(api.ServerConfig{
		Addr:     cfg.API.Addr,
		CertHash: cert.FingerprintBase64,
		Streams:  catalog.Keys,
	})

	slog.Info("lens-source starting",
		"version", version,
		"srt", cfg.Source.SRTAddr,
		"quic", cfg.Source.QUICAddr,
		"api", cfg.API.Addr,
		"clip", cfg.Source.File,
		"key", source.StreamKey(key),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srtSrv.Start(ctx) })
	g.Go(func() error { return quicSrv.Start(ctx) })
	g.Go(func() error { return apiSrv.Start(ctx) })
	return g.Wait()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Package main runs the telephony recording adapter: a webhook receiver
// that normalizes vendor "recording finished" notifications into vCon
// conversation records and relays them to a conserver endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
	"github.com/vconbridge/telephony-adapters/internal/httpapi"
	"github.com/vconbridge/telephony-adapters/internal/observability"
	"github.com/vconbridge/telephony-adapters/internal/pipeline"
	"github.com/vconbridge/telephony-adapters/internal/poster"
	"github.com/vconbridge/telephony-adapters/internal/sysutil"
	"github.com/vconbridge/telephony-adapters/internal/tracker"
	"github.com/vconbridge/telephony-adapters/internal/vcon"
	"github.com/vconbridge/telephony-adapters/internal/vendors"
	"github.com/vconbridge/telephony-adapters/internal/verify"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Optional .env for local development; real deployments use the process env.
	_ = godotenv.Load()

	// A vendor named as the first argument overrides VENDOR.
	if len(os.Args) > 1 && os.Args[1] != "" {
		os.Setenv("VENDOR", os.Args[1])
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("vendor", string(cfg.Vendor)).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("opentelemetry setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("opentelemetry shutdown")
		}
	}()

	db, err := tracker.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("ledger database open failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			logger.Warn().Err(err).Msg("gorm tracing plugin")
		}
	}
	tr := tracker.New(db, cfg.MaxAttempts)

	adapter, verifier, err := vendors.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("vendor adapter setup failed")
	}
	if _, disabled := verifier.(verify.Disabled); disabled {
		logger.Warn().Msg("webhook verification disabled, accepting unauthenticated notifications")
	}

	var fetcher *fetch.Client
	if cfg.DownloadRecordings {
		root := ""
		switch cfg.Vendor {
		case config.VendorFreeSwitch:
			root = cfg.FreeSwitch.RecordingsPath
		case config.VendorAsterisk:
			root = cfg.Asterisk.RecordingsPath
		}
		fetcher = fetch.NewClient(cfg.RecordingFormat, cfg.FetchTimeout, root)
	}

	builder := vcon.NewBuilder(adapter.Name(), cfg.RecordingFormat)
	po := poster.New(cfg.Conserver)
	pl := pipeline.New(adapter, verifier, tr, fetcher, builder, po,
		cfg.Workers, cfg.QueueSize, logger)

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		pl.Run(ctx)
	}()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, pl, tr, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("adapter listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// Stop accepting webhooks first, then let the workers drain the queue.
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	select {
	case <-workersDone:
	case <-time.After(45 * time.Second):
		logger.Warn().Msg("workers did not drain in time")
	}
	logger.Info().Msg("stopped")
}

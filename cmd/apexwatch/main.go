// Package main is the entry point for the apexwatch live-monitoring client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apexwatch/client/internal/api"
	"github.com/apexwatch/client/internal/config"
	"github.com/apexwatch/client/internal/ingest"
	"github.com/apexwatch/client/internal/metrics"
	"github.com/apexwatch/client/internal/session"
	"github.com/apexwatch/client/internal/ui"
	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds the API server's graceful shutdown.
const ShutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger, logCloser, err := setupLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("apexwatch_failed")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("version", "1.0.0").Msg("apexwatch_starting")
	logger.Info().
		Str("ws_url", cfg.MaskedWSURL()).
		Str("http_url", cfg.MaskedHTTPURL()).
		Dur("recovery_delay", cfg.RecoveryDelay()).
		Dur("heartbeat_timeout", cfg.HeartbeatTimeout()).
		Bool("enable_tui", cfg.EnableTUI).
		Str("api_addr", cfg.APIAddr).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("config_loaded")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	tracker := metrics.NewTracker()

	// Diagnostic probe of the producer's HTTP API
	go func() {
		prober := ingest.NewProber(cfg.HTTPURL, logger)
		if status, ok := prober.LogStatus(ctx); ok {
			tracker.SetProducerStatus(status.Status, status.Signals)
		}
	}()

	sup := session.NewSupervisor(cfg.WSURL, logger,
		session.WithRecorder(tracker),
		session.WithListenerOptions(
			ingest.WithRecoveryDelay(cfg.RecoveryDelay()),
			ingest.WithHeartbeat(cfg.HeartbeatTimeout(), cfg.PingInterval()),
		),
	)

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	var server *api.Server
	if cfg.APIAddr != "" {
		var exported *metrics.Tracker
		if cfg.MetricsEnabled {
			exported = tracker
		}
		server = api.NewServer(cfg.APIAddr, sup, exported, logger)
		server.Start()
	}

	logger.Info().Bool("tui_enabled", cfg.EnableTUI).Msg("client_started")

	if cfg.EnableTUI {
		logger.Info().Msg("starting_tui")
		app := ui.NewApp(sup, tracker, cfg.UIRefreshRate())

		tuiDone := make(chan error, 1)
		go func() { tuiDone <- app.Run() }()

		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("shutdown_signal_received")
			app.Stop()
			<-tuiDone
		case err := <-tuiDone:
			if err != nil {
				logger.Error().Err(err).Msg("tui_error")
			} else {
				logger.Info().Msg("tui_closed")
			}
		}
	} else {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutdown_signal_received")
	}

	// Graceful shutdown
	logger.Info().Msg("shutting_down")
	cancel()

	if err := <-supDone; err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api_shutdown_failed")
		}
	}

	snap := tracker.Snapshot()
	logger.Info().
		Int64("frames", snap.FramesTotal).
		Int64("updates", snap.UpdatesApplied).
		Int64("restarts", snap.Restarts).
		Msg("shutdown_complete")
	return nil
}

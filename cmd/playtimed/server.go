package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/playtimed/internal/api"
	"github.com/goodtune/playtimed/internal/clock"
	"github.com/goodtune/playtimed/internal/config"
	"github.com/goodtune/playtimed/internal/metrics"
	"github.com/goodtune/playtimed/internal/storage/bolt"
	"github.com/goodtune/playtimed/internal/storage/csvlog"
	"github.com/goodtune/playtimed/internal/systemd"
	"github.com/goodtune/playtimed/internal/tracker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the playtimed daemon",
	Long:  `Start the playtimed daemon with the local API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	bootLogger := log.Logger

	// Load configuration
	cfg, err := config.Load(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting playtimed")

	// Initialize session log
	sessionLog, err := csvlog.Open(cfg.Storage.LogPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session log: %w", err)
	}

	logger.Info().Str("path", cfg.Storage.LogPath).Msg("Session log initialized")

	// Initialize checkpoint store
	checkpoints, err := bolt.Open(cfg.Storage.CheckpointPath)
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}
	defer func() {
		if err := checkpoints.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close checkpoint store")
		}
	}()

	// Initialize trusted clock and reconcile once at startup
	trustedClock := clock.NewTrusted(clock.SystemClock{}, clock.Config{
		Server:  cfg.Clock.NTPServer,
		Timeout: cfg.NTPTimeout(),
	}, logger)
	trustedClock.Sync()

	logger.Info().
		Str("ntp_server", cfg.Clock.NTPServer).
		Dur("offset", trustedClock.Offset()).
		Msg("Trusted clock initialized")

	// Initialize tracker and recover any interrupted session
	trk := tracker.New(trustedClock, sessionLog, checkpoints, cfg.QuotaPolicy(), logger)
	if err := trk.Recover(); err != nil {
		logger.Error().Err(err).Msg("Failed to recover interrupted session")
	}

	// Push config reloads into the tracker
	config.Watch(configPath, logger, func(next *config.Config) {
		trk.SetQuotaConfig(next.QuotaPolicy())
	})

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.Server.MetricsAddr, logger)
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Start API server
	apiServer := api.NewServer(cfg.Server.APIAddr, trk, cfg, logger)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Drive the tracker: the engine performs no internal scheduling, the
	// daemon ticks it on a periodic cadence.
	tickerStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				trk.Tick()
				if _, err := trk.TodayStatus(); err != nil {
					logger.Warn().Err(err).Msg("Failed to refresh today status")
				}
			case <-tickerStop:
				return
			}
		}
	}()

	systemd.NotifyReady(logger)
	logger.Info().
		Str("api", cfg.Server.APIAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("playtimed startup complete")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	systemd.NotifyStopping(logger)

	close(tickerStop)

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	// Never drop in-progress playtime: force-stop a running session.
	if err := trk.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to persist in-progress session on shutdown")
	}

	logger.Info().Msg("playtimed stopped")
	return nil
}

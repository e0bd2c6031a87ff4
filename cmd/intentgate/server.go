package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/intentgate/internal/api"
	"github.com/goodtune/intentgate/internal/config"
	"github.com/goodtune/intentgate/internal/host"
	"github.com/goodtune/intentgate/internal/metrics"
	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/goodtune/intentgate/internal/session"
	"github.com/goodtune/intentgate/internal/storage"
	"github.com/goodtune/intentgate/internal/storage/bolt"
	"github.com/goodtune/intentgate/internal/storage/redis"
	"github.com/goodtune/intentgate/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start IntentGate daemon",
	Long:  `Start the IntentGate daemon with the event ingest API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting IntentGate")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize decision engine
	engine := scheduler.NewEngine(scheduler.EngineConfig{
		Quota: scheduler.Quota{
			MaxUses:   cfg.Quota.MaxUses,
			Window:    parseDuration(cfg.Quota.Window, time.Hour),
			Unlimited: cfg.Quota.Unlimited,
		},
		DecisionCacheSize: cfg.Scheduler.DecisionCacheSize,
		DecisionCacheTTL:  parseDuration(cfg.Scheduler.DecisionCacheTTL, scheduler.DefaultDecisionCacheTTL),
	}, logger)

	logger.Info().
		Int("quota_max_uses", cfg.Quota.MaxUses).
		Str("quota_window", cfg.Quota.Window).
		Bool("quota_unlimited", cfg.Quota.Unlimited).
		Msg("Decision engine initialized")

	// Initialize host notifier
	notifier, closeNotifier, err := buildNotifier(cfg.Host, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize host notifier: %w", err)
	}
	if closeNotifier != nil {
		defer closeNotifier()
	}

	// Initialize session controller and pipeline
	sessions := session.NewController(nil, logger)
	service := scheduler.NewService(store, engine, sessions, notifier, logger)

	// Initialize retention scheduler
	retention := scheduler.NewRetentionScheduler(
		store,
		time.Duration(cfg.Scheduler.DecisionLogRetentionDays)*24*time.Hour,
		logger,
	)
	retention.Start()

	// Start API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, service, store, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	apiServer.Start()

	// Start metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	logger.Info().
		Str("api_addr", apiAddr).
		Str("metrics_addr", metricsAddr).
		Msg("IntentGate started")

	// Wait for signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			// Configuration is immutable while running; SIGHUP only
			// re-opens the log level from the environment.
			logger.Info().Msg("SIGHUP received, ignoring (restart to change configuration)")
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	retention.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("IntentGate stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// buildNotifier picks the host delivery mechanism from configuration. DBus
// takes precedence; a webhook URL is the portable fallback; with neither,
// decisions are recorded but not delivered.
func buildNotifier(cfg config.HostConfig, logger zerolog.Logger) (scheduler.Notifier, func(), error) {
	if cfg.DBusEnabled {
		n, err := host.NewDBusNotifier(logger)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { _ = n.Close() }, nil
	}
	if cfg.WebhookURL != "" {
		return host.NewWebhookNotifier(cfg.WebhookURL, parseDuration(cfg.Timeout, 5*time.Second), logger), nil, nil
	}
	logger.Warn().Msg("No host delivery configured, launch decisions will only be recorded")
	return host.NopNotifier{}, nil, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

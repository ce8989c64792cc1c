// Package main is the entrypoint for the Tadreeb LMS licensing server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abmarne/tadreeblms/internal/api"
	"github.com/Abmarne/tadreeblms/internal/config"
	"github.com/Abmarne/tadreeblms/internal/crypto"
	"github.com/Abmarne/tadreeblms/internal/db"
	"github.com/Abmarne/tadreeblms/internal/httpclient"
	"github.com/Abmarne/tadreeblms/internal/keygen"
	"github.com/Abmarne/tadreeblms/internal/license"
	"github.com/Abmarne/tadreeblms/internal/maintenance"
	"github.com/Abmarne/tadreeblms/internal/notifications"
	"github.com/rs/zerolog"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Tadreeb LMS licensing server")

	cfg := config.LoadServerConfig()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// License keys are encrypted at rest when a key manager is configured.
	var keyManager *crypto.KeyManager
	if encryptionKeyHex := os.Getenv("ENCRYPTION_KEY"); encryptionKeyHex != "" {
		masterKey, err := crypto.MasterKeyFromHex(encryptionKeyHex)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to decode ENCRYPTION_KEY")
			return 1
		}
		keyManager, err = crypto.NewKeyManager(masterKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize key manager")
			return 1
		}
	} else {
		logger.Warn().Msg("ENCRYPTION_KEY not set, license keys will be stored in plaintext")
	}

	keygenCfg := config.LoadKeygenConfig()
	if !keygenCfg.IsConfigured() {
		logger.Warn().Msg("Licensing server account/product not configured, remote license operations disabled")
	}

	httpClient, err := httpclient.New(httpclient.Options{
		Timeout:     httpclient.DefaultTimeout,
		ProxyConfig: config.LoadProxyConfig(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build HTTP client")
		return 1
	}

	client := keygen.NewClient(&keygenCfg, httpClient, logger)
	roster := license.NewReconciler(database, client, logger)
	lifecycle := license.NewService(database, client, keyManager, &keygenCfg, roster, logger)
	quota := license.NewQuotaEnforcer(database, logger)

	// Email notifications are optional; checks still run without them.
	var mailer maintenance.Mailer
	smtpCfg := config.LoadSMTPConfig()
	if smtpCfg.Enabled() {
		emailService, err := notifications.NewEmailService(smtpCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize email service")
			return 1
		}
		mailer = emailService
	} else {
		logger.Info().Msg("SMTP not configured, license notifications disabled")
	}

	scheduler := maintenance.NewScheduler(lifecycle, quota, database, mailer, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
		return 1
	}
	defer scheduler.Stop()

	apiCfg := api.DefaultConfig()
	apiCfg.RateLimitRequests = cfg.RateLimitRequests
	apiCfg.RateLimitPeriod = cfg.RateLimitPeriod
	apiCfg.Version = Version

	router, err := api.NewRouter(apiCfg, database, lifecycle, quota, roster, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build API router")
		return 1
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		return 1
	}

	logger.Info().Msg("Server stopped")
	return 0
}

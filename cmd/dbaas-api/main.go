package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/api"
	"github.com/edvin/dbaas/internal/archive"
	"github.com/edvin/dbaas/internal/config"
	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/db"
	"github.com/edvin/dbaas/internal/logging"
	"github.com/edvin/dbaas/internal/metrics"
	"github.com/edvin/dbaas/internal/store"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", db.CoreMigrationsDir, "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("dbaas-api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.CoreDatabaseURL, *migrateDirFlag, logger); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, corePool)

	adapters, err := adapter.LoadRegistryFile(cfg.AdapterRegistryFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.AdapterRegistryFile).Msg("failed to load adapter registry")
	}

	repo := store.NewPostgres(corePool)
	checks := []api.ReadinessCheck{{Name: "database", Check: corePool.Ping}}

	var launcher core.Launcher
	var local *core.LocalLauncher
	switch cfg.TrackingMode {
	case config.TrackingLocal:
		engine := core.NewEngine(repo,
			core.NewDispatcher(repo, adapters, logger, cfg.DispatchConcurrency),
			core.NewTracker(repo, adapters, logger, cfg.PollInterval, cfg.PollMaxFailures))
		local = core.NewLocalLauncher(ctx, engine, logger)
		launcher = local
	default:
		tc := dialTemporal(cfg, logger)
		defer tc.Close()
		launcher = core.NewTemporalLauncher(tc, cfg.TemporalTaskQueue)
		checks = append(checks, api.ReadinessCheck{Name: "temporal", Check: func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
			return err
		}})
	}

	var metadataArchive core.MetadataArchive
	if cfg.MetadataArchiveEnabled() {
		metadataArchive = archive.New(archive.Config{
			Endpoint:  cfg.MetadataS3Endpoint,
			Region:    cfg.MetadataS3Region,
			AccessKey: cfg.MetadataS3AccessKey,
			SecretKey: cfg.MetadataS3SecretKey,
			Bucket:    cfg.MetadataS3Bucket,
		}, logger)
		logger.Info().Str("bucket", cfg.MetadataS3Bucket).Msg("metadata archive enabled")
	}

	services := core.NewServices(core.Deps{
		Repo:     repo,
		Registry: store.NewPostgresRegistry(corePool),
		Adapters: adapters,
		Launcher: launcher,
		Archive:  metadataArchive,
		Logger:   logger,
	})

	srv := api.NewServer(logger, services, checks...)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if local != nil {
		if err := local.Resume(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to resume unfinished operations")
		}
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Str("tracking_mode", cfg.TrackingMode).Msg("starting dbaas API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Local runs resume from persisted state on the next start.
	cancel()
	if local != nil {
		local.Wait()
	}
}

func dialTemporal(cfg *config.Config, logger zerolog.Logger) temporalclient.Client {
	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	return tc
}

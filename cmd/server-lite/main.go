package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/analytics"
	"github.com/therapy-match-server/internal/api"
	"github.com/therapy-match-server/internal/cache"
	"github.com/therapy-match-server/internal/config"
	"github.com/therapy-match-server/internal/domain"
	"github.com/therapy-match-server/internal/repository"
	"github.com/therapy-match-server/internal/service"
)

func main() {
	cfg := config.LoadLiteConfig()

	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	logger := logrus.New()
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"data_dir":  cfg.DataDir,
		"http_port": cfg.HTTPPort,
	}).Info("Starting therapy match server (lite)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	repo, err := repository.NewFileRepository(cfg.FixturesDir(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load fixtures")
	}

	store, err := analytics.NewSQLiteStore(cfg.AnalyticsDBPath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open analytics database")
	}
	defer store.Close()

	recorder := analytics.NewRecorder(store, logger, cfg.AnalyticsConfig(),
		analytics.WithTherapistDirectory(repo))
	recorder.Start()

	memory := cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)
	defer memory.Close()

	matchingCfg := cfg.MatchingConfig()
	tables := service.DefaultScoringTables()
	builder := service.NewConditionProfileBuilder(tables)
	matching := service.NewMatchingService(
		logger,
		service.NewMatchingScorer(logger, builder, tables),
		service.NewCompatibilityAnalyzer(logger, builder),
		repo,
		repo,
		recorder,
		memory,
		service.MatchingServiceConfig{
			AlgorithmVersion: matchingCfg.AlgorithmVersion,
			MaxConcurrency:   matchingCfg.MaxConcurrency,
			DefaultLimit:     matchingCfg.DefaultLimit,
			CacheTTL:         cfg.CacheTTL,
		},
	)

	server := api.NewServer(domain.ServerConfig{
		Host:         "0.0.0.0",
		Port:         cfg.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}, logger, api.Dependencies{
		Matcher:   matching,
		Analytics: recorder,
		Cache:     memory,
		HealthChecks: map[string]api.HealthCheck{
			"analytics": store.Ping,
		},
		AlgorithmVersion: matchingCfg.AlgorithmVersion,
	})

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := recorder.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Analytics queue not fully drained")
	}

	logger.Info("Server stopped")
}

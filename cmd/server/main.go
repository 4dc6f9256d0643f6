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
	"github.com/therapy-match-server/internal/database"
	"github.com/therapy-match-server/internal/domain"
	"github.com/therapy-match-server/internal/repository"
	"github.com/therapy-match-server/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":              cfg.Server.Host,
		"port":              cfg.Server.Port,
		"environment":       cfg.Environment,
		"algorithm_version": cfg.Matching.AlgorithmVersion,
	}).Info("Starting therapy match server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, cfg.Database, logger); err != nil {
			logger.WithError(err).Fatal("Failed to run database migrations")
		}
	}

	clients := repository.NewClientRepository(db.Pool, logger)
	therapists := repository.NewTherapistRepository(db.Pool, logger)

	store, err := analytics.NewPostgresStoreFromURL(
		database.URL(cfg.Database),
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open analytics store")
	}
	defer store.Close()

	recorder := analytics.NewRecorder(store, logger, cfg.Analytics,
		analytics.WithTherapistDirectory(therapists))
	recorder.Start()

	rankings := newRankingCache(cfg.Cache, logger)
	defer rankings.Close()

	tables := service.DefaultScoringTables()
	builder := service.NewConditionProfileBuilder(tables)
	matching := service.NewMatchingService(
		logger,
		service.NewMatchingScorer(logger, builder, tables),
		service.NewCompatibilityAnalyzer(logger, builder),
		clients,
		therapists,
		recorder,
		rankings,
		service.MatchingServiceConfig{
			AlgorithmVersion: cfg.Matching.AlgorithmVersion,
			MaxConcurrency:   cfg.Matching.MaxConcurrency,
			DefaultLimit:     cfg.Matching.DefaultLimit,
			CacheTTL:         cfg.Cache.DefaultTTL,
			WeightProfiles:   cfg.Matching.Profiles(),
		},
	)

	server := api.NewServer(cfg.Server, logger, api.Dependencies{
		Matcher:   matching,
		Analytics: recorder,
		Cache:     rankings,
		HealthChecks: map[string]api.HealthCheck{
			"database": db.Health,
			"cache":    rankings.Ping,
		},
		AlgorithmVersion: cfg.Matching.AlgorithmVersion,
	})

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
	}

	// Drain queued analytics writes before the stores close
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := recorder.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Analytics queue not fully drained")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch cfg.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.WithError(err).Warn("Cannot open log file, logging to stdout")
			logger.SetOutput(os.Stdout)
		} else {
			logger.SetOutput(f)
		}
	}

	return logger
}

// newRankingCache always keeps an in-process tier; Redis is added as the
// shared tier when enabled and reachable.
func newRankingCache(cfg domain.CacheConfig, logger *logrus.Logger) *cache.TieredCache {
	memory := cache.NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL)
	if !cfg.Enabled {
		return cache.NewTieredCache(memory, nil, logger)
	}

	remote, err := cache.NewRedisCache(cfg)
	if err != nil {
		logger.WithError(err).Warn("Redis cache unavailable, using in-memory cache only")
		return cache.NewTieredCache(memory, nil, logger)
	}
	return cache.NewTieredCache(memory, remote, logger)
}

// Package api exposes the matching engine and its analytics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
	"github.com/therapy-match-server/internal/middleware"
	"github.com/therapy-match-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Matcher ranks therapists and analyzes client/therapist pairs.
type Matcher interface {
	FindMatches(ctx context.Context, req service.MatchRequest) (*service.MatchResult, error)
	AnalyzeCompatibility(ctx context.Context, clientID, therapistID string) (*domain.CompatibilityAnalysis, error)
}

// Analytics is the recorder surface used by the HTTP handlers.
type Analytics interface {
	TrackRecommendationView(ctx context.Context, clientID, therapistID string)
	TrackTherapistContact(ctx context.Context, clientID, therapistID string)
	TrackSuccessfulMatch(ctx context.Context, clientID, therapistID string)
	RecordRecommendationFeedback(ctx context.Context, clientID, therapistID string, input domain.FeedbackInput)
	StorePerformanceSnapshot(ctx context.Context, algorithmName, algorithmVersion string, start, end time.Time, metrics domain.MatchingMetrics)
	GetAlgorithmPerformance(ctx context.Context, algorithmName string, start, end time.Time) domain.MatchingMetrics
	ListPerformanceSnapshots(ctx context.Context, algorithmName string) []*domain.AlgorithmPerformance
	GetTopPerformingTherapists(ctx context.Context, limit int, start, end time.Time) []domain.TherapistPerformance
	GetMatchingInsights(ctx context.Context, start, end time.Time) domain.MatchingInsights
	GetStoredCompatibility(ctx context.Context, clientID, therapistID string) *domain.ClientCompatibility
	ExportFeedback(ctx context.Context, writer io.Writer) error
	Pending() int
	BreakerState() string
}

// CacheInvalidator drops cached rankings for a client.
type CacheInvalidator interface {
	InvalidateClient(ctx context.Context, clientID string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies wires the server to the engine. Cache and HealthChecks may be
// nil.
type Dependencies struct {
	Matcher          Matcher
	Analytics        Analytics
	Cache            CacheInvalidator
	HealthChecks     map[string]HealthCheck
	AlgorithmVersion string
}

// Server represents the HTTP server
type Server struct {
	config domain.ServerConfig
	logger *logrus.Logger
	deps   Dependencies
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(config domain.ServerConfig, logger *logrus.Logger, deps Dependencies) *Server {
	if deps.AlgorithmVersion == "" {
		deps.AlgorithmVersion = domain.DefaultAlgorithmVersion
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	if config.RateLimit > 0 {
		router.Use(middleware.NewRateLimiter(config.RateLimit, config.RateLimitBurst).Middleware())
	}
	if config.WriteTimeout > 0 {
		router.Use(middleware.RequestTimeout(config.WriteTimeout))
	}

	s := &Server{
		config: config,
		logger: logger,
		deps:   deps,
		router: router,
	}
	s.setupRoutes()
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		clients := v1.Group("/clients/:clientId")
		clients.POST("/matches", s.handleFindMatches)
		clients.DELETE("/matches", s.handleInvalidateMatches)

		pair := clients.Group("/therapists/:therapistId")
		pair.GET("/compatibility", s.handleCompatibility)
		pair.GET("/compatibility/stored", s.handleStoredCompatibility)
		pair.POST("/view", s.handleEngagement(domain.EventViewed))
		pair.POST("/contact", s.handleEngagement(domain.EventContacted))
		pair.POST("/success", s.handleEngagement(domain.EventBecameClient))
		pair.POST("/feedback", s.handleFeedback)

		analytics := v1.Group("/analytics")
		analytics.GET("/performance", s.handlePerformance)
		analytics.POST("/snapshots", s.handleCreateSnapshot)
		analytics.GET("/snapshots", s.handleListSnapshots)
		analytics.GET("/top-therapists", s.handleTopTherapists)
		analytics.GET("/insights", s.handleInsights)
		analytics.GET("/feedback/export", s.handleExportFeedback)
	}
}

// handleHealth runs every dependency check and reports analytics queue state.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := gin.H{}
	for name, check := range s.deps.HealthChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"checks":    checks,
	}
	if s.deps.Analytics != nil {
		body["analytics"] = gin.H{
			"pending":       s.deps.Analytics.Pending(),
			"breaker_state": s.deps.Analytics.BreakerState(),
		}
	}
	c.JSON(code, body)
}

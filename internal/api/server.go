// Package api exposes the progress service over REST.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/middleware"
	"github.com/progress-analytics-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ProgressService is the part of the service layer the REST handlers call.
type ProgressService interface {
	RecordMeasurement(ctx context.Context, subjectID string, in domain.MeasurementInput) (*service.RecordResult, error)
	RecordBatch(ctx context.Context, subjectID string, inputs []domain.MeasurementInput) (*service.BatchResult, error)
	Measurements(ctx context.Context, subjectID string, kind *domain.MetricKind, r domain.TimeRange) ([]domain.MeasurementPoint, error)
	Trends(ctx context.Context, subjectID string, lookbackDays int) ([]domain.Trend, error)
	Summary(ctx context.Context, subjectID string, lookbackDays int) (*domain.ProgressSummary, error)
	UnresolvedAlerts(ctx context.Context, subjectID string) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error
	ResolveAlert(ctx context.Context, alertID, note string) error
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	service       ProgressService
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	alertStream   http.HandlerFunc
	checks        map[string]HealthCheck
}

// Option configures a Server
type Option func(*Server)

// WithAlertStream mounts the websocket alert stream handler.
func WithAlertStream(handler http.HandlerFunc) Option {
	return func(s *Server) {
		s.alertStream = handler
	}
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, svc ProgressService, logger *logrus.Logger, opts ...Option) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	server := &Server{
		configManager: configManager,
		service:       svc,
		logger:        logger,
		router:        router,
		checks:        make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes(cfg.Server.RequestTimeout)

	return server
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(requestTimeout time.Duration) {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")

	// the stream is long-lived and sits outside the request timeout
	if s.alertStream != nil {
		v1.GET("/alerts/stream", gin.WrapF(s.alertStream))
	}

	bounded := v1.Group("")
	bounded.Use(middleware.RequestTimeout(requestTimeout))
	{
		subjects := bounded.Group("/subjects/:subject_id")
		subjects.POST("/measurements", s.handleRecordMeasurement)
		subjects.POST("/measurements/batch", s.handleRecordBatch)
		subjects.GET("/measurements", s.handleListMeasurements)
		subjects.GET("/trends", s.handleTrends)
		subjects.GET("/summary", s.handleSummary)
		subjects.GET("/alerts", s.handleListAlerts)

		alerts := bounded.Group("/alerts/:alert_id")
		alerts.POST("/acknowledge", s.handleAcknowledgeAlert)
		alerts.POST("/resolve", s.handleResolveAlert)
	}
}

// handleHealth runs the registered dependency checks.
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"checks":    checks,
	})
}

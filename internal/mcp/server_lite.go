package mcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/cache"
	litecfg "github.com/progress-analytics-server/internal/config"
	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/litestore"
	"github.com/progress-analytics-server/internal/logging"
	"github.com/progress-analytics-server/internal/notify"
	"github.com/progress-analytics-server/internal/service"
)

// LiteServer is a lightweight MCP server that requires no external services.
// It keeps measurements and alerts in SQLite and trends in an in-memory cache.
type LiteServer struct {
	*Server
	config  *litecfg.LiteConfig
	store   *litestore.Store
	cache   *cache.TrendCache
	service *service.ProgressService
	logger  *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{config: cfg}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if server.logger == nil {
		logger, err := logging.New(cfg.LoggingConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		server.logger = logger
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	analytics, err := domain.NewAnalyticsConfig(cfg.AnalyticsSettings())
	if err != nil {
		return nil, fmt.Errorf("invalid analytics configuration: %w", err)
	}

	store, err := litestore.NewSQLiteStore(cfg.DBPath(), server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	server.store = store
	server.cache = cache.NewTrendCache(cfg.CacheMaxItems, cfg.CacheTTL, server.logger)

	svcOpts := []service.ProgressServiceOption{service.WithTrendCache(server.cache)}
	if cfg.WebhookURL != "" {
		notifier, err := notify.NewWebhookNotifier(domain.NotificationsConfig{
			WebhookURL:  cfg.WebhookURL,
			MinSeverity: cfg.MinSeverity,
		}, server.logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create webhook notifier: %w", err)
		}
		svcOpts = append(svcOpts, service.WithNotifiers(notifier))
	}

	svc, err := service.NewProgressService(server.logger, store, store, store, analytics, svcOpts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create progress service: %w", err)
	}

	server.service = svc
	server.Server = NewServer(domain.MCPConfig{
		ServerName:    "progress-analytics-lite",
		ServerVersion: "v1.0.0",
	}, svc, server.logger)

	server.logger.WithField("db_path", store.Path()).Info("Lite server initialized successfully")
	return server, nil
}

// Start starts the lite MCP server.
func (s *LiteServer) Start(ctx context.Context) error {
	return s.Server.Start(ctx)
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.service != nil {
		s.service.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close progress store")
			return err
		}
	}
	return nil
}

// Store returns the SQLite store for export and maintenance.
func (s *LiteServer) Store() *litestore.Store {
	return s.store
}

// Cache returns the trend cache.
func (s *LiteServer) Cache() *cache.TrendCache {
	return s.cache
}

// Package app assembles the PostgreSQL-backed progress service shared by the REST and MCP
// servers.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/cache"
	"github.com/progress-analytics-server/internal/completion"
	"github.com/progress-analytics-server/internal/database"
	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/notify"
	"github.com/progress-analytics-server/internal/repository"
	"github.com/progress-analytics-server/internal/service"
)

// Components holds the assembled service and the resources it owns.
type Components struct {
	Service *service.ProgressService
	DB      *database.DB
	Rates   *completion.PostgresProvider
	Cache   *cache.TrendCache
	Redis   *redis.Client
	logger  *logrus.Logger
}

type options struct {
	notifiers []domain.AlertNotifier
}

// Option configures Build.
type Option func(*options)

// WithNotifier adds an alert notifier alongside the configured webhook.
func WithNotifier(n domain.AlertNotifier) Option {
	return func(o *options) {
		o.notifiers = append(o.notifiers, n)
	}
}

// Build connects to PostgreSQL (and Redis when configured) and wires the progress service.
// On error every resource opened so far is released.
func Build(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (_ *Components, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	analytics, err := domain.NewAnalyticsConfig(cfg.Analytics)
	if err != nil {
		return nil, fmt.Errorf("invalid analytics configuration: %w", err)
	}

	c := &Components{logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	dbCfg := database.ConfigFrom(cfg.Database)
	if c.DB, err = database.NewConnection(ctx, dbCfg, logger); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if c.Rates, err = completion.NewPostgresProviderFromDSN(ctx, dbCfg.DSN(), logger); err != nil {
		return nil, fmt.Errorf("failed to create completion rate provider: %w", err)
	}

	svcOpts := []service.ProgressServiceOption{service.WithSummaryConfig(cfg.Summary)}

	if cfg.Cache.Enabled {
		var cacheOpts []cache.Option
		if cfg.Cache.RedisURL != "" {
			if c.Redis, err = cache.NewRedisClient(cfg.Cache); err != nil {
				return nil, err
			}
			cacheOpts = append(cacheOpts, cache.WithRedis(cache.NewRedisTier(c.Redis, cfg.Cache, logger)))
		}
		c.Cache = cache.NewTrendCache(cfg.Cache.MemorySize, cfg.Cache.DefaultTTL, logger, cacheOpts...)
		svcOpts = append(svcOpts, service.WithTrendCache(c.Cache))
	}

	notifiers := o.notifiers
	if cfg.Notifications.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.Notifications, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook notifier: %w", err)
		}
		notifiers = append(notifiers, webhook)
	}
	if len(notifiers) > 0 {
		svcOpts = append(svcOpts, service.WithNotifiers(notifiers...))
	}

	c.Service, err = service.NewProgressService(
		logger,
		repository.NewMeasurementRepository(c.DB.Pool, logger),
		repository.NewAlertRepository(c.DB.Pool, logger),
		c.Rates,
		analytics,
		svcOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create progress service: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"cache_enabled": cfg.Cache.Enabled,
		"redis":         c.Redis != nil,
		"notifiers":     len(notifiers),
	}).Info("Progress service assembled")
	return c, nil
}

// HealthChecks returns the dependency checks for the health endpoint.
func (c *Components) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": c.DB.Health,
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases every resource Build opened.
func (c *Components) Close() {
	if c.Service != nil {
		c.Service.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if c.Rates != nil {
		if err := c.Rates.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close completion rate provider")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

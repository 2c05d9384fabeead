package domain

import (
	"context"
	"time"
)

// MetricStore is the durable append-only store of measurements.
type MetricStore interface {
	Insert(ctx context.Context, point *MeasurementPoint) error
	// InsertBatch stores all points atomically, assigning IDs in place.
	InsertBatch(ctx context.Context, points []MeasurementPoint) error
	// Query returns points in timestamp order. A nil kind returns every metric kind.
	Query(ctx context.Context, subjectID string, kind *MetricKind, r TimeRange) ([]MeasurementPoint, error)
	// Recent returns up to limit of the newest points for one metric, oldest first.
	Recent(ctx context.Context, subjectID string, kind MetricKind, limit int) ([]MeasurementPoint, error)
}

// AlertSink persists alerts and their acknowledge/resolve transitions.
type AlertSink interface {
	Persist(ctx context.Context, alert *Alert) error
	ListUnresolved(ctx context.Context, subjectID string) ([]Alert, error)
	Acknowledge(ctx context.Context, alertID string) error
	Resolve(ctx context.Context, alertID, note string) error
}

// CompletionRateProvider supplies 0-100 completion percentages for a subject.
type CompletionRateProvider interface {
	GoalRate(ctx context.Context, subjectID string) (float64, error)
	AttendanceRate(ctx context.Context, subjectID string, windowDays int) (float64, error)
	HomeworkRate(ctx context.Context, subjectID string, windowDays int) (float64, error)
}

// AlertNotifier delivers a freshly persisted alert to an out-of-band channel.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// TrendCache memoizes trends keyed by subject, metric and an input fingerprint.
type TrendCache interface {
	Get(ctx context.Context, key string) (*Trend, bool)
	Set(ctx context.Context, key string, trend Trend)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	AnalyticsConfig() (AnalyticsConfig, error)
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

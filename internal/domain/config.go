package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	MCP           MCPConfig           `mapstructure:"mcp"`
	Analytics     AnalyticsSettings   `mapstructure:"analytics"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Summary       SummaryConfig       `mapstructure:"summary"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents trend cache configuration. The memory tier is always on when
// caching is enabled; the redis tier is used only when RedisURL is set.
type CacheConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	RedisURL         string        `mapstructure:"redis_url"`
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
	MemorySize       int           `mapstructure:"memory_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	PoolSize         int           `mapstructure:"pool_size"`
	PoolTimeout      time.Duration `mapstructure:"pool_timeout"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AnalyticsSettings is the raw, mutable form of the analytics configuration as read from
// files and the environment. NewAnalyticsConfig freezes it into an AnalyticsConfig.
type AnalyticsSettings struct {
	StableEpsilon         float64     `mapstructure:"stable_epsilon"`
	SignificanceMinPoints int         `mapstructure:"significance_min_points"`
	SignificanceMinCorr   float64     `mapstructure:"significance_min_correlation"`
	ConfidenceDivisor     float64     `mapstructure:"confidence_divisor"`
	InvertedMetrics       []string    `mapstructure:"inverted_metrics"`
	ClinicalWeight        float64     `mapstructure:"clinical_weight"`
	WeightedMetrics       []string    `mapstructure:"weighted_metrics"`
	ReliableChangeIndex   float64     `mapstructure:"reliable_change_index"`
	DeduplicateAlerts     bool        `mapstructure:"deduplicate_alerts"`
	Rules                 []AlertRule `mapstructure:"rules"`
}

// NotificationsConfig configures the outbound alert webhook.
type NotificationsConfig struct {
	WebhookURL       string        `mapstructure:"webhook_url"`
	MinSeverity      string        `mapstructure:"min_severity"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// SummaryConfig controls how the service assembles summaries and alert windows.
type SummaryConfig struct {
	LookbackDays       int  `mapstructure:"lookback_days"`
	AlertWindowSize    int  `mapstructure:"alert_window_size"`
	RateWindowDays     int  `mapstructure:"rate_window_days"`
	TolerateRateErrors bool `mapstructure:"tolerate_rate_errors"`
}

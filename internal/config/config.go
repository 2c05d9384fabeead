package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/progress-analytics-server/internal/domain"
)

// EnvPrefix is the prefix of every environment variable the server reads.
const EnvPrefix = "PROGRESS"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// NewManagerFromFile loads configuration from an explicit file path instead of the search paths.
func NewManagerFromFile(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	m := &Manager{v: v}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := m.v

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/progress-server/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "progress_analytics")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.memory_size", 2048)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.breaker_threshold", 5)
	v.SetDefault("cache.breaker_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.filename", "")

	// MCP defaults
	v.SetDefault("mcp.server_name", "progress-analytics")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.request_timeout", "30s")

	// Analytics defaults; rules fall back to the built-in table when none are configured
	v.SetDefault("analytics.stable_epsilon", domain.DefaultStableEpsilon)
	v.SetDefault("analytics.significance_min_points", domain.DefaultSignificanceMinPoints)
	v.SetDefault("analytics.significance_min_correlation", domain.DefaultSignificanceMinCorr)
	v.SetDefault("analytics.confidence_divisor", domain.DefaultConfidenceDivisor)
	v.SetDefault("analytics.inverted_metrics", []string{string(domain.MetricSymptomSeverity), string(domain.MetricRiskLevel)})
	v.SetDefault("analytics.clinical_weight", domain.DefaultClinicalWeight)
	v.SetDefault("analytics.weighted_metrics", []string{string(domain.MetricSymptomSeverity), string(domain.MetricRiskLevel)})
	v.SetDefault("analytics.reliable_change_index", domain.DefaultReliableChangeIndex)
	v.SetDefault("analytics.deduplicate_alerts", false)

	// Notification defaults
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.min_severity", string(domain.SeverityOrange))
	v.SetDefault("notifications.rate_per_second", 5.0)
	v.SetDefault("notifications.burst", 10)
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.breaker_threshold", 5)
	v.SetDefault("notifications.breaker_timeout", "60s")

	// Summary defaults
	v.SetDefault("summary.lookback_days", 90)
	v.SetDefault("summary.alert_window_size", 0)
	v.SetDefault("summary.rate_window_days", 30)
	v.SetDefault("summary.tolerate_rate_errors", false)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// AnalyticsConfig freezes the analytics section into the immutable form used by the core.
func (m *Manager) AnalyticsConfig() (domain.AnalyticsConfig, error) {
	return domain.NewAnalyticsConfig(m.config.Analytics)
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS enabled but cert_file or key_file is missing")
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.Cache.Enabled && config.Cache.MemorySize <= 0 {
		return fmt.Errorf("cache memory_size must be positive when caching is enabled")
	}

	if s := config.Notifications.MinSeverity; s != "" && !domain.Severity(s).IsValid() {
		return fmt.Errorf("invalid notification min_severity: %s", s)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if _, err := m.AnalyticsConfig(); err != nil {
		return fmt.Errorf("invalid analytics configuration: %w", err)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

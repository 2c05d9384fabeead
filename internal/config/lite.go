// Package config provides configuration management for the progress servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/progress-analytics-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite database and exports

	// Cache settings
	CacheMaxItems int           // Maximum trends in memory cache
	CacheTTL      time.Duration // Trend cache TTL

	// Alerting
	DeduplicateAlerts bool   // Suppress alerts already open for the same metric and rule
	WebhookURL        string // Optional: alert webhook endpoint
	MinSeverity       string // Lowest severity delivered to the webhook

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".progress-analytics")

	return &LiteConfig{
		DataDir:       dataDir,
		CacheMaxItems: 1000,
		CacheTTL:      time.Hour,
		MinSeverity:   string(domain.SeverityOrange),
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PROGRESS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Cache settings
	if v := os.Getenv("PROGRESS_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("PROGRESS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Alerting
	if v := os.Getenv("PROGRESS_DEDUPLICATE_ALERTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DeduplicateAlerts = b
		}
	}
	cfg.WebhookURL = os.Getenv("PROGRESS_WEBHOOK_URL")
	if v := os.Getenv("PROGRESS_WEBHOOK_MIN_SEVERITY"); v != "" && domain.Severity(v).IsValid() {
		cfg.MinSeverity = v
	}

	// Logging
	if v := os.Getenv("PROGRESS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PROGRESS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DBPath returns the path to the SQLite database.
func (c *LiteConfig) DBPath() string {
	return filepath.Join(c.DataDir, "progress.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// AnalyticsSettings returns the default analytics settings with the lite overrides applied.
func (c *LiteConfig) AnalyticsSettings() domain.AnalyticsSettings {
	s := domain.DefaultAnalyticsSettings()
	s.DeduplicateAlerts = c.DeduplicateAlerts
	return s
}

// LoggingConfig converts the lite logging fields into the shared logging section.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	// stdout carries the MCP stdio stream
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

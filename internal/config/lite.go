// Package config loads server configuration. Manager reads YAML and
// environment variables through viper; LiteConfig is the env-only variant
// for the database-free binary.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/therapy-match-server/internal/domain"
)

// LiteConfig configures the standalone server: SQLite analytics, an
// in-memory ranking cache and JSON fixture files for clients and therapists.
type LiteConfig struct {
	DataDir string

	CacheMaxItems int
	CacheTTL      time.Duration

	HTTPPort int

	LogLevel  string
	LogFormat string

	QueueSize        int
	AlgorithmVersion string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:          filepath.Join(homeDir, ".therapy-match"),
		CacheMaxItems:    1000,
		CacheTTL:         15 * time.Minute,
		HTTPPort:         8080,
		LogLevel:         "info",
		LogFormat:        "json",
		QueueSize:        1024,
		AlgorithmVersion: domain.DefaultAlgorithmVersion,
	}
}

// LoadLiteConfig loads configuration from MATCH_* environment variables.
// Unset or malformed values keep their defaults.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("MATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("MATCH_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("MATCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("MATCH_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 65535 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("MATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MATCH_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := os.Getenv("MATCH_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if v := os.Getenv("MATCH_ALGORITHM_VERSION"); v != "" {
		cfg.AlgorithmVersion = v
	}

	return cfg
}

// AnalyticsDBPath returns the path to the analytics SQLite database.
func (c *LiteConfig) AnalyticsDBPath() string {
	return filepath.Join(c.DataDir, "analytics.db")
}

// FixturesDir returns the directory holding clients.json and therapists.json.
func (c *LiteConfig) FixturesDir() string {
	return filepath.Join(c.DataDir, "fixtures")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data, fixture and export directories.
func (c *LiteConfig) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.FixturesDir(), c.ExportDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// AnalyticsConfig returns recorder settings for the lite server.
func (c *LiteConfig) AnalyticsConfig() domain.AnalyticsConfig {
	return domain.AnalyticsConfig{
		QueueSize:    c.QueueSize,
		WriteTimeout: 5 * time.Second,
	}
}

// MatchingConfig returns scoring settings for the lite server.
func (c *LiteConfig) MatchingConfig() domain.MatchingConfig {
	return domain.MatchingConfig{
		AlgorithmVersion: c.AlgorithmVersion,
		MaxConcurrency:   8,
		DefaultLimit:     10,
	}
}

package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for feedkeeper
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Features FeatureConfig  `yaml:"features" json:"features"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int    `yaml:"port" json:"port"`
	Host string `yaml:"host" json:"host"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// LogConfig controls the log level
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// FeatureConfig contains feature-specific configuration
type FeatureConfig struct {
	Follows FollowsConfig `yaml:"follows" json:"follows"`
}

// FollowsConfig configures subscription polling and sync
type FollowsConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled"`
	PollTick             time.Duration `yaml:"pollTick" json:"poll_tick"`
	MaxConcurrentFetches int           `yaml:"maxConcurrentFetches" json:"max_concurrent_fetches"`
	FetchTimeout         time.Duration `yaml:"fetchTimeout" json:"fetch_timeout"`
	UserAgent            string        `yaml:"userAgent" json:"user_agent"`
	SyncQuotaBytes       int           `yaml:"syncQuotaBytes" json:"sync_quota_bytes"`
	HistoryLimit         int           `yaml:"historyLimit" json:"history_limit"`
	PostsInIndex         int           `yaml:"postsInIndex" json:"posts_in_index"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 4000,
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./feedkeeper.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Features: FeatureConfig{
			Follows: FollowsConfig{
				Enabled:              true,
				PollTick:             3 * time.Second,
				MaxConcurrentFetches: 8,
				FetchTimeout:         60 * time.Second,
				UserAgent:            "feedkeeper/1.0 (+https://github.com/feedkeeper)",
				SyncQuotaBytes:       8192,
				HistoryLimit:         1000,
				PostsInIndex:         10,
			},
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and FEEDKEEPER_* environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = os.Getenv("FEEDKEEPER_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("cannot read config file %s", path), err)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("cannot parse config file %s", path), err)
		}
	}

	config.applyEnvOverrides()

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnvAsInt("FEEDKEEPER_PORT", c.Server.Port)
	c.Server.Host = getEnvOrDefault("FEEDKEEPER_HOST", c.Server.Host)
	c.Database.Driver = getEnvOrDefault("FEEDKEEPER_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnvOrDefault("FEEDKEEPER_DB_DSN", c.Database.DSN)
	c.Log.Level = getEnvOrDefault("FEEDKEEPER_LOG_LEVEL", c.Log.Level)

	f := &c.Features.Follows
	f.Enabled = getEnvAsBool("FEEDKEEPER_ENABLE_FOLLOWS", f.Enabled)
	f.PollTick = getEnvAsDuration("FEEDKEEPER_POLL_TICK", f.PollTick)
	f.MaxConcurrentFetches = getEnvAsInt("FEEDKEEPER_MAX_CONCURRENT_FETCHES", f.MaxConcurrentFetches)
	f.FetchTimeout = getEnvAsDuration("FEEDKEEPER_FETCH_TIMEOUT", f.FetchTimeout)
	f.UserAgent = getEnvOrDefault("FEEDKEEPER_USER_AGENT", f.UserAgent)
	f.SyncQuotaBytes = getEnvAsInt("FEEDKEEPER_SYNC_QUOTA_BYTES", f.SyncQuotaBytes)
	f.HistoryLimit = getEnvAsInt("FEEDKEEPER_HISTORY_LIMIT", f.HistoryLimit)
	f.PostsInIndex = getEnvAsInt("FEEDKEEPER_POSTS_IN_INDEX", f.PostsInIndex)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigurationError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return NewConfigurationError(fmt.Sprintf("unsupported database driver: %q", c.Database.Driver), nil)
	}

	if c.Database.DSN == "" {
		return NewConfigurationError("database dsn is required", nil)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return NewConfigurationError(err.Error(), nil)
	}

	return nil
}

// IsFeatureEnabled checks if a feature is enabled
func (c *Config) IsFeatureEnabled(featureName string) bool {
	switch strings.ToLower(featureName) {
	case "follows":
		return c.Features.Follows.Enabled
	default:
		return false
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

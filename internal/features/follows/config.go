package follows

import (
	"fmt"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/services"
)

// Config represents follows feature configuration
type Config struct {
	Enabled              bool
	PollTick             time.Duration
	MaxConcurrentFetches int
	FetchTimeout         time.Duration
	UserAgent            string
	SyncQuotaBytes       int
	HistoryLimit         int
	PostsInIndex         int
}

// NewConfig creates follows config from core config
func NewConfig(coreConfig *core.Config) *Config {
	f := coreConfig.Features.Follows
	return &Config{
		Enabled:              f.Enabled,
		PollTick:             f.PollTick,
		MaxConcurrentFetches: f.MaxConcurrentFetches,
		FetchTimeout:         f.FetchTimeout,
		UserAgent:            f.UserAgent,
		SyncQuotaBytes:       f.SyncQuotaBytes,
		HistoryLimit:         f.HistoryLimit,
		PostsInIndex:         f.PostsInIndex,
	}
}

// Validate validates the follows configuration
func (c *Config) Validate() error {
	if c.PollTick < 100*time.Millisecond || c.PollTick > time.Hour {
		return fmt.Errorf("poll tick must be between 100ms and 1h")
	}

	if c.MaxConcurrentFetches < 1 || c.MaxConcurrentFetches > 64 {
		return fmt.Errorf("max concurrent fetches must be between 1 and 64")
	}

	if c.FetchTimeout < time.Second {
		return fmt.Errorf("fetch timeout must be at least 1s")
	}

	if c.SyncQuotaBytes < 512 {
		return fmt.Errorf("sync quota must be at least 512 bytes")
	}

	if c.HistoryLimit < 10 {
		return fmt.Errorf("history limit must be at least 10 posts")
	}

	if c.PostsInIndex < 1 || c.PostsInIndex > c.HistoryLimit {
		return fmt.Errorf("posts in index must be between 1 and the history limit")
	}

	return nil
}

func (c *Config) schedulerConfig() *models.SchedulerConfig {
	return &models.SchedulerConfig{
		Tick:                 c.PollTick,
		MaxConcurrentFetches: c.MaxConcurrentFetches,
		FetchTimeout:         c.FetchTimeout,
	}
}

func (c *Config) fetcherConfig() *models.FetcherConfig {
	return &models.FetcherConfig{
		UserAgent: c.UserAgent,
		Timeout:   c.FetchTimeout,
	}
}

func (c *Config) storeConfig() services.StoreConfig {
	return services.StoreConfig{
		HistoryLimit: c.HistoryLimit,
		PostsInIndex: c.PostsInIndex,
	}
}

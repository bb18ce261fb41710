package models

import (
	"time"
)

// PollState records when a follow was last fetched and its jitter
type PollState struct {
	LastFetchAt time.Time `json:"at"`
	// Delay is the percentage applied to the base interval; 100 means none
	Delay int `json:"delay"`
}

// SchedulerConfig holds configuration for the scheduler service
type SchedulerConfig struct {
	Tick                 time.Duration `json:"tick"`
	MaxConcurrentFetches int           `json:"max_concurrent_fetches"`
	FetchTimeout         time.Duration `json:"fetch_timeout"`
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Tick:                 3 * time.Second,
		MaxConcurrentFetches: 8,
		FetchTimeout:         60 * time.Second,
	}
}

// FetcherConfig holds configuration for the fetcher service
type FetcherConfig struct {
	UserAgent string        `json:"user_agent"`
	Timeout   time.Duration `json:"timeout"`
}

// UpdateProgress is the in-flight marker shown while a follow is fetched
type UpdateProgress struct {
	StartedAt time.Time `json:"startedAt"`
	Done      bool      `json:"done"`
}

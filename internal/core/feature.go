package core

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// Feature is a self-contained unit that owns its storage, background
// workers and HTTP surface
type Feature interface {
	// Name returns the unique name of the feature
	Name() string

	// Description returns a human-readable description
	Description() string

	// Enabled returns whether this feature is enabled
	Enabled() bool

	// Init prepares storage and restores state
	Init(ctx context.Context) error

	// Mount attaches the feature's HTTP routes under r
	Mount(r chi.Router)

	// Shutdown gracefully shuts down the feature
	Shutdown(ctx context.Context) error
}

// BaseFeature provides common functionality for all features
type BaseFeature struct {
	name        string
	description string
	enabled     bool
	logger      *Logger
	db          *Database
}

// NewBaseFeature creates a new base feature
func NewBaseFeature(name, description string, enabled bool, logger *Logger, db *Database) *BaseFeature {
	return &BaseFeature{
		name:        name,
		description: description,
		enabled:     enabled,
		logger:      logger.ForFeature(name),
		db:          db,
	}
}

// Name returns the feature name
func (f *BaseFeature) Name() string {
	return f.name
}

// Description returns the feature description
func (f *BaseFeature) Description() string {
	return f.description
}

// Enabled returns whether the feature is enabled
func (f *BaseFeature) Enabled() bool {
	return f.enabled
}

// Logger returns the feature-specific logger
func (f *BaseFeature) Logger() *Logger {
	return f.logger
}

// DB returns the database connection
func (f *BaseFeature) DB() *Database {
	return f.db
}

func (f *BaseFeature) Init(ctx context.Context) error {
	f.logger.Info("Initializing feature", "name", f.name)
	return nil
}

func (f *BaseFeature) Mount(r chi.Router) {}

func (f *BaseFeature) Shutdown(ctx context.Context) error {
	f.logger.Info("Shutting down feature", "name", f.name)
	return nil
}

package follows

import (
	"context"
	"fmt"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/commands"
	"feedkeeper/internal/features/follows/handlers"
	"feedkeeper/internal/features/follows/migrations"
	"feedkeeper/internal/features/follows/services"
	"feedkeeper/internal/features/follows/storage"

	"github.com/go-chi/chi/v5"
)

// Feature represents the feed following feature
type Feature struct {
	*core.BaseFeature
	config           *Config
	migrationMgr     *migrations.Manager
	backend          storage.Backend
	fetcherService   *services.FetcherService
	state            *services.SchedulerState
	store            *services.Store
	schedulerService *services.SchedulerService
	dispatcher       *commands.Dispatcher
	bus              *commands.Bus
	handler          *handlers.APIHandler
}

// NewFeature creates a new follows feature backed by db
func NewFeature(logger *core.Logger, db *core.Database, config *Config) *Feature {
	base := core.NewBaseFeature("follows", "Feed following and sync", config.Enabled, logger, db)
	return &Feature{
		BaseFeature:    base,
		config:         config,
		migrationMgr:   migrations.NewManager(db, base.Logger()),
		backend:        storage.NewSQLStore(db),
		fetcherService: services.NewFetcherService(base.Logger(), config.fetcherConfig()),
		state:          services.NewSchedulerState(),
		bus:            commands.NewBus(64, base.Logger()),
	}
}

// Init opens the store, then starts the command loop and polling
func (f *Feature) Init(ctx context.Context) error {
	if err := f.BaseFeature.Init(ctx); err != nil {
		return err
	}
	if err := f.Open(ctx); err != nil {
		return err
	}

	f.dispatcher = commands.NewDispatcher(commands.NewStoreHandler(f.store), f.Logger(), 32)
	f.dispatcher.Start(ctx)
	f.handler = handlers.NewAPIHandler(f.Logger(), f.store, f.dispatcher, f.bus)

	f.schedulerService = services.NewSchedulerService(f.store, f.state, f.Logger(), f.config.schedulerConfig())
	if err := f.schedulerService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start follow scheduler: %w", err)
	}

	f.Logger().Info("Follows feature initialized", "follows", len(f.store.Follows()))
	return nil
}

// Open migrates storage and loads the follows without starting any
// background work. The store depends on this process's client id, so it
// is built here rather than in NewFeature.
func (f *Feature) Open(ctx context.Context) error {
	// Validate configuration
	if err := f.config.Validate(); err != nil {
		return core.NewFeatureError(f.Name(), "invalid configuration", err)
	}

	// Run migrations
	if err := f.migrationMgr.Migrate(ctx); err != nil {
		return err
	}

	clientID, err := storage.LoadClientID(ctx, f.backend)
	if err != nil {
		return core.NewFeatureError(f.Name(), "failed to load client id", err)
	}
	synced := storage.NewSyncedStore(f.backend, f.config.SyncQuotaBytes, clientID)

	f.store = services.NewStore(f.backend, f.backend, synced, f.fetcherService, f.state, f.Logger(), f.config.storeConfig())
	f.store.OnEvent(func(e services.Event) { f.bus.Publish(commands.EventUpdate(e)) })
	if err := f.store.Setup(ctx); err != nil {
		return core.NewFeatureError(f.Name(), "failed to load follows", err)
	}
	f.Logger().Debug("Follows store opened", "client_id", clientID)
	return nil
}

// Mount attaches the follows API. Init must have run first.
func (f *Feature) Mount(r chi.Router) {
	if f.handler == nil {
		f.Logger().Error("Follows routes mounted before Init")
		return
	}
	f.handler.Routes(r)
}

// Shutdown stops polling and the command loop and saves the poll state
func (f *Feature) Shutdown(ctx context.Context) error {
	f.Logger().Info("Shutting down follows feature")

	if f.schedulerService != nil {
		if err := f.schedulerService.Stop(ctx); err != nil {
			f.Logger().Error("Failed to stop follow scheduler", "error", err)
		}
	}
	if f.dispatcher != nil {
		if err := f.dispatcher.Stop(ctx); err != nil {
			f.Logger().Error("Failed to stop command dispatcher", "error", err)
		}
	}
	if f.store != nil {
		if err := f.store.SavePollState(ctx); err != nil {
			f.Logger().Error("Failed to save poll state", "error", err)
		}
	}

	return f.BaseFeature.Shutdown(ctx)
}

// Store returns the follow store; nil before Open
func (f *Feature) Store() *services.Store {
	return f.store
}

// GetMigrationManager returns the migration manager for this feature
func (f *Feature) GetMigrationManager() *migrations.Manager {
	return f.migrationMgr
}

package commands

import (
	"context"

	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/services"
)

// Snapshot is the answer to a setup request
type Snapshot struct {
	All      map[string]*models.Follow        `json:"all"`
	Settings map[string]string                `json:"settings"`
	Updating map[string]models.UpdateProgress `json:"updating"`
}

// StoreHandler runs commands against a follow store
type StoreHandler struct {
	store *services.Store
}

var _ Handler = (*StoreHandler)(nil)

// NewStoreHandler creates a handler for store
func NewStoreHandler(store *services.Store) *StoreHandler {
	return &StoreHandler{store: store}
}

func (h *StoreHandler) Setup(ctx context.Context, c Setup) (Update, error) {
	all := map[string]*models.Follow{}
	for _, f := range h.store.Follows() {
		all[f.ID] = f
	}
	return Update{Op: OpSetup, Value: Snapshot{
		All:      all,
		Settings: h.store.Settings(),
		Updating: h.store.Updating(),
	}}, nil
}

func (h *StoreHandler) Save(ctx context.Context, c Save) (Update, error) {
	res, err := h.store.Save(ctx, &c.Follow, services.SaveOptions{Force: c.Force})
	if err != nil {
		return Update{}, err
	}
	if res.State == services.SaveDiscoveredMultipleFeeds {
		return Update{Op: OpDiscovery, Value: res.Selection}, nil
	}
	return Update{Op: OpSubscription, Value: res.Follow}, nil
}

func (h *StoreHandler) Remove(ctx context.Context, c Remove) (Update, error) {
	if err := h.store.Remove(ctx, c.ID); err != nil {
		return Update{}, err
	}
	return Update{Op: OpRemove, Path: "/all/" + c.ID}, nil
}

func (h *StoreHandler) Rename(ctx context.Context, c Rename) (Update, error) {
	ids, err := h.store.Rename(ctx, c.From, c.To)
	if err != nil {
		return Update{}, err
	}
	return Update{Op: OpRenamed, Value: ids}, nil
}

func (h *StoreHandler) Subscribe(ctx context.Context, c Subscribe) (Update, error) {
	added, err := h.store.Subscribe(ctx, c.FeedSelection)
	if err != nil {
		return Update{}, err
	}
	return Update{Op: OpSubscription, Value: added}, nil
}

func (h *StoreHandler) ImportFrom(ctx context.Context, c ImportFrom) (Update, error) {
	changed, err := h.store.ImportFrom(ctx, c.Format, []byte(c.Contents))
	if err != nil {
		return Update{}, err
	}
	return Update{Op: OpImported, Value: changed}, nil
}

func (h *StoreHandler) ExportTo(ctx context.Context, c ExportTo) (Update, error) {
	out, err := h.store.ExportTo(ctx, c.Format)
	if err != nil {
		return Update{}, err
	}
	return Update{Op: OpExported, Value: map[string]string{
		"format":   out.Format,
		"mimeType": out.MimeType,
		"contents": string(out.Contents),
	}}, nil
}

func (h *StoreHandler) ChangeSetting(ctx context.Context, c ChangeSetting) (Update, error) {
	settings, err := h.store.ChangeSetting(ctx, c.Name, c.Value)
	if err != nil {
		return Update{}, err
	}
	return Update{Op: OpReplace, Path: "/settings", Value: settings}, nil
}

func (h *StoreHandler) LoadPosts(ctx context.Context, c LoadPosts) (Update, error) {
	meta, err := h.store.LoadPosts(ctx, c.ID)
	if err != nil {
		return Update{}, err
	}
	return Update{Op: OpPosts, Path: "/posts/" + c.ID, Value: meta}, nil
}

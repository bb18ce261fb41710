package handlers

import (
	"context"
	"encoding/json"

	"feedkeeper/internal/features/follows/commands"
	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/services"
)

// FollowStore is the read side of the follow store plus inbound sync
type FollowStore interface {
	Follows() []*models.Follow
	Get(id string) (*models.Follow, bool)
	ExportTo(ctx context.Context, format string) (*services.Export, error)
	OnSync(ctx context.Context, raw map[string]json.RawMessage) ([]string, error)
}

// CommandSubmitter runs a command and returns its answer
type CommandSubmitter interface {
	Submit(ctx context.Context, req commands.Request) (commands.Update, error)
}

// UpdateSource hands out subscriptions to broadcast updates
type UpdateSource interface {
	Subscribe() (<-chan commands.Update, func())
}

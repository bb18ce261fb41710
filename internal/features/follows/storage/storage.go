// Package storage holds the persistence collaborators of the follows
// feature: per-follow documents, process-local values and the quota-bound
// sync transport.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a path or key has never been written
var ErrNotFound = errors.New("not found")

// Layout of the document store
const (
	FollowsPath   = "follows.json"
	PollStateKey  = "poll-state"
	FollowsSubkey = "follows"
	SettingsKey   = "settings"
	WriterKey     = "writer"
	ClientIDKey   = "client-id"
)

// FeedPath is the document holding the post history of follow id
func FeedPath(id string) string {
	return "feeds/" + id + ".json"
}

// FileStore keeps whole documents by path
type FileStore interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	DeleteFile(ctx context.Context, path string) error
}

// LocalStore keeps small values that never leave this process
type LocalStore interface {
	LocalGet(ctx context.Context, key string) ([]byte, error)
	LocalSet(ctx context.Context, key string, value []byte) error
}

// SyncBackend is the raw key/value transport shared by every client
type SyncBackend interface {
	SyncItems(ctx context.Context) (map[string]json.RawMessage, error)
	SetSyncItems(ctx context.Context, items map[string]json.RawMessage) error
}

// Backend bundles everything the follows store persists to
type Backend interface {
	FileStore
	LocalStore
	SyncBackend
}

// LoadClientID returns the id this process stamps its sync writes with,
// creating and keeping one on first use.
func LoadClientID(ctx context.Context, local LocalStore) (string, error) {
	raw, err := local.LocalGet(ctx, ClientIDKey)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("read client id: %w", err)
	}

	id := uuid.NewString()
	if err := local.LocalSet(ctx, ClientIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("store client id: %w", err)
	}
	return id, nil
}

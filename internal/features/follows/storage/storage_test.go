package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/frago"
	"feedkeeper/internal/features/follows/migrations"
	"feedkeeper/internal/features/follows/models"
)

func openSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := core.OpenDatabase(core.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, core.NopLogger())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.NewManager(db, core.NopLogger()).Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return NewSQLStore(db)
}

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemoryStore(),
		"sql":    openSQLStore(t),
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.ReadFile(ctx, FollowsPath); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Expected ErrNotFound for a missing file, got %v", err)
			}
			if err := b.WriteFile(ctx, FollowsPath, []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Failed to write: %v", err)
			}
			if err := b.WriteFile(ctx, FollowsPath, []byte(`{"a":2}`)); err != nil {
				t.Fatalf("Failed to overwrite: %v", err)
			}
			data, err := b.ReadFile(ctx, FollowsPath)
			if err != nil {
				t.Fatalf("Failed to read: %v", err)
			}
			if string(data) != `{"a":2}` {
				t.Errorf("Expected overwritten content, got %s", data)
			}
			if err := b.DeleteFile(ctx, FollowsPath); err != nil {
				t.Fatalf("Failed to delete: %v", err)
			}
			if _, err := b.ReadFile(ctx, FollowsPath); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.LocalGet(ctx, PollStateKey); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Expected ErrNotFound, got %v", err)
			}
			if err := b.LocalSet(ctx, PollStateKey, []byte(`{}`)); err != nil {
				t.Fatalf("Failed to set: %v", err)
			}
			v, err := b.LocalGet(ctx, PollStateKey)
			if err != nil || string(v) != `{}` {
				t.Errorf("Unexpected value %s (%v)", v, err)
			}
		})
	}
}

func TestSyncedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			synced := NewSyncedStore(b, 600, "client-a")

			set := models.NewSyncSet()
			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 12; i++ {
				id := fmt.Sprintf("example.com-%02d", i)
				set.Follows[id] = models.SyncEntry{
					URL:      "https://example.com/feed/" + id,
					Tags:     []string{"news"},
					EditedAt: at,
				}
			}
			set.Follows["gone"] = models.Tombstone(at)

			if err := synced.WriteSynced(ctx, set, nil); err != nil {
				t.Fatalf("Failed to write synced: %v", err)
			}
			if frago.MaxIndex(set.Index) == 0 {
				t.Fatal("Expected the set to spread over several fragments")
			}
			if err := synced.WriteSettings(ctx, map[string]string{"mode-updates": "updatedAt"}); err != nil {
				t.Fatalf("Failed to write settings: %v", err)
			}

			raw, err := b.SyncItems(ctx)
			if err != nil {
				t.Fatalf("Failed to read items: %v", err)
			}
			for k, v := range raw {
				if len(k)+len(v) > 600 && k != WriterKey {
					t.Errorf("Item %s is over quota", k)
				}
			}
			if w, ok := WriterOf(raw); !ok || w.Client != "client-a" {
				t.Errorf("Expected writer stamp for client-a, got %+v", w)
			}

			got, err := synced.ReadSynced(ctx)
			if err != nil {
				t.Fatalf("Failed to read synced: %v", err)
			}
			if len(got.Follows) != len(set.Follows) {
				t.Errorf("Expected %d follows, got %d", len(set.Follows), len(got.Follows))
			}
			if !got.Follows["gone"].Deleted {
				t.Error("Expected tombstone to survive the round trip")
			}
			if !got.Follows["example.com-03"].EditedAt.Equal(at) {
				t.Error("Expected editedAt to survive the round trip")
			}
			if got.Settings["mode-updates"] != "updatedAt" {
				t.Errorf("Expected settings to be read back, got %v", got.Settings)
			}
		})
	}
}

func TestSyncedStoreQuotaError(t *testing.T) {
	synced := NewSyncedStore(NewMemoryStore(), 40, "client-a")
	set := models.NewSyncSet()
	set.Follows["example.com-1"] = models.SyncEntry{URL: "https://example.com/a/very/long/feed/url"}

	err := synced.WriteSynced(context.Background(), set, nil)
	var qerr *frago.QuotaError
	if !errors.As(err, &qerr) {
		t.Fatalf("Expected a QuotaError, got %v", err)
	}
}

func TestDecodeIgnoresWriterStamp(t *testing.T) {
	raw := map[string]json.RawMessage{
		"follows/0": json.RawMessage(`{"a":{"url":"https://a.example"}}`),
		WriterKey:   json.RawMessage(`{"client":"x","at":"2024-01-01T00:00:00Z"}`),
	}
	set, err := Decode(raw)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(set.Follows) != 1 || set.Index["a"] != 0 {
		t.Errorf("Unexpected decode result %+v", set)
	}
}

func TestLoadClientID(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		first, err := LoadClientID(ctx, b)
		if err != nil || first == "" {
			t.Fatalf("%s: failed to create client id: %v", name, err)
		}
		second, err := LoadClientID(ctx, b)
		if err != nil || second != first {
			t.Errorf("%s: expected the client id to be kept, got %q then %q", name, first, second)
		}
	}
}

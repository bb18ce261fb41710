package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"feedkeeper/internal/features/follows/frago"
	"feedkeeper/internal/features/follows/models"
)

// Writer stamps each batch of sync items with the client that wrote it
type Writer struct {
	Client string    `json:"client"`
	At     time.Time `json:"at"`
}

// SyncedStore reads and writes the synced follow set through the fragment
// codec, keeping every stored item within quota bytes.
type SyncedStore struct {
	backend  SyncBackend
	quota    int
	clientID string
	// serializes fragment writes so overflow loops never interleave
	mu sync.Mutex
}

// NewSyncedStore wraps backend with a per-item byte quota
func NewSyncedStore(backend SyncBackend, quota int, clientID string) *SyncedStore {
	return &SyncedStore{backend: backend, quota: quota, clientID: clientID}
}

// ClientID identifies this process to other clients
func (s *SyncedStore) ClientID() string {
	return s.clientID
}

// ReadSynced loads and reassembles everything in the sync transport
func (s *SyncedStore) ReadSynced(ctx context.Context) (*models.SyncSet, error) {
	raw, err := s.backend.SyncItems(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode turns raw sync items into a SyncSet. Corrupt fragments are
// skipped and reported alongside a usable set.
func Decode(raw map[string]json.RawMessage) (*models.SyncSet, error) {
	set, err := frago.Merge[models.SyncEntry](raw, FollowsSubkey)
	out := &models.SyncSet{
		Follows:  set.Items,
		Index:    set.Index,
		Settings: map[string]string{},
	}
	if s, ok := set.Extra[SettingsKey]; ok {
		if serr := json.Unmarshal(s, &out.Settings); serr != nil {
			return out, fmt.Errorf("decode settings: %w", serr)
		}
	}
	return out, err
}

// WriterOf returns who last wrote raw, if recorded
func WriterOf(raw map[string]json.RawMessage) (Writer, bool) {
	var w Writer
	v, ok := raw[WriterKey]
	if !ok || json.Unmarshal(v, &w) != nil {
		return w, false
	}
	return w, true
}

// WriteSynced stores the fragments holding ids, or all of them when ids is
// nil. The set's index is updated in place with any reassignments.
func (s *SyncedStore) WriteSynced(ctx context.Context, set *models.SyncSet, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fset := &frago.Set[models.SyncEntry]{Items: set.Follows, Index: set.Index}
	if fset.Index == nil {
		fset.Index = map[string]int{}
		set.Index = fset.Index
	}

	return frago.Separate(fset, FollowsSubkey, ids, func(key string, frag map[string]models.SyncEntry) error {
		encoded, err := json.Marshal(frag)
		if err != nil {
			return err
		}
		if s.quota > 0 && len(key)+len(encoded) > s.quota {
			return frago.ErrQuotaExceeded
		}
		return s.setWithStamp(ctx, key, encoded)
	})
}

// WriteSettings stores the settings side-channel item
func (s *SyncedStore) WriteSettings(ctx context.Context, settings map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if s.quota > 0 && len(SettingsKey)+len(encoded) > s.quota {
		return &frago.QuotaError{Key: SettingsKey, Size: len(settings), Err: frago.ErrQuotaExceeded}
	}
	return s.setWithStamp(ctx, SettingsKey, encoded)
}

func (s *SyncedStore) setWithStamp(ctx context.Context, key string, value json.RawMessage) error {
	stamp, err := json.Marshal(Writer{Client: s.clientID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.backend.SetSyncItems(ctx, map[string]json.RawMessage{
		key:       value,
		WriterKey: stamp,
	})
}

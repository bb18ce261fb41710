package services

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/storage"

	"github.com/VictoriaMetrics/metrics"
)

type pendingAdd struct {
	id    string
	entry models.SyncEntry
}

// Sync reconciles an incoming sync set with the local follows. The later
// editedAt wins; a tombstone counts as a local record so a stale add can't
// resurrect a deletion. It returns the ids whose local state changed.
func (s *Store) Sync(ctx context.Context, inc *models.SyncSet, kind models.SyncKind) ([]string, error) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`feedkeeper_sync_rounds_total{kind=%q}`, kind.String())).Inc()

	ids := make([]string, 0, len(inc.Follows))
	for id := range inc.Follows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		changed   []string
		outgoing  []string
		removed   []string
		adds      []pendingAdd
		refreshed []*models.Follow
	)

	s.mu.Lock()
	if kind != models.SyncExternal {
		for id, n := range inc.Index {
			s.synced.Index[id] = n
		}
	}
	settingsChanged := false
	for k, v := range inc.Settings {
		if s.settings[k] != v {
			s.settings[k] = v
			settingsChanged = true
		}
	}
	if settingsChanged {
		s.synced.Settings = maps.Clone(s.settings)
	}

	for _, id := range ids {
		in := inc.Follows[id]
		local, live := s.all[id]

		hasLocal := false
		var localAt time.Time
		if live && local.IsValid() {
			hasLocal, localAt = true, local.EditedAt
		} else if tomb, ok := s.synced.Follows[id]; ok && tomb.Deleted {
			hasLocal, localAt = true, tomb.EditedAt
		}
		if _, ok := s.synced.Follows[id]; !ok && kind != models.SyncExternal {
			// keep other clients' entries even when they can't be loaded here
			s.synced.Follows[id] = in
		}

		switch {
		case !hasLocal || in.EditedAt.After(localAt):
			// external entries reach the sync transport only once applied here
			if in.Deleted {
				if live {
					delete(s.all, id)
					removed = append(removed, id)
					changed = append(changed, id)
				}
				s.synced.Follows[id] = in
				if kind == models.SyncExternal {
					outgoing = append(outgoing, id)
				}
				continue
			}
			if live && local.IsValid() && models.NormalizeURL(local.Feed) == models.NormalizeURL(in.URL) {
				local.Title = in.Title
				local.Tags = slices.Clone(in.Tags)
				local.Importance = in.Importance
				local.FetchesContent = in.FetchesContent
				local.EditedAt = in.EditedAt
				s.synced.Follows[id] = in
				changed = append(changed, id)
				refreshed = append(refreshed, local.Clone())
				if kind == models.SyncExternal {
					outgoing = append(outgoing, id)
				}
				continue
			}
			if in.URL == "" {
				s.logger.Warn("Ignoring synced follow without an address", "id", id)
				continue
			}
			adds = append(adds, pendingAdd{id: id, entry: in})

		case localAt.After(in.EditedAt):
			if kind != models.SyncExternal {
				if live {
					s.synced.Follows[id] = local.SyncEntry()
				}
				outgoing = append(outgoing, id)
			}
		}
	}

	if kind == models.SyncFull {
		for id, f := range s.all {
			if _, ok := inc.Follows[id]; !ok {
				s.synced.Follows[id] = f.SyncEntry()
				outgoing = append(outgoing, id)
			}
		}
		for id, e := range s.synced.Follows {
			if _, ok := inc.Follows[id]; !ok && e.Deleted {
				outgoing = append(outgoing, id)
			}
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.state.Forget(id)
		if err := s.deleteMeta(ctx, id); err != nil {
			s.logger.Warn("Failed to delete post history", "id", id, "error", err)
		}
		s.emit(Event{Kind: EventRemove, ID: id})
	}
	for _, f := range refreshed {
		s.emit(Event{Kind: EventFollow, Follow: f})
	}

	for _, a := range adds {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		f := a.entry.ToFollow(a.id)
		_, err := s.add(ctx, f, addOptions{silent: true, replaces: a.id})
		if err != nil {
			if core.HasCode(err, core.ErrCodeConflict) {
				s.logger.Warn("Skipping synced follow that duplicates another", "id", a.id, "url", a.entry.URL)
			} else {
				s.logger.Warn("Skipping synced follow that failed to load", "id", a.id, "url", a.entry.URL, "error", err)
			}
			continue
		}
		changed = append(changed, a.id)
		if kind == models.SyncExternal {
			outgoing = append(outgoing, a.id)
		}
	}
	sort.Strings(changed)
	metrics.GetOrCreateCounter(`feedkeeper_sync_changed_total`).Add(len(changed))

	if len(changed) > 0 || len(removed) > 0 {
		if err := s.writeFollows(ctx); err != nil {
			return changed, err
		}
	}
	if settingsChanged {
		s.emit(Event{Kind: EventSettings, Settings: s.Settings()})
	}

	s.mu.Lock()
	outgoing = slices.DeleteFunc(uniqueSorted(outgoing), func(id string) bool {
		_, ok := s.synced.Follows[id]
		return !ok
	})
	s.mu.Unlock()
	if len(outgoing) > 0 {
		s.logger.Info("Propagating follows", "kind", kind.String(), "count", len(outgoing))
		if err := s.writeSynced(ctx, outgoing); err != nil {
			return changed, err
		}
	}
	if kind == models.SyncExternal && settingsChanged {
		if err := s.sync.WriteSettings(ctx, s.Settings()); err != nil {
			return changed, s.syncError(err)
		}
	}

	s.logger.Info("Sync finished", "kind", kind.String(), "incoming", len(ids), "changed", len(changed))
	return changed, nil
}

// OnSync handles sync items another client wrote. Items stamped with this
// client's own id are ignored.
func (s *Store) OnSync(ctx context.Context, raw map[string]json.RawMessage) ([]string, error) {
	if w, ok := storage.WriterOf(raw); ok && w.Client == s.sync.ClientID() {
		return nil, nil
	}
	inc, err := storage.Decode(raw)
	if err != nil {
		s.logger.Warn("Some incoming sync items could not be read", "error", err)
	}
	return s.Sync(ctx, inc, models.SyncPartial)
}

func uniqueSorted(ids []string) []string {
	sort.Strings(ids)
	return slices.Compact(ids)
}

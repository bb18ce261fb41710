package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/frago"
	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/storage"
)

// Setting names with a meaning to the store
const (
	SettingSortUpdates = "mode-updates"
	SettingReposts     = "mode-reposts"
)

// SaveState is where a save ended up
type SaveState string

const (
	SaveCommitted               SaveState = "committed"
	SaveDiscoveredMultipleFeeds SaveState = "discovered"
	SaveFailed                  SaveState = "failed"
)

// SaveResult reports a save. Selection is set when the address was a page
// advertising several feeds and the user has to pick.
type SaveResult struct {
	State     SaveState
	Follow    *models.Follow
	Selection *models.FeedSelection
}

// SaveOptions tune a save
type SaveOptions struct {
	// Force commits a new follow even when its feed can't be reached
	Force bool
}

// Event kinds published by the store
const (
	EventFollow   = "follow"
	EventRemove   = "remove"
	EventUpdating = "updating"
	EventSettings = "settings"
)

// Event is a change other components may want to show
type Event struct {
	Kind     string
	Follow   *models.Follow
	ID       string
	Updating map[string]models.UpdateProgress
	Settings map[string]string
}

// StoreConfig holds configuration for the store
type StoreConfig struct {
	HistoryLimit int
	PostsInIndex int
}

// Store is the follow list and everything that changes it. Commands,
// scheduled refreshes and sync rounds all go through it.
type Store struct {
	mu       sync.Mutex
	all      map[string]*models.Follow
	synced   *models.SyncSet
	settings map[string]string

	// fileMu orders writes of the follows list
	fileMu sync.Mutex
	// syncMu serializes fragment writes
	syncMu sync.Mutex

	files   storage.FileStore
	local   storage.LocalStore
	sync    *storage.SyncedStore
	fetcher FeedFetcher
	merger  *Merger
	state   *SchedulerState
	logger  *core.Logger
	config  StoreConfig
	now     func() time.Time

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

// NewStore wires a store to its collaborators
func NewStore(
	files storage.FileStore,
	local storage.LocalStore,
	synced *storage.SyncedStore,
	fetcher FeedFetcher,
	state *SchedulerState,
	logger *core.Logger,
	config StoreConfig,
) *Store {
	return &Store{
		all:      map[string]*models.Follow{},
		synced:   models.NewSyncSet(),
		settings: map[string]string{},
		files:    files,
		local:    local,
		sync:     synced,
		fetcher:  fetcher,
		merger:   NewMerger(config.HistoryLimit),
		state:    state,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// OnEvent registers fn to be called for every store event
func (s *Store) OnEvent(fn func(Event)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emit(e Event) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, fn := range s.listeners {
		fn(e)
	}
}

func (s *Store) emitUpdating() {
	s.emit(Event{Kind: EventUpdating, Updating: s.state.Updating()})
}

// Setup loads the follows list, the poll state and the synced set, then
// reconciles them with a full sync.
func (s *Store) Setup(ctx context.Context) error {
	data, err := s.files.ReadFile(ctx, storage.FollowsPath)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read follows: %w", err)
	default:
		all := map[string]*models.Follow{}
		if err := json.Unmarshal(data, &all); err != nil {
			return core.NewInternalError("Your follows list could not be read.", err)
		}
		s.mu.Lock()
		s.all = all
		s.mu.Unlock()
	}

	if raw, err := s.local.LocalGet(ctx, storage.PollStateKey); err == nil {
		if err := s.state.Restore(raw); err != nil {
			s.logger.Warn("Discarding unreadable poll state", "error", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read poll state: %w", err)
	}

	inc, err := s.sync.ReadSynced(ctx)
	if inc == nil {
		return fmt.Errorf("read synced follows: %w", err)
	}
	if err != nil {
		s.logger.Warn("Some synced follows could not be read", "error", err)
	}

	s.mu.Lock()
	count := len(s.all)
	s.mu.Unlock()
	s.logger.Info("Loaded follows", "count", count, "synced", len(inc.Follows))

	_, err = s.Sync(ctx, inc, models.SyncFull)
	return err
}

// Follows returns a snapshot of every follow, ordered by id
func (s *Store) Follows() []*models.Follow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Follow, 0, len(s.all))
	for _, f := range s.all {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of one follow
func (s *Store) Get(id string) (*models.Follow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.all[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Settings returns a copy of the synced settings
func (s *Store) Settings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.settings)
}

// Updating returns the fetches in flight
func (s *Store) Updating() map[string]models.UpdateProgress {
	return s.state.Updating()
}

func (s *Store) sortFieldLocked() string {
	if s.settings[SettingSortUpdates] != "" {
		return models.SortUpdated
	}
	return models.SortPublished
}

// LoadPosts returns the full post history of one follow
func (s *Store) LoadPosts(ctx context.Context, id string) (*models.FeedMeta, error) {
	s.mu.Lock()
	f, ok := s.all[id]
	s.mu.Unlock()
	if !ok {
		return nil, core.NewNotFoundError(fmt.Sprintf("No follow with id %s.", id), nil)
	}
	meta, err := s.readMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = models.NewFeedMeta(f.Feed, f.CreatedAt)
	}
	return meta, nil
}

// Save adds a new follow or edits an existing one. A new follow is
// validated by fetching it first.
func (s *Store) Save(ctx context.Context, f *models.Follow, opts SaveOptions) (SaveResult, error) {
	if f == nil || strings.TrimSpace(f.URL) == "" {
		return SaveResult{State: SaveFailed}, core.NewValidationError("Please enter an address to follow.", nil)
	}

	if f.ID != "" {
		s.mu.Lock()
		cur, ok := s.all[f.ID]
		s.mu.Unlock()
		if ok && (f.Feed == cur.Feed || f.URL == cur.URL || f.URL == cur.Feed) {
			return s.edit(ctx, f)
		}
	}

	res, err := s.add(ctx, f, addOptions{force: opts.Force, discover: true, replaces: f.ID})
	if err != nil {
		return SaveResult{State: SaveFailed}, err
	}
	if res.State != SaveCommitted {
		return res, nil
	}

	if f.ID != "" && f.ID != res.Follow.ID {
		// the address changed, so the old follow is replaced
		if _, ok := s.Get(f.ID); ok {
			if err := s.Remove(ctx, f.ID); err != nil {
				return res, err
			}
		}
	}
	if err := s.writeSynced(ctx, []string{res.Follow.ID}); err != nil {
		return res, err
	}
	return res, nil
}

// edit updates the user-editable fields of an existing follow
func (s *Store) edit(ctx context.Context, f *models.Follow) (SaveResult, error) {
	s.mu.Lock()
	cur, ok := s.all[f.ID]
	if !ok {
		s.mu.Unlock()
		return SaveResult{State: SaveFailed}, core.NewNotFoundError(fmt.Sprintf("No follow with id %s.", f.ID), nil)
	}
	cur.Title = f.Title
	cur.Tags = slices.Clone(f.Tags)
	cur.Importance = f.Importance
	cur.FetchesContent = f.FetchesContent
	cur.EditedAt = s.now().UTC()
	s.synced.Follows[cur.ID] = cur.SyncEntry()
	out := cur.Clone()
	s.mu.Unlock()

	if err := s.writeFollows(ctx); err != nil {
		return SaveResult{State: SaveFailed}, err
	}
	if err := s.writeSynced(ctx, []string{out.ID}); err != nil {
		return SaveResult{State: SaveCommitted, Follow: out}, err
	}
	s.emit(Event{Kind: EventFollow, Follow: out})
	return SaveResult{State: SaveCommitted, Follow: out}, nil
}

type addOptions struct {
	force    bool
	discover bool
	// silent adds come from sync and keep the incoming id and editedAt
	silent bool
	// replaces is an existing follow this one takes over from
	replaces string
}

// add validates and commits a new follow. Fragments are not written here;
// callers batch them.
func (s *Store) add(ctx context.Context, in *models.Follow, opts addOptions) (SaveResult, error) {
	f := in.Clone()
	f.URL = models.WithScheme(strings.TrimSpace(f.URL))
	if f.Feed == "" || !opts.silent {
		f.Feed = f.URL
	}
	f.OriginalURL = f.URL
	now := s.now().UTC()
	if !opts.silent || f.EditedAt.IsZero() {
		f.EditedAt = now
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if !opts.silent || f.ID == "" {
		f.ID = models.FollowID(f.Feed)
	}

	if err := s.checkConflict(f.ID, f.Feed, opts.replaces); err != nil {
		return SaveResult{State: SaveFailed}, err
	}

	beginID := f.ID
	if !s.state.TryBegin(beginID, now) {
		return SaveResult{State: SaveFailed}, core.NewConflictError(fmt.Sprintf("%s is already being refreshed.", f.URL), nil)
	}
	s.emitUpdating()
	committed := false
	defer func() {
		if !committed {
			s.state.Abort(beginID)
			s.emitUpdating()
			return
		}
		s.state.Finish(beginID, s.now())
		if f.ID != beginID {
			s.state.Finish(f.ID, s.now())
		}
		s.PollFinished(context.WithoutCancel(ctx), f.ID, nil)
	}()

	s.mu.Lock()
	sortBy := s.sortFieldLocked()
	s.mu.Unlock()

	meta := models.NewFeedMeta(f.Feed, now)
	feed, err := s.fetcher.Fetch(ctx, f.Feed, FetchOptions{Force: true})
	if err == nil && len(feed.Sources) > 0 && len(feed.Posts) == 0 {
		if !opts.discover {
			return SaveResult{State: SaveFailed}, core.NewValidationError(fmt.Sprintf("%s is not a feed.", f.URL), nil)
		}
		if len(feed.Sources) > 1 {
			site := *f
			site.Feed = ""
			site.ID = ""
			site.ActualTitle = feed.Title
			sources := slices.Clone(feed.Sources)
			sources[0].Selected = true
			return SaveResult{
				State:     SaveDiscoveredMultipleFeeds,
				Selection: &models.FeedSelection{Site: site, List: sources},
			}, nil
		}

		// a page advertising a single feed is followed through
		f.Feed = feed.Sources[0].URL
		meta = models.NewFeedMeta(f.Feed, now)
		meta.URL = feed.URL
		if !opts.silent {
			f.ID = models.FollowID(f.Feed)
			if err := s.checkConflict(f.ID, f.Feed, opts.replaces); err != nil {
				return SaveResult{State: SaveFailed}, err
			}
		}
		feed, err = s.fetcher.Fetch(ctx, f.Feed, FetchOptions{Force: true})
		if err == nil && len(feed.Sources) > 0 && len(feed.Posts) == 0 {
			err = core.NewValidationError(fmt.Sprintf("%s is not a feed.", f.Feed), nil)
		}
	}
	if err != nil {
		appErr, ok := core.AsAppError(err)
		if !opts.force || !ok || !appErr.OffersOverride() {
			return SaveResult{State: SaveFailed}, err
		}
		s.logger.Warn("Following unreachable feed on request", "url", f.Feed, "error", err)
		feed = &models.ParsedFeed{}
	}
	if ctx.Err() != nil {
		return SaveResult{State: SaveFailed}, ctx.Err()
	}

	s.merger.Merge(meta, feed, MergeOptions{Force: true, SortBy: sortBy})
	if meta.URL != "" {
		f.URL = meta.URL
	}
	f.UpdatedAt = now

	s.mu.Lock()
	if err := s.checkConflictLocked(f.ID, f.Feed, opts.replaces); err != nil {
		s.mu.Unlock()
		return SaveResult{State: SaveFailed}, err
	}
	s.summarizeLocked(f, meta)
	s.all[f.ID] = f
	s.synced.Follows[f.ID] = f.SyncEntry()
	out := f.Clone()
	s.mu.Unlock()
	committed = true

	if err := s.writeMeta(ctx, f.ID, meta); err != nil {
		return SaveResult{State: SaveFailed}, err
	}
	if err := s.writeFollows(ctx); err != nil {
		return SaveResult{State: SaveFailed}, err
	}
	s.logger.Info("Followed", "id", out.ID, "feed", out.Feed, "posts", len(meta.Posts))
	s.emit(Event{Kind: EventFollow, Follow: out})
	return SaveResult{State: SaveCommitted, Follow: out}, nil
}

func (s *Store) checkConflict(id, feed, ignore string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkConflictLocked(id, feed, ignore)
}

// checkConflictLocked rejects a follow whose id or feed is already taken by
// a follow other than ignore.
func (s *Store) checkConflictLocked(id, feed, ignore string) error {
	dup := func() error {
		return core.NewConflictError(fmt.Sprintf("%s is already a subscription of yours.", feed), nil)
	}
	if _, ok := s.all[id]; ok && id != ignore {
		return dup()
	}
	norm := models.NormalizeURL(feed)
	for fid, f := range s.all {
		if fid != ignore && models.NormalizeURL(f.Feed) == norm {
			return dup()
		}
	}
	return nil
}

// Subscribe follows every selected feed of a discovery result. Failures
// don't stop the others and are reported together.
func (s *Store) Subscribe(ctx context.Context, sel models.FeedSelection) ([]*models.Follow, error) {
	var chosen []models.FeedOption
	for _, opt := range sel.List {
		if opt.Selected {
			chosen = append(chosen, opt)
		}
	}
	if len(chosen) == 0 {
		return nil, core.NewValidationError("Please select at least one feed.", nil)
	}

	var added []*models.Follow
	var ids []string
	var failures []error
	for _, opt := range chosen {
		f := &models.Follow{
			URL:            opt.URL,
			Importance:     sel.Site.Importance,
			Tags:           slices.Clone(sel.Site.Tags),
			Title:          sel.Site.Title,
			FetchesContent: sel.Site.FetchesContent,
		}
		if len(chosen) > 1 {
			f.Title = fmt.Sprintf("%s [%s]", sel.Site.DisplayTitle(), cmp.Or(opt.Title, opt.URL))
		}
		res, err := s.add(ctx, f, addOptions{})
		if err != nil {
			failures = append(failures, err)
			continue
		}
		added = append(added, res.Follow)
		ids = append(ids, res.Follow.ID)
	}

	if len(ids) > 0 {
		if err := s.writeSynced(ctx, ids); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return added, core.NewPartialFailureError(failures)
	}
	return added, nil
}

// Remove deletes a follow and leaves a tombstone for other clients
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	f, ok := s.all[id]
	if !ok {
		s.mu.Unlock()
		return core.NewNotFoundError(fmt.Sprintf("No follow with id %s.", id), nil)
	}
	delete(s.all, id)
	s.synced.Follows[id] = models.Tombstone(s.now().UTC())
	s.mu.Unlock()

	s.state.Forget(id)
	if err := s.writeFollows(ctx); err != nil {
		return err
	}
	if err := s.deleteMeta(ctx, id); err != nil {
		s.logger.Warn("Failed to delete post history", "id", id, "error", err)
	}
	s.logger.Info("Unfollowed", "id", id, "feed", f.Feed)
	s.emit(Event{Kind: EventRemove, ID: id})
	return s.writeSynced(ctx, []string{id})
}

// Rename moves every follow tagged from over to to. The default tag
// matches untagged follows.
func (s *Store) Rename(ctx context.Context, from, to string) ([]string, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, core.NewValidationError("Both the old and the new tag are needed.", nil)
	}
	if from == to {
		return nil, nil
	}

	now := s.now().UTC()
	var ids []string
	var changed []*models.Follow
	s.mu.Lock()
	for id, f := range s.all {
		if !f.HasTag(from) {
			continue
		}
		tags := make([]string, 0, len(f.EffectiveTags()))
		for _, tag := range f.EffectiveTags() {
			if tag == from {
				tag = to
			}
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
		if len(tags) == 1 && tags[0] == models.DefaultTag {
			tags = nil
		}
		f.Tags = tags
		f.EditedAt = now
		s.synced.Follows[id] = f.SyncEntry()
		ids = append(ids, id)
		changed = append(changed, f.Clone())
	}
	s.mu.Unlock()
	sort.Strings(ids)

	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.writeFollows(ctx); err != nil {
		return ids, err
	}
	for _, f := range changed {
		s.emit(Event{Kind: EventFollow, Follow: f})
	}
	return ids, s.writeSynced(ctx, ids)
}

// ChangeSetting sets a setting. Names starting with mode- are toggles:
// setting one that is already on turns it off.
func (s *Store) ChangeSetting(ctx context.Context, name, value string) (map[string]string, error) {
	if name == "" {
		return nil, core.NewValidationError("Setting name is required.", nil)
	}

	s.mu.Lock()
	if strings.HasPrefix(name, "mode-") {
		if s.settings[name] != "" {
			delete(s.settings, name)
		} else {
			s.settings[name] = value
		}
	} else {
		s.settings[name] = value
	}
	settings := maps.Clone(s.settings)
	s.synced.Settings = maps.Clone(s.settings)
	if name == SettingSortUpdates || name == SettingReposts {
		s.resortLocked()
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventSettings, Settings: settings})
	if err := s.sync.WriteSettings(ctx, settings); err != nil {
		return settings, s.syncError(err)
	}
	return settings, nil
}

// resortLocked reorders the post samples after a sort setting changed
func (s *Store) resortLocked() {
	field := s.sortFieldLocked()
	showReposts := s.showRepostsLocked()
	for _, f := range s.all {
		models.SortPosts(f.Posts, field, f.Author, showReposts)
	}
}

// showRepostsLocked reports whether reposts sort with the follow's own
// posts. They do unless mode-reposts is "hide".
func (s *Store) showRepostsLocked() bool {
	return s.settings[SettingReposts] != "hide"
}

// RefreshScheduled fetches one follow the scheduler marked in flight and
// merges the result. Nothing is written when the feed is unchanged or the
// fetch was abandoned.
func (s *Store) RefreshScheduled(ctx context.Context, id string) error {
	s.mu.Lock()
	cur, ok := s.all[id]
	if !ok {
		s.mu.Unlock()
		return core.NewNotFoundError(fmt.Sprintf("No follow with id %s.", id), nil)
	}
	feedURL := cur.Feed
	sortBy := s.sortFieldLocked()
	s.mu.Unlock()
	s.emitUpdating()

	meta, err := s.readMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = models.NewFeedMeta(feedURL, s.now().UTC())
	}

	feed, err := s.fetcher.Fetch(ctx, feedURL, FetchOptions{ETag: meta.ETag, Force: meta.SortedBy != sortBy})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(feed.Sources) > 0 && len(feed.Posts) == 0 {
		return core.NewValidationError(fmt.Sprintf("%s is no longer a feed.", feedURL), nil)
	}

	if !s.merger.Merge(meta, feed, MergeOptions{SortBy: sortBy}) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// a follow removed while its fetch ran keeps no post history
	s.mu.Lock()
	_, ok = s.all[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.writeMeta(ctx, id, meta); err != nil {
		return err
	}

	s.mu.Lock()
	cur, ok = s.all[id]
	if !ok {
		s.mu.Unlock()
		if err := s.deleteMeta(ctx, id); err != nil {
			s.logger.Warn("Failed to delete post history", "id", id, "error", err)
		}
		return nil
	}
	s.summarizeLocked(cur, meta)
	cur.UpdatedAt = s.now().UTC()
	out := cur.Clone()
	s.mu.Unlock()

	if err := s.writeFollows(ctx); err != nil {
		return err
	}
	s.emit(Event{Kind: EventFollow, Follow: out})
	return nil
}

// PollFinished persists the poll state once a fetch is over
func (s *Store) PollFinished(ctx context.Context, id string, err error) {
	if perr := s.SavePollState(ctx); perr != nil {
		s.logger.Error("Failed to save poll state", "error", perr)
	}
	s.emitUpdating()
}

// SavePollState persists the scheduler's poll state
func (s *Store) SavePollState(ctx context.Context) error {
	data, err := s.state.MarshalJSON()
	if err != nil {
		return err
	}
	return s.local.LocalSet(ctx, storage.PollStateKey, data)
}

// summarizeLocked copies what the follow list shows about a feed from its
// post history.
func (s *Store) summarizeLocked(f *models.Follow, meta *models.FeedMeta) {
	field := s.sortFieldLocked()
	if meta.URL != "" {
		f.URL = meta.URL
	}
	f.ActualTitle = meta.Title
	f.Author = meta.Author
	f.Photo = meta.Photo()
	f.Status = slices.Clone(meta.Status)
	f.SortedBy = field
	f.Posts = models.SamplePosts(meta.Posts, field, s.config.PostsInIndex)
	models.SortPosts(f.Posts, field, f.Author, s.showRepostsLocked())
	f.Activity = activity(meta.Posts, s.now())
}

// activity counts posts per day of their last update, newest day first
func activity(posts []models.PostIndex, now time.Time) []int {
	counts := make([]int, models.ActivityDays)
	today := now.UTC().Truncate(24 * time.Hour)
	seen := false
	for _, p := range posts {
		updated := p.UpdatedAt
		if updated.IsZero() {
			updated = p.PublishedAt
		}
		at := updated.UTC().Truncate(24 * time.Hour)
		days := int(today.Sub(at) / (24 * time.Hour))
		if days < 0 || days >= models.ActivityDays {
			continue
		}
		counts[days]++
		seen = true
	}
	if !seen {
		return nil
	}
	return counts
}

func (s *Store) readMeta(ctx context.Context, id string) (*models.FeedMeta, error) {
	data, err := s.files.ReadFile(ctx, storage.FeedPath(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read post history %s: %w", id, err)
	}
	var meta models.FeedMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("Discarding unreadable post history", "id", id, "error", err)
		return nil, nil
	}
	return &meta, nil
}

func (s *Store) writeMeta(ctx context.Context, id string, meta *models.FeedMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return core.NewInternalError("Failed to encode post history.", err)
	}
	return s.files.WriteFile(ctx, storage.FeedPath(id), data)
}

func (s *Store) deleteMeta(ctx context.Context, id string) error {
	err := s.files.DeleteFile(ctx, storage.FeedPath(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// writeFollows stores the follows list. Snapshots are taken under fileMu
// so a later snapshot is never overwritten by an earlier one.
func (s *Store) writeFollows(ctx context.Context) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	data, err := json.Marshal(s.all)
	s.mu.Unlock()
	if err != nil {
		return core.NewInternalError("Failed to encode follows.", err)
	}
	return s.files.WriteFile(ctx, storage.FollowsPath, data)
}

// writeSynced rewrites the fragments holding ids
func (s *Store) writeSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	set := &models.SyncSet{
		Follows: make(map[string]models.SyncEntry, len(s.synced.Follows)),
		Index:   make(map[string]int, len(s.synced.Index)),
	}
	for id, e := range s.synced.Follows {
		set.Follows[id] = e
	}
	for id, n := range s.synced.Index {
		set.Index[id] = n
	}
	s.mu.Unlock()

	err := s.sync.WriteSynced(ctx, set, ids)

	s.mu.Lock()
	for id, n := range set.Index {
		if _, ok := s.synced.Follows[id]; ok {
			s.synced.Index[id] = n
		}
	}
	s.mu.Unlock()

	if err != nil {
		return s.syncError(err)
	}
	return nil
}

func (s *Store) syncError(err error) error {
	var qerr *frago.QuotaError
	if errors.As(err, &qerr) {
		s.logger.Error("Sync quota exceeded", "key", qerr.Key, "error", err)
		return core.NewQuotaError("Your follows are too large to sync; some changes will not reach your other devices.", err)
	}
	return fmt.Errorf("write synced follows: %w", err)
}


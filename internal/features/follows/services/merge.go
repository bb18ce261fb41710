package services

import (
	"sort"
	"strings"
	"time"

	"feedkeeper/internal/features/follows/models"
)

// untitled is shown for a post that has nothing usable as a title
const untitled = "…"

// MergeOptions controls one merge pass
type MergeOptions struct {
	// Force merges even when the freshness token is unchanged
	Force bool
	// SortBy is the active sort field; empty means publishedAt
	SortBy string
}

// Merger folds freshly fetched posts into a follow's post history
type Merger struct {
	// HistoryLimit caps the stored history; 0 keeps everything
	HistoryLimit int
	now          func() time.Time
}

// NewMerger creates a merger capping history at limit posts
func NewMerger(limit int) *Merger {
	return &Merger{HistoryLimit: limit, now: time.Now}
}

// Merge updates meta in place from feed and reports whether the feed was
// fresh. An unchanged feed leaves meta untouched. On return feed.Posts has
// been consumed and feed.Fresh is set.
func (m *Merger) Merge(meta *models.FeedMeta, feed *models.ParsedFeed, opts MergeOptions) bool {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = models.SortPublished
	}

	fresh := opts.Force || feed.ETag == "" || feed.ETag != meta.ETag || sortBy != meta.SortedBy
	feed.Fresh = fresh
	if !fresh {
		feed.Posts = nil
		return false
	}

	now := m.now()
	complete := feed.Flags == models.FlagComplete

	items := make([]models.ParsedPost, 0, len(feed.Posts))
	for _, item := range feed.Posts {
		if item.URL == "" || item.PublishedAt.After(now) {
			continue
		}
		items = append(items, item)
	}
	ident := identicalTitles(items)

	history := meta.Posts
	if !complete {
		history = removeRetracted(history, items)
	}

	byID := make(map[string]*models.PostIndex, len(history))
	live := make([]*models.PostIndex, 0, len(history))
	for i := range history {
		p := history[i]
		byID[p.ID] = &p
		live = append(live, &p)
	}

	var added, snapshot []*models.PostIndex
	inSnapshot := map[string]bool{}
	for _, item := range items {
		id := models.PostID(item.URL)
		post, exists := byID[id]
		if !exists {
			post = &models.PostIndex{ID: id, URL: item.URL, CreatedAt: now}
			byID[id] = post
			if !complete {
				added = append(added, post)
			}
		}
		if complete && !inSnapshot[id] {
			snapshot = append(snapshot, post)
			inSnapshot[id] = true
		}

		if exists && !item.PublishedAt.IsZero() && item.PublishedAt.Before(post.PublishedAt) {
			// the source corrected its date; nothing else changed
			post.PublishedAt = item.PublishedAt
			continue
		}

		switch {
		case !exists:
			post.PublishedAt = item.PublishedAt
			if post.PublishedAt.IsZero() {
				post.PublishedAt = post.CreatedAt
			}
			post.UpdatedAt = post.PublishedAt
			if !item.UpdatedAt.IsZero() && !item.UpdatedAt.After(now) {
				post.UpdatedAt = item.UpdatedAt
			}
		case !item.UpdatedAt.IsZero() && !item.UpdatedAt.After(now):
			post.UpdatedAt = item.UpdatedAt
		case item.PublishedAt.After(post.PublishedAt):
			post.UpdatedAt = item.PublishedAt
		}
		if post.UpdatedAt.IsZero() {
			post.UpdatedAt = post.PublishedAt
		}

		post.Title = resolveTitle(item, ident)
		post.Author = item.Author
	}

	var merged []*models.PostIndex
	if complete {
		merged = snapshot
	} else {
		// newest additions end up first, as if each was prepended in turn
		merged = make([]*models.PostIndex, 0, len(added)+len(live))
		for i := len(added) - 1; i >= 0; i-- {
			merged = append(merged, added[i])
		}
		merged = append(merged, live...)
	}

	posts := make([]models.PostIndex, len(merged))
	for i, p := range merged {
		posts[i] = *p
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].SortKey(sortBy).After(posts[j].SortKey(sortBy))
	})
	if m.HistoryLimit > 0 && len(posts) > m.HistoryLimit {
		posts = posts[:m.HistoryLimit]
	}

	for i := range feed.Status {
		if feed.Status[i].UpdatedAt.IsZero() {
			feed.Status[i].UpdatedAt = feed.Status[i].PublishedAt
		}
	}

	applyDiscovered(meta, feed)
	meta.Posts = posts
	meta.SortedBy = sortBy
	feed.Posts = nil
	return true
}

// identicalTitles reports a batch whose posts all share one title
func identicalTitles(items []models.ParsedPost) bool {
	if len(items) < 2 || items[0].Title == "" {
		return false
	}
	for _, item := range items[1:] {
		if item.Title != items[0].Title {
			return false
		}
	}
	return true
}

// removeRetracted drops history entries dated within the batch's time span
// that the batch no longer lists. Older entries are never touched.
func removeRetracted(history []models.PostIndex, items []models.ParsedPost) []models.PostIndex {
	var oldest, newest time.Time
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		ids[models.PostID(item.URL)] = true
		if item.PublishedAt.IsZero() {
			continue
		}
		if oldest.IsZero() || item.PublishedAt.Before(oldest) {
			oldest = item.PublishedAt
		}
		if item.PublishedAt.After(newest) {
			newest = item.PublishedAt
		}
	}
	if oldest.IsZero() {
		return history
	}

	kept := make([]models.PostIndex, 0, len(history))
	for _, p := range history {
		inSpan := !p.PublishedAt.Before(oldest) && !p.PublishedAt.After(newest)
		if inSpan && !ids[p.ID] {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func resolveTitle(item models.ParsedPost, ident bool) string {
	title := ""
	if !ident {
		title = item.Title
	}
	if title == "" {
		title = item.Text
	}
	if title == "" {
		title = HTMLToText(item.HTML)
	}
	if title == "" && !item.PublishedAt.IsZero() {
		title = item.PublishedAt.Format("Jan 2, 2006 3:04 PM")
	}
	if title == "" && ident {
		title = item.Title
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return untitled
	}
	return title
}

func applyDiscovered(meta *models.FeedMeta, feed *models.ParsedFeed) {
	if feed.Title != "" {
		meta.Title = feed.Title
	}
	if feed.URL != "" {
		meta.URL = feed.URL
	}
	if feed.Description != "" {
		meta.Description = feed.Description
	}
	if feed.Author != "" {
		meta.Author = feed.Author
	}
	if len(feed.Photos) > 0 {
		meta.Photos = feed.Photos
	}
	meta.Status = feed.Status
	meta.Sources = feed.Sources
	meta.Flags = feed.Flags
	meta.ETag = feed.ETag
}

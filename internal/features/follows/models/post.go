package models

import (
	"sort"
	"time"
)

// Sort fields
const (
	SortPublished = "publishedAt"
	SortUpdated   = "updatedAt"
)

// FlagComplete marks a feed whose every fetch lists its full history
const FlagComplete = "COMPLETE"

// PostIndex is one entry in a follow's post history
type PostIndex struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// SortKey returns the timestamp used when ordering by field
func (p *PostIndex) SortKey(field string) time.Time {
	if field == SortUpdated {
		return p.UpdatedAt
	}
	return p.PublishedAt
}

// StatusEntry is a short-lived status line published by a source
type StatusEntry struct {
	Text        string    `json:"text,omitempty"`
	HTML        string    `json:"html,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// FeedMeta is the per-follow document holding the full post history
type FeedMeta struct {
	URL         string            `json:"url"`
	Feed        string            `json:"feed"`
	OriginalURL string            `json:"originalUrl,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Photos      map[string]string `json:"photos,omitempty"`
	Status      []StatusEntry     `json:"status,omitempty"`
	Sources     []FeedOption      `json:"sources,omitempty"`
	Flags       string            `json:"flags,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	SortedBy    string            `json:"sortedBy,omitempty"`
	Posts       []PostIndex       `json:"posts"`
	CreatedAt   time.Time         `json:"createdAt,omitzero"`
}

// NewFeedMeta starts an empty history for a url the user entered
func NewFeedMeta(rawURL string, now time.Time) *FeedMeta {
	return &FeedMeta{
		URL:         rawURL,
		Feed:        rawURL,
		OriginalURL: rawURL,
		Posts:       []PostIndex{},
		CreatedAt:   now,
	}
}

// Photo returns the avatar, or any photo when there is none
func (m *FeedMeta) Photo() string {
	if p, ok := m.Photos["avatar"]; ok {
		return p
	}
	keys := make([]string, 0, len(m.Photos))
	for k := range m.Photos {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return m.Photos[keys[0]]
	}
	return ""
}

// ParsedFeed is a fetched feed normalized away from its wire format
type ParsedFeed struct {
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Photos      map[string]string `json:"photos,omitempty"`
	Posts       []ParsedPost      `json:"posts,omitempty"`
	Status      []StatusEntry     `json:"status,omitempty"`
	Sources     []FeedOption      `json:"sources,omitempty"`
	Flags       string            `json:"flags,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Fresh       bool              `json:"fresh"`
}

// ParsedPost is one item of a fetched feed
type ParsedPost struct {
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Text        string    `json:"text,omitempty"`
	HTML        string    `json:"html,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

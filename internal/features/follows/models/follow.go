package models

import (
	"slices"
	"time"
)

// DefaultTag is the implicit tag of a follow that has no tags
const DefaultTag = "home"

// ActivityDays is the length of the activity histogram
const ActivityDays = 180

// Importance tiers
const (
	ImportanceRealtime   = 0
	ImportanceFrequent   = 1
	ImportanceOccasional = 7
	ImportanceSometime   = 30
	ImportanceRarely     = 365
)

// ImportanceLevel names one importance tier
type ImportanceLevel struct {
	Value int
	Label string
	Emoji string
}

// Importances lists the tiers from most to least frequent
var Importances = []ImportanceLevel{
	{ImportanceRealtime, "Real-time", "📡"},
	{ImportanceFrequent, "Frequently", "📰"},
	{ImportanceOccasional, "Occasionally", "📅"},
	{ImportanceSometime, "Sometime", "🌙"},
	{ImportanceRarely, "Rarely", "🪐"},
}

// Follow is one followed source
type Follow struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	Feed           string        `json:"feed"`
	OriginalURL    string        `json:"originalUrl,omitempty"`
	Importance     int           `json:"importance"`
	Tags           []string      `json:"tags,omitempty"`
	Title          string        `json:"title,omitempty"`
	ActualTitle    string        `json:"actualTitle,omitempty"`
	Author         string        `json:"author,omitempty"`
	Photo          string        `json:"photo,omitempty"`
	Status         []StatusEntry `json:"status,omitempty"`
	Posts          []PostIndex   `json:"posts,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	Activity       []int         `json:"activity,omitempty"`
	SortedBy       string        `json:"sortedBy,omitempty"`
	FetchesContent bool          `json:"fetchesContent,omitempty"`
	EditedAt       time.Time     `json:"editedAt,omitzero"`
	CreatedAt      time.Time     `json:"createdAt,omitzero"`
	UpdatedAt      time.Time     `json:"updatedAt,omitzero"`
}

// IsValid reports whether the follow carries everything needed to poll it
func (f *Follow) IsValid() bool {
	return f != nil && f.URL != "" && f.Feed != "" && f.ID != ""
}

// DisplayTitle is the user title, then the discovered title, then the url
func (f *Follow) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	if f.ActualTitle != "" {
		return f.ActualTitle
	}
	return f.URL
}

// EffectiveTags returns the tags, or the default tag for an untagged follow
func (f *Follow) EffectiveTags() []string {
	if len(f.Tags) == 0 {
		return []string{DefaultTag}
	}
	return f.Tags
}

// HasTag reports whether tag applies to the follow
func (f *Follow) HasTag(tag string) bool {
	return slices.Contains(f.EffectiveTags(), tag)
}

// SyncEntry projects the follow onto the fields shared between clients
func (f *Follow) SyncEntry() SyncEntry {
	return SyncEntry{
		URL:            f.Feed,
		Importance:     f.Importance,
		Title:          f.Title,
		Tags:           slices.Clone(f.Tags),
		FetchesContent: f.FetchesContent,
		EditedAt:       f.EditedAt,
	}
}

// Clone returns a deep copy safe to hand to other goroutines
func (f *Follow) Clone() *Follow {
	c := *f
	c.Tags = slices.Clone(f.Tags)
	c.Status = slices.Clone(f.Status)
	c.Posts = slices.Clone(f.Posts)
	c.Activity = slices.Clone(f.Activity)
	return &c
}

// FeedOption is one feed advertised by a page
type FeedOption struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Type     string `json:"type,omitempty"`
	Selected bool   `json:"selected,omitempty"`
}

// FeedSelection is the user's pick among the feeds a page advertised
type FeedSelection struct {
	Site Follow       `json:"site"`
	List []FeedOption `json:"list"`
}

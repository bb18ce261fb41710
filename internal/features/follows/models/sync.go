package models

import "time"

// SyncKind says where an incoming sync set came from
type SyncKind int

const (
	// SyncFull is the startup read of the whole synced set
	SyncFull SyncKind = iota + 1
	// SyncPartial is a batch of changes pushed by another client
	SyncPartial
	// SyncExternal is an imported file
	SyncExternal
)

func (k SyncKind) String() string {
	switch k {
	case SyncFull:
		return "full"
	case SyncPartial:
		return "partial"
	case SyncExternal:
		return "external"
	}
	return "unknown"
}

// SyncEntry is the slice of a follow shared between clients. A tombstone
// carries only Deleted and EditedAt.
type SyncEntry struct {
	URL            string    `json:"url,omitempty"`
	Importance     int       `json:"importance,omitempty"`
	Title          string    `json:"title,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	FetchesContent bool      `json:"fetchesContent,omitempty"`
	EditedAt       time.Time `json:"editedAt,omitzero"`
	Deleted        bool      `json:"deleted,omitempty"`
}

// Tombstone marks id as deleted at the given time
func Tombstone(at time.Time) SyncEntry {
	return SyncEntry{Deleted: true, EditedAt: at}
}

// ToFollow turns an entry into a follow that still needs fetching
func (e SyncEntry) ToFollow(id string) *Follow {
	return &Follow{
		ID:             id,
		URL:            e.URL,
		Feed:           e.URL,
		Importance:     e.Importance,
		Title:          e.Title,
		Tags:           e.Tags,
		FetchesContent: e.FetchesContent,
		EditedAt:       e.EditedAt,
	}
}

// SyncSet is the whole synced dataset plus its fragment index
type SyncSet struct {
	Follows  map[string]SyncEntry `json:"follows"`
	Index    map[string]int       `json:"index,omitempty"`
	Settings map[string]string    `json:"settings,omitempty"`
}

// NewSyncSet returns an empty set with allocated maps
func NewSyncSet() *SyncSet {
	return &SyncSet{
		Follows:  map[string]SyncEntry{},
		Index:    map[string]int{},
		Settings: map[string]string{},
	}
}

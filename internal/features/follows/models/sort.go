package models

import (
	"slices"
	"sort"
)

// Opposite returns the sort field not currently in use
func Opposite(field string) string {
	if field == SortUpdated {
		return SortPublished
	}
	return SortUpdated
}

// SortPosts orders posts newest first by field. When reposts are hidden,
// posts by someone other than author sink below the author's own posts.
func SortPosts(posts []PostIndex, field, author string, showReposts bool) {
	isRepost := func(p *PostIndex) bool {
		return p.Author != "" && author != "" && p.Author != author
	}
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := &posts[i], &posts[j]
		if !showReposts {
			ra, rb := isRepost(a), isRepost(b)
			if ra != rb {
				return rb
			}
		}
		return a.SortKey(field).After(b.SortKey(field))
	})
}

// SamplePosts picks up to limit newest posts by field, then adds up to
// limit newest by the opposite field that are not already present, so the
// sample stays useful when the user flips the sort setting.
func SamplePosts(history []PostIndex, field string, limit int) []PostIndex {
	if limit <= 0 || len(history) == 0 {
		return nil
	}
	primary := slices.Clone(history)
	SortPosts(primary, field, "", true)
	if len(primary) > limit {
		primary = primary[:limit]
	}

	seen := make(map[string]bool, len(primary))
	for _, p := range primary {
		seen[p.ID] = true
	}

	other := slices.Clone(history)
	SortPosts(other, Opposite(field), "", true)
	if len(other) > limit {
		other = other[:limit]
	}
	for _, p := range other {
		if !seen[p.ID] {
			primary = append(primary, p)
			seen[p.ID] = true
		}
	}
	return primary
}

package models

import (
	"strings"
	"testing"
	"time"
)

func TestStringHashMatchesKnownValues(t *testing.T) {
	if got := StringHash("abc"); got != 96354 {
		t.Errorf("Expected hash of abc to be 96354, got %d", got)
	}
	if got := StringHash("hello"); got != 99162322 {
		t.Errorf("Expected hash of hello to be 99162322, got %d", got)
	}
	if got := StringHash(""); got != 0 {
		t.Errorf("Expected hash of empty string to be 0, got %d", got)
	}
}

func TestURLToIDUsesHostPrefix(t *testing.T) {
	id := URLToID("example.com/abc")
	if !strings.HasPrefix(id, "example.com-") {
		t.Errorf("Expected id to start with host, got %s", id)
	}
	if URLToID("example.com/abc") != id {
		t.Error("Expected id derivation to be deterministic")
	}
}

func TestNormalizeURLIgnoresSchemeAndWWW(t *testing.T) {
	a := NormalizeURL("https://www.Example.com/feed/#top")
	b := NormalizeURL("http://example.com/feed/")
	if a != b {
		t.Errorf("Expected %q and %q to normalize alike", a, b)
	}
	if strings.Contains(a, "://") {
		t.Errorf("Expected scheme to be stripped, got %q", a)
	}
	if FollowID("https://www.example.com/feed/") != FollowID("example.com/feed") {
		t.Error("Expected follow ids to match across url spellings")
	}
}

func TestPostIDNamespace(t *testing.T) {
	link := "https://example.com/posts/1"
	if !strings.HasPrefix(PostID(link), "p-") {
		t.Errorf("Expected post id prefix, got %s", PostID(link))
	}
	if PostID(link) == FollowID(link) {
		t.Error("Expected post and follow ids to differ")
	}
}

func TestFollowValidityAndTags(t *testing.T) {
	f := &Follow{URL: "https://example.com", Feed: "https://example.com/rss"}
	if f.IsValid() {
		t.Error("Expected follow without id to be invalid")
	}
	f.ID = FollowID(f.Feed)
	if !f.IsValid() {
		t.Error("Expected follow with url, feed and id to be valid")
	}
	if !f.HasTag(DefaultTag) {
		t.Error("Expected untagged follow to carry the default tag")
	}
	f.Tags = []string{"news"}
	if f.HasTag(DefaultTag) || !f.HasTag("news") {
		t.Errorf("Unexpected tags %v", f.EffectiveTags())
	}
	if f.DisplayTitle() != f.URL {
		t.Errorf("Expected url as title fallback, got %s", f.DisplayTitle())
	}
}

func TestSamplePostsMixesBothOrders(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var history []PostIndex
	for i := 0; i < 5; i++ {
		history = append(history, PostIndex{
			ID:          string(rune('a' + i)),
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
	}
	// an old post that was updated recently
	history = append(history, PostIndex{ID: "old", PublishedAt: base.Add(-time.Hour), UpdatedAt: base.Add(48 * time.Hour)})

	sample := SamplePosts(history, SortPublished, 2)
	if len(sample) != 3 {
		t.Fatalf("Expected 3 posts in sample, got %d", len(sample))
	}
	if sample[0].ID != "e" || sample[1].ID != "d" {
		t.Errorf("Expected newest published first, got %s, %s", sample[0].ID, sample[1].ID)
	}
	if sample[2].ID != "old" {
		t.Errorf("Expected recently updated post to be included, got %s", sample[2].ID)
	}
}

func TestSortPostsHidesReposts(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	posts := []PostIndex{
		{ID: "own", Author: "me", PublishedAt: base},
		{ID: "repost", Author: "other", PublishedAt: base.Add(time.Hour)},
	}
	SortPosts(posts, SortPublished, "me", false)
	if posts[0].ID != "own" {
		t.Errorf("Expected own post first when reposts are hidden, got %s", posts[0].ID)
	}
	SortPosts(posts, SortPublished, "me", true)
	if posts[0].ID != "repost" {
		t.Errorf("Expected newest first when reposts are shown, got %s", posts[0].ID)
	}
}

package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"
)

const testRSS = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
  <title>Example Blog</title>
  <link>https://blog.example/</link>
  <description>Notes</description>
  <image><url>/logo.png</url></image>
  <item>
    <title>Second</title>
    <link>https://blog.example/2</link>
    <description>&lt;p&gt;Hello &lt;b&gt;there&lt;/b&gt;&lt;/p&gt;</description>
    <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
    <author>Ann</author>
  </item>
  <item>
    <title>First</title>
    <guid>https://blog.example/1</guid>
    <description>plain body</description>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const testPage = `<!DOCTYPE html>
<html><head>
<title> Example Site </title>
<link rel="alternate" type="application/rss+xml" title="Posts" href="/feed.xml">
<link rel="alternate" type="application/atom+xml" title="Comments" href="https://site.example/comments.atom">
<link rel="alternate" type="text/html" hreflang="fr" href="/fr">
</head><body>hi</body></html>`

func newTestFetcher() *FetcherService {
	return NewFetcherService(core.NopLogger(), &models.FetcherConfig{
		UserAgent: "feedkeeper-test/1.0",
		Timeout:   5 * time.Second,
	})
}

func TestFetchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "feedkeeper-test/1.0" {
			t.Errorf("Unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	feed, err := newTestFetcher().Fetch(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if feed.Title != "Example Blog" || feed.URL != "https://blog.example/" {
		t.Errorf("Unexpected feed metadata %q %q", feed.Title, feed.URL)
	}
	if feed.ETag != `"abc"` {
		t.Errorf("Expected ETag token, got %q", feed.ETag)
	}
	if feed.Photos["avatar"] != srv.URL+"/logo.png" {
		t.Errorf("Expected avatar resolved against the feed url, got %q", feed.Photos["avatar"])
	}
	if len(feed.Posts) != 2 {
		t.Fatalf("Expected 2 posts, got %d", len(feed.Posts))
	}

	second := feed.Posts[0]
	if second.HTML == "" || second.Text != "" {
		t.Errorf("Expected markup description to be kept as html, got %+v", second)
	}
	if !second.PublishedAt.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected publishedAt %v", second.PublishedAt)
	}

	first := feed.Posts[1]
	if first.URL != "https://blog.example/1" {
		t.Errorf("Expected guid to stand in for a missing link, got %q", first.URL)
	}
	if first.Text != "plain body" {
		t.Errorf("Expected plain description as text, got %q", first.Text)
	}
}

func TestFetchConditionalRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	f := newTestFetcher()
	feed, err := f.Fetch(context.Background(), srv.URL, FetchOptions{ETag: `"abc"`})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if feed.ETag != `"abc"` || len(feed.Posts) != 0 {
		t.Errorf("Expected an empty feed carrying the old token, got %+v", feed)
	}

	feed, err = f.Fetch(context.Background(), srv.URL, FetchOptions{ETag: `"abc"`, Force: true})
	if err != nil {
		t.Fatalf("Failed to force fetch: %v", err)
	}
	if len(feed.Posts) != 2 {
		t.Errorf("Expected forced fetch to return the body, got %d posts", len(feed.Posts))
	}
}

func TestFetchFallsBackToLastModified(t *testing.T) {
	lastMod := "Mon, 01 Jan 2024 10:00:00 GMT"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == lastMod {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastMod)
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	f := newTestFetcher()
	feed, err := f.Fetch(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if feed.ETag != lastMod {
		t.Fatalf("Expected Last-Modified as token, got %q", feed.ETag)
	}

	feed, err = f.Fetch(context.Background(), srv.URL, FetchOptions{ETag: lastMod})
	if err != nil {
		t.Fatalf("Failed to refetch: %v", err)
	}
	if len(feed.Posts) != 0 {
		t.Error("Expected If-Modified-Since to produce a not-modified answer")
	}
}

func TestFetchDiscoversFeedsInPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	feed, err := newTestFetcher().Fetch(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if feed.Title != "Example Site" {
		t.Errorf("Expected page title, got %q", feed.Title)
	}
	if len(feed.Sources) != 2 {
		t.Fatalf("Expected 2 feed sources, got %+v", feed.Sources)
	}
	if feed.Sources[0].URL != srv.URL+"/feed.xml" || feed.Sources[0].Title != "Posts" {
		t.Errorf("Unexpected first source %+v", feed.Sources[0])
	}
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><head><title>x</title></head></html>"))
		default:
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("just text"))
		}
	}))
	defer srv.Close()

	f := newTestFetcher()
	cases := map[string]string{
		"/missing": core.ErrCodeValidation,
		"/broken":  core.ErrCodeNetwork,
		"/page":    core.ErrCodeValidation,
		"/text":    core.ErrCodeValidation,
	}
	for path, code := range cases {
		_, err := f.Fetch(context.Background(), srv.URL+path, FetchOptions{})
		if !core.HasCode(err, code) {
			t.Errorf("%s: expected %s, got %v", path, code, err)
		}
	}

	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/feed", FetchOptions{})
	appErr, ok := core.AsAppError(err)
	if !ok || !appErr.OffersOverride() {
		t.Errorf("Expected a network error offering override, got %v", err)
	}
}

func TestFetchHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestFetcher().Fetch(ctx, srv.URL, FetchOptions{})
	if err == nil || ctx.Err() == nil {
		t.Fatalf("Expected the fetch to be abandoned, got %v", err)
	}
	if core.HasCode(err, core.ErrCodeNetwork) {
		t.Error("Expected an abandoned fetch not to be reported as a connection failure")
	}
}

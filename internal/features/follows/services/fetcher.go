package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// maxBodySize bounds how much of a response is read
const maxBodySize = 10 << 20

const connectMessage = "Couldn't connect - check your spelling, be sure this URL really exists."

// FetchOptions controls a single fetch
type FetchOptions struct {
	// ETag is the freshness token from the previous fetch
	ETag string
	// Force skips the conditional request headers
	Force bool
}

// FeedFetcher retrieves and parses a feed
type FeedFetcher interface {
	Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*models.ParsedFeed, error)
}

// FetcherService fetches feeds over HTTP and parses them with gofeed. Web
// pages are searched for the feeds they advertise instead.
type FetcherService struct {
	client *http.Client
	logger *core.Logger
	config *models.FetcherConfig
}

// NewFetcherService creates a new fetcher service
func NewFetcherService(logger *core.Logger, config *models.FetcherConfig) *FetcherService {
	client := &http.Client{
		Timeout: config.Timeout,
	}

	return &FetcherService{
		client: client,
		logger: logger,
		config: config,
	}
}

// Fetch performs a conditional GET of rawURL. A 304 answer returns an empty
// feed carrying the previous token so the merge sees it as unchanged.
func (f *FetcherService) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*models.ParsedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("%s is not a valid address.", rawURL), err)
	}

	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")
	if opts.ETag != "" && !opts.Force {
		if _, perr := http.ParseTime(opts.ETag); perr == nil {
			req.Header.Set("If-Modified-Since", opts.ETag)
		} else {
			req.Header.Set("If-None-Match", opts.ETag)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		return nil, core.NewNetworkError(connectMessage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.logger.Debug("Feed not modified", "url", rawURL)
		return &models.ParsedFeed{ETag: opts.ETag}, nil
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewNetworkError(connectMessage, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, core.NewValidationError(fmt.Sprintf("%s is giving a %d error.", rawURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("read %s: %w", rawURL, ctx.Err())
		}
		return nil, core.NewNetworkError(connectMessage, err)
	}

	base := resp.Request.URL
	if looksLikeHTML(resp.Header.Get("Content-Type"), body) {
		return f.discover(rawURL, base, body)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("%s is not a feed.", rawURL), err)
	}

	feed := convertFeed(parsed, base)
	feed.ETag = freshnessToken(resp.Header)
	f.logger.Info("Fetched feed", "url", rawURL, "posts", len(feed.Posts))
	return feed, nil
}

// freshnessToken picks the header that best identifies this response
func freshnessToken(h http.Header) string {
	for _, name := range []string{"ETag", "Last-Modified", "Date"} {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// discover lists the feeds a web page links to. The page itself becomes
// the follow's site url.
func (f *FetcherService) discover(rawURL string, base *url.URL, body []byte) (*models.ParsedFeed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("%s is not a feed.", rawURL), err)
	}

	feed := &models.ParsedFeed{
		URL:   base.String(),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		feed.Description = strings.TrimSpace(desc)
	}
	if icon, ok := doc.Find(`link[rel~="icon"]`).Attr("href"); ok {
		if u, err := base.Parse(icon); err == nil {
			feed.Photos = map[string]string{"avatar": u.String()}
		}
	}

	seen := map[string]bool{}
	doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(s.AttrOr("type", ""))
		if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") && !strings.Contains(typ, "json") {
			return
		}
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		u, err := base.Parse(href)
		if err != nil || seen[u.String()] {
			return
		}
		seen[u.String()] = true
		feed.Sources = append(feed.Sources, models.FeedOption{
			URL:   u.String(),
			Title: strings.TrimSpace(s.AttrOr("title", "")),
			Type:  typ,
		})
	})

	if len(feed.Sources) == 0 {
		return nil, core.NewValidationError(fmt.Sprintf("%s is not a feed.", rawURL), errors.New("no alternate links"))
	}
	f.logger.Info("Discovered feeds", "url", rawURL, "sources", len(feed.Sources))
	return feed, nil
}

func convertFeed(in *gofeed.Feed, base *url.URL) *models.ParsedFeed {
	out := &models.ParsedFeed{
		Title:       strings.TrimSpace(in.Title),
		URL:         resolve(base, in.Link),
		Description: strings.TrimSpace(in.Description),
		Author:      personName(in.Author, in.Authors),
	}
	if in.Image != nil && in.Image.URL != "" {
		out.Photos = map[string]string{"avatar": resolve(base, in.Image.URL)}
	}

	out.Posts = make([]models.ParsedPost, 0, len(in.Items))
	for _, item := range in.Items {
		link := item.Link
		if link == "" && strings.HasPrefix(item.GUID, "http") {
			link = item.GUID
		}
		post := models.ParsedPost{
			URL:    resolve(base, link),
			Title:  strings.TrimSpace(item.Title),
			Author: personName(item.Author, item.Authors),
		}
		if strings.Contains(item.Description, "<") {
			post.HTML = item.Description
		} else {
			post.Text = strings.TrimSpace(item.Description)
		}
		if item.Content != "" {
			post.HTML = item.Content
		}
		if item.PublishedParsed != nil {
			post.PublishedAt = item.PublishedParsed.UTC()
		}
		if item.UpdatedParsed != nil {
			post.UpdatedAt = item.UpdatedParsed.UTC()
			if post.PublishedAt.IsZero() {
				post.PublishedAt = post.UpdatedAt
			}
		}
		out.Posts = append(out.Posts, post)
	}
	return out
}

func personName(p *gofeed.Person, all []*gofeed.Person) string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	for _, a := range all {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}

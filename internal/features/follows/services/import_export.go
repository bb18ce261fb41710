package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/opml"

	"github.com/gorilla/feeds"
)

// Import and export formats
const (
	FormatOPML = "opml"
	FormatJSON = "json"
	FormatHTML = "html"
	FormatAtom = "atom"
)

// atomLimit caps the number of posts in the atom export
const atomLimit = 100

// Export is a rendered export
type Export struct {
	Format   string `json:"format"`
	MimeType string `json:"mimeType"`
	Contents []byte `json:"contents"`
}

// ImportFrom merges follows from an OPML outline or a previous JSON
// export. Imported follows only replace local ones they are newer than.
func (s *Store) ImportFrom(ctx context.Context, format string, contents []byte) ([]string, error) {
	inc := models.NewSyncSet()

	switch format {
	case FormatOPML:
		entries, err := opml.Parse(bytes.NewReader(contents))
		if err != nil {
			return nil, core.NewValidationError("This file doesn't look like an OPML outline.", err)
		}
		for _, e := range entries {
			id := models.FollowID(e.URL)
			inc.Follows[id] = models.SyncEntry{
				URL:        e.URL,
				Importance: e.Importance,
				Title:      e.Title,
				Tags:       e.Tags,
				EditedAt:   e.Created,
			}
		}
	case FormatJSON:
		if err := json.Unmarshal(contents, inc); err != nil {
			return nil, core.NewValidationError("This file doesn't look like a follows export.", err)
		}
		if inc.Follows == nil {
			inc.Follows = map[string]models.SyncEntry{}
		}
	default:
		return nil, core.NewValidationError(fmt.Sprintf("Can't import from %q.", format), nil)
	}

	if len(inc.Follows) == 0 && len(inc.Settings) == 0 {
		return nil, nil
	}
	s.logger.Info("Importing follows", "format", format, "count", len(inc.Follows))
	return s.Sync(ctx, inc, models.SyncExternal)
}

// ExportTo renders the follows in the given format
func (s *Store) ExportTo(ctx context.Context, format string) (*Export, error) {
	follows := s.Follows()
	sort.SliceStable(follows, func(i, j int) bool {
		return strings.ToLower(follows[i].DisplayTitle()) < strings.ToLower(follows[j].DisplayTitle())
	})

	var (
		out = &Export{Format: format}
		err error
	)
	switch format {
	case FormatOPML:
		out.MimeType = "text/xml"
		out.Contents, err = exportOPML(follows, s.now().UTC())
	case FormatHTML:
		out.MimeType = "text/html"
		out.Contents, err = exportHTML(follows)
	case FormatJSON:
		out.MimeType = "application/json"
		s.mu.Lock()
		out.Contents, err = json.MarshalIndent(s.synced, "", "  ")
		s.mu.Unlock()
	case FormatAtom:
		out.MimeType = "application/atom+xml"
		out.Contents, err = exportAtom(follows, s.now().UTC())
	default:
		return nil, core.NewValidationError(fmt.Sprintf("Can't export to %q.", format), nil)
	}
	if err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("Failed to export %s.", format), err)
	}
	return out, nil
}

func exportOPML(follows []*models.Follow, now time.Time) ([]byte, error) {
	list := make([]opml.Feed, 0, len(follows))
	for _, f := range follows {
		list = append(list, opml.Feed{
			Text:       f.DisplayTitle(),
			Title:      f.Title,
			FeedURL:    f.Feed,
			SiteURL:    f.URL,
			Tags:       f.Tags,
			Importance: f.Importance,
			Created:    f.EditedAt,
		})
	}
	return opml.Export("feedkeeper follows", list, now)
}

var bookmarksTemplate = template.Must(template.New("bookmarks").Parse(`<!DOCTYPE NETSCAPE-Bookmark-file-1>
<meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
<title>feedkeeper links</title>
<h1>feedkeeper follows</h1>
<dl>
{{- range .}}
<dt><h3>{{.Tag}}</h3>
<dl>
{{- range .Levels}}
<dt><h4>{{.Emoji}} {{.Label}}</h4>
<dl>
{{- range .Follows}}
<dt><a href="{{.URL}}">{{.DisplayTitle}}</a>
{{- end}}
</dl>
{{- end}}
</dl>
{{- end}}
</dl>
`))

type bookmarkLevel struct {
	models.ImportanceLevel
	Follows []*models.Follow
}

type bookmarkTag struct {
	Tag    string
	Levels []bookmarkLevel
}

// exportHTML groups follows by tag, then by importance, like a browser's
// bookmark export. The default tag comes first.
func exportHTML(follows []*models.Follow) ([]byte, error) {
	byTag := map[string]map[int][]*models.Follow{}
	for _, f := range follows {
		for _, tag := range f.EffectiveTags() {
			if byTag[tag] == nil {
				byTag[tag] = map[int][]*models.Follow{}
			}
			byTag[tag][f.Importance] = append(byTag[tag][f.Importance], f)
		}
	}

	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		if tag != models.DefaultTag {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	tags = append([]string{models.DefaultTag}, tags...)

	var groups []bookmarkTag
	for _, tag := range tags {
		g := bookmarkTag{Tag: tag}
		for _, imp := range models.Importances {
			if fs := byTag[tag][imp.Value]; len(fs) > 0 {
				g.Levels = append(g.Levels, bookmarkLevel{ImportanceLevel: imp, Follows: fs})
			}
		}
		groups = append(groups, g)
	}

	var buf bytes.Buffer
	if err := bookmarksTemplate.Execute(&buf, groups); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// exportAtom builds one feed of the newest posts across all follows
func exportAtom(follows []*models.Follow, now time.Time) ([]byte, error) {
	feed := &feeds.Feed{
		Title:       "feedkeeper",
		Description: "Recent posts from everything followed",
		Link:        &feeds.Link{Href: "urn:feedkeeper:follows", Rel: "self"},
		Id:          "urn:feedkeeper:follows",
		Created:     now,
		Updated:     now,
	}

	type entry struct {
		post   models.PostIndex
		follow *models.Follow
	}
	var entries []entry
	seen := map[string]bool{}
	for _, f := range follows {
		for _, p := range f.Posts {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			entries = append(entries, entry{post: p, follow: f})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].post.PublishedAt.After(entries[j].post.PublishedAt)
	})
	if len(entries) > atomLimit {
		entries = entries[:atomLimit]
	}

	for _, e := range entries {
		author := e.post.Author
		if author == "" {
			author = e.follow.DisplayTitle()
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Title:   e.post.Title,
			Link:    &feeds.Link{Href: e.post.URL},
			Source:  &feeds.Link{Href: e.follow.Feed},
			Id:      e.post.URL,
			Author:  &feeds.Author{Name: author},
			Created: e.post.PublishedAt,
			Updated: e.post.UpdatedAt,
		})
	}

	atom, err := feed.ToAtom()
	if err != nil {
		return nil, err
	}
	return []byte(atom), nil
}

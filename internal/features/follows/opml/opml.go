// Package opml reads and writes follow lists as OPML outlines.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder or a feed. Category carries comma separated tags and
// an importance/N marker.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Category string    `xml:"category,attr,omitempty"`
	Created  string    `xml:"created,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one feed found in an outline tree
type Entry struct {
	URL        string
	Title      string
	Tags       []string
	Importance int
	Created    time.Time
}

var importanceTag = regexp.MustCompile(`^importance/(\d+)$`)

// Parse reads an OPML document. Parent outline texts and the category
// attribute become tags; an importance/N tag sets the importance instead.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []Outline, parents []string)
	walk = func(outlines []Outline, parents []string) {
		for _, o := range outlines {
			link := o.XMLURL
			if link == "" {
				link = o.HTMLURL
			}
			if link != "" {
				entries = append(entries, toEntry(o, link, parents))
			}
			if len(o.Outlines) > 0 {
				walk(o.Outlines, append(parents[:len(parents):len(parents)], o.Text))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

func toEntry(o Outline, link string, parents []string) Entry {
	e := Entry{URL: link, Title: o.Title}

	var tags []string
	if o.Category != "" {
		tags = strings.Split(o.Category, ",")
	}
	tags = append(tags, parents...)
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if m := importanceTag.FindStringSubmatch(tag); m != nil {
			e.Importance, _ = strconv.Atoi(m[1])
			continue
		}
		if tag != "" {
			e.Tags = append(e.Tags, tag)
		}
	}

	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, o.Created); err == nil {
			e.Created = t.UTC()
			break
		}
	}
	return e
}

// Feed is one follow to export
type Feed struct {
	Text       string
	Title      string
	FeedURL    string
	SiteURL    string
	Tags       []string
	Importance int
	Created    time.Time
}

// Export writes a flat outline list. Tags and importance are folded into
// the category attribute so Parse can restore them.
func Export(title string, feeds []Feed, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}

	for _, f := range feeds {
		category := append([]string{fmt.Sprintf("importance/%d", f.Importance)}, f.Tags...)
		o := Outline{
			Text:     f.Text,
			Title:    f.Title,
			Type:     "rss",
			XMLURL:   f.FeedURL,
			HTMLURL:  f.SiteURL,
			Category: strings.Join(category, ","),
		}
		if !f.Created.IsZero() {
			o.Created = f.Created.Format(time.RFC1123Z)
		}
		doc.Body.Outlines = append(doc.Body.Outlines, o)
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

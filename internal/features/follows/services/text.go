package services

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	schemeRe     = regexp.MustCompile(`[a-z]+://`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// HTMLToText flattens an HTML fragment to its visible text. Bare links
// are blanked out first so a post made of a single url does not end up
// titled by it.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}
	html = schemeRe.ReplaceAllString(html, " ")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + html + "</div>"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(doc.Text(), " "))
}

// looksLikeHTML reports whether body is a web page rather than a feed
func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

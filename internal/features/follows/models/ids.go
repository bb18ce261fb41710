package models

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/PuerkitoBio/purell"
)

const normalizeFlags = purell.FlagsUsuallySafeGreedy |
	purell.FlagRemoveFragment |
	purell.FlagRemoveWWW |
	purell.FlagRemoveDirectoryIndex |
	purell.FlagSortQuery

// NormalizeURL canonicalizes a link and strips its scheme so that
// http and https variants of one address normalize alike. Links that
// cannot be parsed are returned unchanged.
func NormalizeURL(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "http://" + link
	}
	norm, err := purell.NormalizeURLString(link, normalizeFlags)
	if err != nil {
		return link
	}
	if i := strings.Index(norm, "://"); i >= 0 {
		norm = norm[i+3:]
	}
	return norm
}

// StringHash is the 31-multiplier string hash over UTF-16 code units,
// truncated to 32 bits.
func StringHash(s string) uint32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(c)
	}
	return uint32(h)
}

// URLToID derives a follow id from a normalized url: the host, a dash,
// and the hex hash of the whole string.
func URLToID(norm string) string {
	host, _, _ := strings.Cut(norm, "/")
	return host + "-" + strconv.FormatUint(uint64(StringHash(norm)), 16)
}

// FollowID derives the id of the follow polling link
func FollowID(link string) string {
	return URLToID(NormalizeURL(link))
}

// PostID derives a post id from its url. Post ids live in their own
// namespace so they never collide with follow ids.
func PostID(link string) string {
	return "p-" + strconv.FormatUint(uint64(StringHash(NormalizeURL(link))), 16)
}

// WithScheme prefixes http:// to links typed without a scheme
func WithScheme(link string) string {
	link = strings.TrimSpace(link)
	if link != "" && !strings.Contains(link, "://") {
		return "http://" + link
	}
	return link
}

package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testOutline = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>subscriptions</title></head>
  <body>
    <outline text="Example Blog" type="rss" xmlUrl="%[1]s/blog.xml"/>
    <outline text="Other" type="rss" xmlUrl="%[1]s/other.xml"/>
  </body>
</opml>`

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>%[1]s</title>
    <link>https://example.com/%[1]s</link>
    <item>
      <title>First post</title>
      <link>https://example.com/%[1]s/1</link>
      <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    </item>
  </channel>
</rss>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testRSS, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".xml"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("feedkeeper %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestVersion(t *testing.T) {
	out := run(t, "version")
	if !strings.Contains(out, Version) {
		t.Errorf("Expected version %s in %q", Version, out)
	}
}

func TestImportThenExport(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "feedkeeper.db")
	feeds := feedServer(t)
	outline := filepath.Join(dir, "subs.opml")
	if err := os.WriteFile(outline, []byte(fmt.Sprintf(testOutline, feeds.URL)), 0o644); err != nil {
		t.Fatal(err)
	}

	out := run(t, "import", outline, "--db-driver", "sqlite", "--db-dsn", dsn, "--log-level", "error")
	if !strings.Contains(out, "imported 2 follows") {
		t.Errorf("Unexpected import output %q", out)
	}

	exported := filepath.Join(dir, "out.opml")
	run(t, "export", "--format", "opml", "--output", exported, "--db-driver", "sqlite", "--db-dsn", dsn, "--log-level", "error")

	contents, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{feeds.URL + "/blog.xml", feeds.URL + "/other.xml"} {
		if !bytes.Contains(contents, []byte(want)) {
			t.Errorf("Expected %s in export:\n%s", want, contents)
		}
	}
}

func TestGuessFormat(t *testing.T) {
	cases := map[string]string{
		"subs.opml":   "opml",
		"subs.xml":    "opml",
		"backup.JSON": "json",
	}
	for path, want := range cases {
		if got := guessFormat(path); got != want {
			t.Errorf("guessFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

package follows

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/commands"

	"github.com/go-chi/chi/v5"
)

func testConfig() *Config {
	return NewConfig(core.DefaultConfig())
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("Expected the defaults to be valid: %v", err)
	}

	bad := testConfig()
	bad.MaxConcurrentFetches = 0
	if err := bad.Validate(); err == nil {
		t.Error("Expected zero concurrent fetches to be rejected")
	}

	bad = testConfig()
	bad.PostsInIndex = bad.HistoryLimit + 1
	if err := bad.Validate(); err == nil {
		t.Error("Expected more sampled posts than history to be rejected")
	}
}

func TestFeatureLifecycle(t *testing.T) {
	ctx := context.Background()
	db, err := core.OpenDatabase(core.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, core.NopLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	config := testConfig()
	config.PollTick = time.Hour
	feature := NewFeature(core.NopLogger(), db, config)
	if err := feature.Init(ctx); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}

	r := chi.NewRouter()
	feature.Mount(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands",
		strings.NewReader(`{"id":"s1","action":"changeSetting","data":{"name":"sort-home","value":"title"}}`)))
	var u commands.Update
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if u.ID != "s1" || u.Op != commands.OpReplace {
		t.Errorf("Unexpected update %+v", u)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := feature.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	// the settings and client id survive a restart on the same database
	again := NewFeature(core.NopLogger(), db, config)
	if err := again.Open(ctx); err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	if got := again.Store().Settings()["sort-home"]; got != "title" {
		t.Errorf("Expected the setting to be restored, got %q", got)
	}
}

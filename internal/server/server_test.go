package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedkeeper/internal/core"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	config := core.DefaultConfig()
	config.Database.DSN = ":memory:"
	config.Features.Follows.PollTick = time.Hour

	db, err := core.OpenDatabase(config.Database, core.NopLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	srv, err := New(config, core.NopLogger(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Status   string                        `json:"status"`
		Features map[string]core.FeatureStatus `json:"features"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if body.Status != "ok" || !body.Features["follows"].Enabled {
		t.Errorf("Unexpected health %+v", body)
	}
}

func TestFeatureRoutesAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands",
		strings.NewReader(`{"id":"m1","action":"setup"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected the follows routes to be mounted, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `feedkeeper_commands_total{action="setup",result="ok"}`) {
		t.Errorf("Expected command metrics, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "feedkeeper_sync_rounds_total") {
		t.Error("Expected sync metrics from setup")
	}
}

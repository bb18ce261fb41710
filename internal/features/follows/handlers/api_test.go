package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/commands"
	"feedkeeper/internal/features/follows/models"
	"feedkeeper/internal/features/follows/services"

	"github.com/go-chi/chi/v5"
)

type fakeStore struct {
	follows []*models.Follow
	synced  map[string]json.RawMessage
}

func (s *fakeStore) Follows() []*models.Follow { return s.follows }

func (s *fakeStore) Get(id string) (*models.Follow, bool) {
	for _, f := range s.follows {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

func (s *fakeStore) ExportTo(_ context.Context, format string) (*services.Export, error) {
	if format != services.FormatOPML {
		return nil, core.NewValidationError("Can't export to "+format+".", nil)
	}
	return &services.Export{Format: format, MimeType: "text/xml", Contents: []byte("<opml/>")}, nil
}

func (s *fakeStore) OnSync(_ context.Context, raw map[string]json.RawMessage) ([]string, error) {
	s.synced = raw
	return []string{"a"}, nil
}

type echoSubmitter struct{}

func (echoSubmitter) Submit(_ context.Context, req commands.Request) (commands.Update, error) {
	if req.Command.Action() == commands.ActionRemove {
		u := commands.ErrorUpdate(core.NewNotFoundError("No follow with id x.", nil))
		u.ID = req.ID
		return u, nil
	}
	return commands.Update{ID: req.ID, Op: req.Command.Action()}, nil
}

func newTestRouter() (http.Handler, *fakeStore, *commands.Bus) {
	store := &fakeStore{follows: []*models.Follow{{ID: "a", URL: "https://a.example/", Feed: "https://a.example/feed"}}}
	bus := commands.NewBus(8, core.NopLogger())
	h := NewAPIHandler(core.NopLogger(), store, echoSubmitter{}, bus)
	r := chi.NewRouter()
	h.Routes(r)
	return r, store, bus
}

func decodeUpdate(t *testing.T, rec *httptest.ResponseRecorder) commands.Update {
	t.Helper()
	var u commands.Update
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("Failed to decode update: %v", err)
	}
	return u
}

func TestCommandEndpoint(t *testing.T) {
	router, _, _ := newTestRouter()

	rec := httptest.NewRecorder()
	body := `{"id":"r1","action":"changeSetting","data":{"name":"mode-updates","value":"on"}}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if u := decodeUpdate(t, rec); u.ID != "r1" || u.Op != commands.ActionChangeSetting {
		t.Errorf("Unexpected update %+v", u)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(`{"id":"r2","action":"explode","data":{}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown action, got %d", rec.Code)
	}
	if u := decodeUpdate(t, rec); u.ID != "r2" || u.Op != commands.OpError || u.Code != core.ErrCodeValidation {
		t.Errorf("Unexpected error update %+v", u)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(`{"id":"r3","action":"remove","data":{"id":"x"}}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected the error update to set the status, got %d", rec.Code)
	}
}

func TestFollowEndpoints(t *testing.T) {
	router, _, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/follows", nil))
	var list struct {
		Follows []models.Follow `json:"follows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list.Follows) != 1 {
		t.Fatalf("Expected one follow, got %+v (%v)", list, err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/follows/a", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/follows/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	router, _, _ := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export/opml", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/xml" || rec.Body.String() != "<opml/>" {
		t.Errorf("Unexpected export response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export/pdf", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	router, store, _ := newTestRouter()

	rec := httptest.NewRecorder()
	body := `{"follows/0":{"a":{"url":"https://a.example/feed"}},"writer":{"client":"other"}}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if _, ok := store.synced["follows/0"]; !ok {
		t.Error("Expected the items to reach the store")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader("[")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad body, got %d", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	router, _, bus := newTestRouter()
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Unexpected content type %q", ct)
	}

	for bus.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(commands.Update{Op: commands.OpRemove, Path: "/all/a"})

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	if event != commands.OpRemove || !strings.Contains(data, `"/all/a"`) {
		t.Errorf("Unexpected event %q %q", event, data)
	}
}

package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/commands"

	"github.com/go-chi/chi/v5"
)

// maxBody bounds request bodies; imports are the largest
const maxBody = 16 << 20

// APIHandler serves the follows API
type APIHandler struct {
	logger     *core.Logger
	store      FollowStore
	dispatcher CommandSubmitter
	updates    UpdateSource
}

// NewAPIHandler creates the follows API handler
func NewAPIHandler(logger *core.Logger, store FollowStore, dispatcher CommandSubmitter, updates UpdateSource) *APIHandler {
	return &APIHandler{
		logger:     logger,
		store:      store,
		dispatcher: dispatcher,
		updates:    updates,
	}
}

// Routes mounts the API under r
func (h *APIHandler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/commands", h.Command)
		r.Get("/follows", h.ListFollows)
		r.Get("/follows/{id}", h.GetFollow)
		r.Get("/export/{format}", h.Export)
		r.Get("/events", h.Events)
		r.Post("/sync", h.Sync)
	})
}

// Command runs one command envelope and answers with its update
func (h *APIHandler) Command(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		core.HandleError(w, core.NewValidationError("The request could not be read.", err))
		return
	}

	req, err := commands.DecodeRequest(raw)
	if err != nil {
		u := commands.ErrorUpdate(err)
		u.ID = req.ID
		writeUpdate(w, u)
		return
	}

	u, err := h.dispatcher.Submit(r.Context(), req)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to run command", "action", req.Command.Action(), "error", err)
		core.HandleError(w, err)
		return
	}
	writeUpdate(w, u)
}

// ListFollows returns every follow
func (h *APIHandler) ListFollows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"follows": h.store.Follows()})
}

// GetFollow returns one follow
func (h *APIHandler) GetFollow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, ok := h.store.Get(id)
	if !ok {
		core.HandleError(w, core.NewNotFoundError(fmt.Sprintf("No follow with id %s.", id), nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"follow": f})
}

// Export downloads the follows in the requested format
func (h *APIHandler) Export(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ExportTo(r.Context(), chi.URLParam(r, "format"))
	if err != nil {
		core.HandleError(w, err)
		return
	}
	w.Header().Set("Content-Type", out.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="follows.%s"`, out.Format))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Contents)
}

// Sync accepts sync items written by another client
func (h *APIHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&raw); err != nil {
		core.HandleError(w, core.NewValidationError("The sync items could not be read.", err))
		return
	}

	changed, err := h.store.OnSync(r.Context(), raw)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("Failed to apply sync items", "error", err)
		core.HandleError(w, err)
		return
	}
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func writeUpdate(w http.ResponseWriter, u commands.Update) {
	status := http.StatusOK
	if u.Op == commands.OpError {
		status = core.GetHTTPStatusCode(&core.AppError{Code: u.Code})
	}
	writeJSON(w, status, u)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

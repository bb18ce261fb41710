// Package commands is the request channel into the follow store. Every
// request is one variant of the closed Command type and is answered with an
// Update correlated by request id.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/models"

	"github.com/google/uuid"
)

// Action names accepted in a request envelope
const (
	ActionSetup         = "setup"
	ActionSave          = "save"
	ActionRemove        = "remove"
	ActionRename        = "rename"
	ActionSubscribe     = "subscribe"
	ActionImportFrom    = "importFrom"
	ActionExportTo      = "exportTo"
	ActionChangeSetting = "changeSetting"
	ActionLoadPosts     = "loadPosts"
)

// Command is a request to the follow store. Only the variants in this
// package implement it.
type Command interface {
	Action() string
	apply(ctx context.Context, h Handler) (Update, error)
}

// Handler executes each command variant
type Handler interface {
	Setup(ctx context.Context, c Setup) (Update, error)
	Save(ctx context.Context, c Save) (Update, error)
	Remove(ctx context.Context, c Remove) (Update, error)
	Rename(ctx context.Context, c Rename) (Update, error)
	Subscribe(ctx context.Context, c Subscribe) (Update, error)
	ImportFrom(ctx context.Context, c ImportFrom) (Update, error)
	ExportTo(ctx context.Context, c ExportTo) (Update, error)
	ChangeSetting(ctx context.Context, c ChangeSetting) (Update, error)
	LoadPosts(ctx context.Context, c LoadPosts) (Update, error)
}

// Setup asks for the whole follow list, the settings and the running fetches
type Setup struct{}

// Save adds or edits a follow
type Save struct {
	models.Follow
	// Force follows the address even when it can't be reached
	Force bool `json:"force,omitempty"`
}

// Remove unfollows one follow
type Remove struct {
	ID string `json:"id"`
}

// Rename moves every follow from one tag to another
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Subscribe follows the selected feeds of a discovered page
type Subscribe struct {
	models.FeedSelection
}

// ImportFrom merges follows from an exported document
type ImportFrom struct {
	Format   string `json:"format"`
	Contents string `json:"contents"`
}

// ExportTo renders the follows in a format
type ExportTo struct {
	Format string `json:"format"`
}

// ChangeSetting sets or toggles one setting
type ChangeSetting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LoadPosts asks for the full post history of a follow
type LoadPosts struct {
	ID string `json:"id"`
}

func (Setup) Action() string         { return ActionSetup }
func (Save) Action() string          { return ActionSave }
func (Remove) Action() string        { return ActionRemove }
func (Rename) Action() string        { return ActionRename }
func (Subscribe) Action() string     { return ActionSubscribe }
func (ImportFrom) Action() string    { return ActionImportFrom }
func (ExportTo) Action() string      { return ActionExportTo }
func (ChangeSetting) Action() string { return ActionChangeSetting }
func (LoadPosts) Action() string     { return ActionLoadPosts }

func (c Setup) apply(ctx context.Context, h Handler) (Update, error)  { return h.Setup(ctx, c) }
func (c Save) apply(ctx context.Context, h Handler) (Update, error)   { return h.Save(ctx, c) }
func (c Remove) apply(ctx context.Context, h Handler) (Update, error) { return h.Remove(ctx, c) }
func (c Rename) apply(ctx context.Context, h Handler) (Update, error) { return h.Rename(ctx, c) }
func (c Subscribe) apply(ctx context.Context, h Handler) (Update, error) {
	return h.Subscribe(ctx, c)
}
func (c ImportFrom) apply(ctx context.Context, h Handler) (Update, error) {
	return h.ImportFrom(ctx, c)
}
func (c ExportTo) apply(ctx context.Context, h Handler) (Update, error) { return h.ExportTo(ctx, c) }
func (c ChangeSetting) apply(ctx context.Context, h Handler) (Update, error) {
	return h.ChangeSetting(ctx, c)
}
func (c LoadPosts) apply(ctx context.Context, h Handler) (Update, error) {
	return h.LoadPosts(ctx, c)
}

// Request is a decoded command with its correlation id
type Request struct {
	ID      string
	Command Command
}

type envelope struct {
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// DecodeRequest parses a request envelope {id, action, data}. A missing id
// is filled in so every answer can be correlated.
func DecodeRequest(raw []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Request{}, core.NewValidationError("The request could not be read.", err)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	cmd, err := decodeCommand(strings.TrimSpace(env.Action), env.Data)
	if err != nil {
		return Request{ID: env.ID}, err
	}
	return Request{ID: env.ID, Command: cmd}, nil
}

func decodeCommand(action string, data json.RawMessage) (Command, error) {
	switch action {
	case ActionSetup:
		return Setup{}, nil
	case ActionSave:
		return decodeInto[Save](action, data)
	case ActionRemove:
		return decodeInto[Remove](action, data)
	case ActionRename:
		return decodeInto[Rename](action, data)
	case ActionSubscribe:
		return decodeInto[Subscribe](action, data)
	case ActionImportFrom:
		return decodeInto[ImportFrom](action, data)
	case ActionExportTo:
		return decodeInto[ExportTo](action, data)
	case ActionChangeSetting:
		return decodeInto[ChangeSetting](action, data)
	case ActionLoadPosts:
		return decodeInto[LoadPosts](action, data)
	default:
		return nil, core.NewValidationError(fmt.Sprintf("Unknown action %q.", action), nil)
	}
}

func decodeInto[T Command](action string, data json.RawMessage) (Command, error) {
	var c T
	if len(data) == 0 {
		return nil, core.NewValidationError(fmt.Sprintf("The %s request has no data.", action), nil)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("The %s request could not be read.", action), err)
	}
	return c, nil
}

package commands

import (
	"errors"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows/services"
)

// Update operations
const (
	OpReplace      = "replace"
	OpRemove       = "remove"
	OpSetup        = "setup"
	OpSubscription = "subscription"
	OpDiscovery    = "discovery"
	OpRenamed      = "renamed"
	OpImported     = "imported"
	OpExported     = "exported"
	OpPosts        = "posts"
	OpError        = "error"
)

// Update is an answer to a request or a broadcast change. Path names the
// part of the client state a replace or remove applies to.
type Update struct {
	ID       string `json:"id,omitempty"`
	Op       string `json:"op"`
	Path     string `json:"path,omitempty"`
	Value    any    `json:"value,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Override bool   `json:"override,omitempty"`
}

// ErrorUpdate turns err into the update shown to the user. Network failures
// carry the override flag so the client can offer to save anyway.
func ErrorUpdate(err error) Update {
	u := Update{Op: OpError, Message: core.UserMessage(err), Code: core.ErrCodeInternal}
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		u.Code = appErr.Code
		u.Override = appErr.OffersOverride()
	}
	return u
}

// EventUpdate converts a store event into the update broadcast to clients
func EventUpdate(e services.Event) Update {
	switch e.Kind {
	case services.EventFollow:
		return Update{Op: OpReplace, Path: "/all/" + e.Follow.ID, Value: e.Follow}
	case services.EventRemove:
		return Update{Op: OpRemove, Path: "/all/" + e.ID}
	case services.EventUpdating:
		return Update{Op: OpReplace, Path: "/updating", Value: e.Updating}
	default:
		return Update{Op: OpReplace, Path: "/settings", Value: e.Settings}
	}
}

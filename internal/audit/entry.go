package audit

import (
	"context"
	"time"
)

// Privileged actions recorded by the identity core.
const (
	ActionAdminLogin          = "admin_login"
	ActionAdminLoginFailed    = "admin_login_failed"
	ActionAdminLogout         = "admin_logout"
	ActionAdminPasswordChange = "admin_password_change"
	ActionAdminDeactivated    = "admin_deactivated"
	ActionAdminActivated      = "admin_activated"
)

// Resource types referenced by entries.
const (
	ResourceAdmin   = "admin"
	ResourceSession = "session"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           string
	ActorID      *int64
	Action       string
	ResourceType string
	ResourceID   *string
	Detail       map[string]any
	Origin       string
	RequestID    string
	OccurredAt   time.Time
}

// Store persists entries. Implementations must be append-only.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, e Entry) error

func (f StoreFunc) AppendAudit(ctx context.Context, e Entry) error { return f(ctx, e) }

// Actor returns a pointer suitable for Entry.ActorID.
func Actor(id int64) *int64 { return &id }

// Resource returns a pointer suitable for Entry.ResourceID.
func Resource(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Package store provides the session and organization repositories the
// audit enricher joins context from. Implementations must be thread-safe.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session or membership does not exist.
// The enricher treats it as missing context, not a failure.
var ErrNotFound = errors.New("store: not found")

// Session is one authenticated session row.
type Session struct {
	ID          string
	UserID      string
	SessionType string
	DeviceLabel string
}

// OrgMembership is the actor's organization and team membership.
type OrgMembership struct {
	OrgID    string
	OrgSlug  string
	OrgRole  string
	TeamID   string
	TeamRole string
}

// SessionStore looks up the active session for a user.
type SessionStore interface {
	// GetActiveSession returns the most recently used session for the
	// user, or ErrNotFound.
	GetActiveSession(ctx context.Context, userID string) (*Session, error)
}

// OrgStore looks up organization membership.
type OrgStore interface {
	// GetMembership returns the user's primary org/team membership, or
	// ErrNotFound.
	GetMembership(ctx context.Context, userID string) (*OrgMembership, error)
}

// Package session owns the viewer's session. The Guard is the only writer;
// everything else reads copies.
package session

import (
	"time"

	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
)

// Session is the authenticated viewer's credential, role and identity.
// An empty Token means unauthenticated.
type Session struct {
	Token                string      `json:"token"`
	Role                 schema.Role `json:"role"`
	Email                string      `json:"email"`
	RequirePasswordReset bool        `json:"require_password_reset"`
	CreatedAt            time.Time   `json:"created_at"`
	ExpiresAt            time.Time   `json:"expires_at,omitempty"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Expired reports whether the session has a known expiry that has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Viewer returns the identity used for record filtering.
func (s Session) Viewer() rbac.Viewer {
	return rbac.Viewer{Email: s.Email, Role: s.Role}
}

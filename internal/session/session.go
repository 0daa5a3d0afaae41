// internal/session/session.go
//
// Session, profile, and session-event types.
//
// Context
// -------
// A Session is the identity token the backend's auth layer issued for the
// current user.  The bootstrapper is its only writer; everything else reads
// a Snapshot.  Authorization flags are derived, never stored:
//
//   - IsSuperAdmin   – Profile.Role == admin, computed locally.
//   - IsTenantAdmin  – backend-computed, keyed by user id.
//
// Notes
// -----
//   - Snapshot is a value type so readers cannot mutate shared state.
//   - Oxford commas, two spaces after periods.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated identity.  A nil *Session means signed out.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      uuid.UUID `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// HasUser reports whether s carries a user identity.
func (s *Session) HasUser() bool { return s != nil && s.UserID != uuid.Nil }

// Role is a profile's site-wide role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile is the per-user record keyed by user id.
type Profile struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Role        Role      `db:"role"         json:"role"`
	DisplayName string    `db:"display_name" json:"display_name"`
}

// EventKind names a session-lifecycle notification.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed:
		return true
	}
	return false
}

// transition reports whether k changes who is signed in.
func (k EventKind) transition() bool {
	return k == EventSignedIn || k == EventSignedOut
}

// Event is one entry of the inbound session stream.
type Event struct {
	Kind    EventKind `json:"event"`
	Session *Session  `json:"session"`
}

// Snapshot is a read-only copy of the bootstrapper's state.
type Snapshot struct {
	Session       *Session
	Profile       *Profile
	IsSuperAdmin  bool
	IsTenantAdmin bool
}

// State is the bootstrapper's session-loading state.
type State int

const (
	StateUnstarted State = iota
	StateResolving
	StateReady
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateReady:
		return "ready"
	default:
		return "unstarted"
	}
}

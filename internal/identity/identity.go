// Package identity models the externally issued principal, its session, and
// the provider port this system consumes. The provider owns identities and
// sessions; this system only observes them.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity is the externally authenticated principal. Metadata is the opaque
// key/value bag supplied at registration (requested username, full name,
// role, phone).
type Identity struct {
	ID       uuid.UUID
	Email    string
	Metadata map[string]string
}

// Session is a time-bounded proof of authentication for one Identity. The
// provider refreshes tokens out-of-band; this system never mutates them.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     Identity
}

// Expired reports whether the access token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// EventKind tags an auth lifecycle notification from the provider.
type EventKind int

const (
	EventSignedIn EventKind = iota
	EventSignedOut
	EventTokenRefreshed
	EventUserUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed-in"
	case EventSignedOut:
		return "signed-out"
	case EventTokenRefreshed:
		return "token-refreshed"
	case EventUserUpdated:
		return "user-updated"
	default:
		return "unknown"
	}
}

// Event is a provider notification. Session is nil for signed-out.
type Event struct {
	Kind    EventKind
	Session *Session
}

// SignUpRequest carries the registration form. Metadata travels to the
// provider unmodified and comes back on the Identity.
type SignUpRequest struct {
	Email        string
	Password     string
	Metadata     map[string]string
	CaptchaToken string
}

// Provider is the port to the hosted auth service. All failures propagate as
// generic errors; classification happens in the lifecycle layer.
type Provider interface {
	// CurrentSession returns the existing session, or nil when there is
	// none. A nil session is not an error.
	CurrentSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (*Session, error)
	SignOut(ctx context.Context) error
	UpdateUser(ctx context.Context, fields map[string]string) (*Session, error)
	SendPasswordReset(ctx context.Context, email, redirectURL string) error
	// Subscribe registers fn for auth lifecycle events and returns an
	// unsubscribe function. Events are delivered sequentially.
	Subscribe(fn func(Event)) (unsubscribe func())
}

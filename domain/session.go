package domain

import "time"

// Identity is the authenticated principal behind a session.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an issued access token and the identity it belongs to.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenID     string    `json:"token_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Identity    Identity  `json:"user"`
}

// Expired reports whether the token lifetime has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

type AuthEventKind string

const (
	AuthInitialSession AuthEventKind = "initial_session"
	AuthSignedIn       AuthEventKind = "signed_in"
	AuthSignedOut      AuthEventKind = "signed_out"
	AuthTokenRefreshed AuthEventKind = "token_refreshed"
)

// AuthChange is pushed to session-change subscribers. Session is nil for
// AuthSignedOut.
type AuthChange struct {
	Kind    AuthEventKind
	Session *Session
}

package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("session: store already started")
	ErrClosed         = errors.New("session: store closed")
)

// AuthError is returned for rejected credentials or registrations. The
// session is left anonymous.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// SignOutError is returned when the remote sign-out fails. Local session
// state is unchanged.
type SignOutError struct {
	Err error
}

func (e *SignOutError) Error() string {
	return fmt.Sprintf("sign out failed: %v", e.Err)
}

func (e *SignOutError) Unwrap() error { return e.Err }

// ProfileFetchError is logged by the Resolver and never surfaced to callers.
type ProfileFetchError struct {
	UserID string
	Err    error
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("fetch profile for %s: %v", e.UserID, e.Err)
}

func (e *ProfileFetchError) Unwrap() error { return e.Err }

// Package session holds the single authenticated identity of the client.
//
// Provider is the boundary the rest of the application depends on; MockProvider
// stands in for a real identity service and keeps the identity in a kv.Store.
package session

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentialsFormat is returned when the email lacks an '@' or
	// the password is shorter than MinPasswordLength.
	ErrInvalidCredentialsFormat = errors.New("invalid credentials format")

	// ErrNoActiveSession is returned by UpdateProfile when nobody is signed in.
	ErrNoActiveSession = errors.New("no active session")
)

// MinPasswordLength is the shortest password accepted by sign-in and sign-up.
const MinPasswordLength = 6

// Identity is the authenticated user record.
type Identity struct {
	ID          string  `json:"uid"`
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	AvatarRef   *string `json:"photoURL"`
}

// Label is what a UI shows for the identity: display name, then email.
func (i *Identity) Label() string {
	if i == nil {
		return ""
	}
	if i.DisplayName != nil && *i.DisplayName != "" {
		return *i.DisplayName
	}
	if i.Email != nil {
		return *i.Email
	}
	return i.ID
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Email = clonePtr(i.Email)
	c.DisplayName = clonePtr(i.DisplayName)
	c.AvatarRef = clonePtr(i.AvatarRef)
	return &c
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ProfileUpdate names the identity fields to change; nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	AvatarRef   *string `json:"avatarRef,omitempty"`
}

// Listener receives the current identity (nil when signed out).
type Listener func(*Identity)

// Provider is the identity boundary. A real provider replaces MockProvider
// wholesale behind this interface.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignUp(ctx context.Context, email, password string, displayName *string) (*Identity, error)
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, fields ProfileUpdate) (*Identity, error)

	// Subscribe delivers the current identity immediately, then every change.
	Subscribe(fn Listener) (unsubscribe func())

	// Current returns a copy of the active identity, or nil.
	Current() *Identity
}

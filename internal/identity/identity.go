// Package identity carries the authenticated user into every core operation.
package identity

import (
	"context"

	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
)

// Identity is the authenticated caller. The zero value means no active session.
type Identity struct {
	UserID string
}

// Of returns the identity for userID.
func Of(userID string) Identity {
	return Identity{UserID: userID}
}

// Authenticated reports whether the identity names a user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// Require returns ErrNotAuthenticated for the zero identity.
func (i Identity) Require() error {
	if !i.Authenticated() {
		return apperrors.ErrNotAuthenticated
	}
	return nil
}

// Provider supplies the identity of the current session.
type Provider interface {
	Current(ctx context.Context) Identity
}

type contextKey struct{}

// NewContext returns ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or the zero identity.
func FromContext(ctx context.Context) Identity {
	if v, ok := ctx.Value(contextKey{}).(Identity); ok {
		return v
	}
	return Identity{}
}

// ContextProvider reads the identity placed in the request context by the auth middleware.
type ContextProvider struct{}

func (ContextProvider) Current(ctx context.Context) Identity {
	return FromContext(ctx)
}

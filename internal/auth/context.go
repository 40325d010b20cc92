// ABOUTME: Request identity for tracking the signed-in user through handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating the session via context

package auth

import (
	"context"

	"github.com/2389/larder/internal/store"
)

// Identity is the authenticated user and the session that proved it.
// It is populated by the session middleware and read by handlers.
type Identity struct {
	User    *store.User
	Session *store.Session
}

// UserID returns the authenticated user's id.
func (i *Identity) UserID() string {
	return i.User.ID
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}

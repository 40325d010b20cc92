// ABOUTME: Read-through LRU cache of users in front of a Store
// ABOUTME: Serves the per-request user lookup in the session middleware

package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedCredentialStore caches GetUser results. Credential lookups for
// login always go to the underlying store so counters are never stale;
// credential writes invalidate the owning user's entry.
type CachedCredentialStore struct {
	Store
	users *expirable.LRU[string, *User]
}

// NewCachedCredentialStore wraps inner with an LRU of up to size users that
// expire after ttl.
func NewCachedCredentialStore(inner Store, size int, ttl time.Duration) *CachedCredentialStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedCredentialStore{
		Store: inner,
		users: expirable.NewLRU[string, *User](size, nil, ttl),
	}
}

// GetUser returns the cached user or loads it from the underlying store.
func (c *CachedCredentialStore) GetUser(ctx context.Context, id string) (*User, error) {
	if u, ok := c.users.Get(id); ok {
		return copyUser(u), nil
	}

	u, err := c.Store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.users.Add(id, copyUser(u))
	return u, nil
}

// AddCredential writes through and drops the cached user.
func (c *CachedCredentialStore) AddCredential(ctx context.Context, userID string, cred *Credential) error {
	defer c.users.Remove(userID)
	return c.Store.AddCredential(ctx, userID, cred)
}

// UpdateCredentialCounter writes through and drops the cached user.
func (c *CachedCredentialStore) UpdateCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) error {
	defer c.users.Remove(userID)
	return c.Store.UpdateCredentialCounter(ctx, userID, credentialID, counter)
}

// AdvanceCredentialCounter writes through and drops the cached user.
func (c *CachedCredentialStore) AdvanceCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) (bool, error) {
	defer c.users.Remove(userID)
	return c.Store.AdvanceCredentialCounter(ctx, userID, credentialID, counter)
}

// Len returns the number of cached users.
func (c *CachedCredentialStore) Len() int {
	return c.users.Len()
}

// ABOUTME: Store interfaces and data types for larder persistence
// ABOUTME: Defines users, credentials, sessions, challenges, access grants and documents

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
// Expired sessions and consumed challenges also report ErrNotFound.
var ErrNotFound = errors.New("not found")

// ErrInvalidName is returned when a user name is empty after trimming
var ErrInvalidName = errors.New("name is required")

// ErrCredentialConflict is returned when a credential id is already bound to another user
var ErrCredentialConflict = errors.New("credential already registered to another user")

// ErrGrantExists is returned when an access grant already exists for a document
var ErrGrantExists = errors.New("access grant already exists")

// User is a person who signs in with one or more passkeys.
type User struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	Credentials []Credential // in attachment order
}

// Credential returns the user's credential with the given id, or nil.
func (u *User) Credential(id []byte) *Credential {
	for i := range u.Credentials {
		if string(u.Credentials[i].ID) == string(id) {
			return &u.Credentials[i]
		}
	}
	return nil
}

// Credential is a registered WebAuthn public key.
type Credential struct {
	ID              []byte // authenticator-supplied, globally unique
	UserID          string
	PublicKey       []byte
	AttestationType string
	Transports      []string
	SignCount       uint32
	CreatedAt       time.Time
}

// Session is an authenticated browser session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Challenge is the server half of an in-flight WebAuthn ceremony.
type Challenge struct {
	ID        string
	Challenge string // base64url challenge issued to the client
	Data      []byte // serialized ceremony state
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AccessGrant is the authorization record for one shared document.
type AccessGrant struct {
	DocumentID string
	OwnerID    string
	MemberIDs  []string
	CreatedAt  time.Time
}

// IsOwner reports whether userID owns the document.
func (g *AccessGrant) IsOwner(userID string) bool {
	return g.OwnerID == userID
}

// HasMember reports whether userID is recorded as a member.
func (g *AccessGrant) HasMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CanAccess reports whether userID is the owner or a member.
func (g *AccessGrant) CanAccess(userID string) bool {
	return g.IsOwner(userID) || g.HasMember(userID)
}

// Document is an inventory document as seen by the replication collaborator.
type Document struct {
	ID        string
	Name      string
	Items     map[string]Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a single inventory entry inside a Document.
type Item struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Quantity     int         `json:"quantity"`
	Notes        *string     `json:"notes"`
	LocationPath []string    `json:"locationPath"`
	Attributes   []Attribute `json:"attributes"`
}

// Attribute is a typed key/value pair on an Item.
type Attribute struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Type  string `json:"type"` // text, number, date, file
	Value string `json:"value"`
}

// CredentialStore persists users and their passkeys.
type CredentialStore interface {
	// CreateUser stores a new user. An empty ID is replaced with a fresh one.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	// AddCredential attaches cred to the user. Re-attaching a credential to
	// the same user is a no-op.
	AddCredential(ctx context.Context, userID string, cred *Credential) error
	FindUserByCredentialID(ctx context.Context, credentialID []byte) (*User, error)
	// UpdateCredentialCounter overwrites the stored counter without comparing.
	UpdateCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) error
	// AdvanceCredentialCounter stores counter only if it is strictly greater
	// than the stored value and reports whether it did. The compare and the
	// write are one atomic step, so processes sharing the store cannot both
	// accept the same counter.
	AdvanceCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) (bool, error)
}

// SessionStore issues and tracks sliding-expiry sessions.
type SessionStore interface {
	Create(ctx context.Context, userID string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Refresh(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// ChallengeStore holds single-use ceremony challenges.
type ChallengeStore interface {
	Issue(ctx context.Context, challenge *Challenge) error
	// Consume atomically returns and removes a challenge. Unknown, consumed
	// and expired ids all return ErrNotFound.
	Consume(ctx context.Context, id string) (*Challenge, error)
}

// AccessStore records document ownership and membership.
type AccessStore interface {
	CreateGrant(ctx context.Context, documentID, ownerID string) (*AccessGrant, error)
	GetGrant(ctx context.Context, documentID string) (*AccessGrant, error)
	IsOwner(ctx context.Context, userID, documentID string) (bool, error)
	CanAccess(ctx context.Context, userID, documentID string) (bool, error)
	// AddMember returns false when the document has no grant.
	AddMember(ctx context.Context, documentID, userID string) (bool, error)
	// RemoveMember returns false when the grant or the membership is absent.
	RemoveMember(ctx context.Context, documentID, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*AccessGrant, error)
	// DeleteGrant returns false when the document has no grant.
	DeleteGrant(ctx context.Context, documentID string) (bool, error)
}

// DocumentRepo is the document replication collaborator.
type DocumentRepo interface {
	CreateDocument(ctx context.Context, name string) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	// MutateDocument applies fn to the current document and persists the
	// result. An error from fn aborts the change.
	MutateDocument(ctx context.Context, id string, fn func(doc *Document) error) error
}

// Store is the durable side of larder: everything that must survive a restart.
type Store interface {
	CredentialStore
	AccessStore
	DocumentRepo

	Ping(ctx context.Context) error
	Close() error
}

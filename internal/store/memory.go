// ABOUTME: In-memory Store implementation for tests and single-process dev runs
// ABOUTME: Keeps credential and per-user document indexes consistent with the primary maps

package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation.
// All maps are guarded by one mutex so a grant and its derived indexes
// always change together.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*User               // keyed by user ID
	byCredential map[string]string              // keyed by raw credential ID -> user ID
	grants       map[string]*AccessGrant        // keyed by document ID
	byUser       map[string]map[string]struct{} // keyed by user ID -> document IDs owned or joined
	documents    map[string]*Document           // keyed by document ID
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*User),
		byCredential: make(map[string]string),
		grants:       make(map[string]*AccessGrant),
		byUser:       make(map[string]map[string]struct{}),
		documents:    make(map[string]*Document),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// CreateUser stores a new user.
func (m *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	if err := prepareUser(user); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u := copyUser(user)
	m.users[u.ID] = u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// AddCredential attaches a credential to a user.
func (m *MemoryStore) AddCredential(ctx context.Context, userID string, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}

	key := string(cred.ID)
	if owner, bound := m.byCredential[key]; bound {
		if owner == userID {
			return nil
		}
		return ErrCredentialConflict
	}

	c := copyCredential(*cred)
	c.UserID = userID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	u.Credentials = append(u.Credentials, c)
	m.byCredential[key] = userID

	cred.UserID = c.UserID
	cred.CreatedAt = c.CreatedAt
	return nil
}

// FindUserByCredentialID resolves a credential ID to its owner.
func (m *MemoryStore) FindUserByCredentialID(ctx context.Context, credentialID []byte) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userID, ok := m.byCredential[string(credentialID)]
	if !ok {
		return nil, ErrNotFound
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// UpdateCredentialCounter overwrites a credential's stored counter.
func (m *MemoryStore) UpdateCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	c := u.Credential(credentialID)
	if c == nil {
		return ErrNotFound
	}
	c.SignCount = counter
	return nil
}

// AdvanceCredentialCounter stores counter if it is above the stored one.
func (m *MemoryStore) AdvanceCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	c := u.Credential(credentialID)
	if c == nil {
		return false, ErrNotFound
	}
	if counter <= c.SignCount {
		return false, nil
	}
	c.SignCount = counter
	return true, nil
}

// CreateGrant records ownerID as the owner of documentID.
func (m *MemoryStore) CreateGrant(ctx context.Context, documentID, ownerID string) (*AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.grants[documentID]; exists {
		return nil, ErrGrantExists
	}

	g := &AccessGrant{
		DocumentID: documentID,
		OwnerID:    ownerID,
		CreatedAt:  time.Now(),
	}
	m.grants[documentID] = g
	m.indexLocked(ownerID, documentID)

	return copyGrant(g), nil
}

// GetGrant retrieves the grant for a document.
func (m *MemoryStore) GetGrant(ctx context.Context, documentID string) (*AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.grants[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

// IsOwner reports whether userID owns documentID.
func (m *MemoryStore) IsOwner(ctx context.Context, userID, documentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.grants[documentID]
	return ok && g.IsOwner(userID), nil
}

// CanAccess reports whether userID owns or is a member of documentID.
func (m *MemoryStore) CanAccess(ctx context.Context, userID, documentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.grants[documentID]
	return ok && g.CanAccess(userID), nil
}

// AddMember adds userID to the members of documentID.
func (m *MemoryStore) AddMember(ctx context.Context, documentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[documentID]
	if !ok {
		return false, nil
	}
	if !g.HasMember(userID) {
		g.MemberIDs = append(g.MemberIDs, userID)
	}
	m.indexLocked(userID, documentID)
	return true, nil
}

// RemoveMember removes userID from the members of documentID.
// The owner keeps access even if they were also recorded as a member.
func (m *MemoryStore) RemoveMember(ctx context.Context, documentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[documentID]
	if !ok || !g.HasMember(userID) {
		return false, nil
	}

	members := g.MemberIDs[:0]
	for _, id := range g.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	g.MemberIDs = members

	if !g.IsOwner(userID) {
		m.unindexLocked(userID, documentID)
	}
	return true, nil
}

// ListForUser returns every grant where userID is owner or member, oldest first.
func (m *MemoryStore) ListForUser(ctx context.Context, userID string) ([]*AccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.byUser[userID]
	grants := make([]*AccessGrant, 0, len(docs))
	for docID := range docs {
		if g, ok := m.grants[docID]; ok {
			grants = append(grants, copyGrant(g))
		}
	}
	sortGrants(grants)
	return grants, nil
}

// DeleteGrant removes a grant and scrubs it from every user's index.
func (m *MemoryStore) DeleteGrant(ctx context.Context, documentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[documentID]
	if !ok {
		return false, nil
	}

	m.unindexLocked(g.OwnerID, documentID)
	for _, id := range g.MemberIDs {
		m.unindexLocked(id, documentID)
	}
	delete(m.grants, documentID)
	return true, nil
}

// CreateDocument mints a new empty document.
func (m *MemoryStore) CreateDocument(ctx context.Context, name string) (*Document, error) {
	now := time.Now()
	doc := &Document{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Items:     map[string]Item{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.documents[doc.ID] = doc
	m.mu.Unlock()

	return copyDocument(doc), nil
}

// GetDocument retrieves a document snapshot.
func (m *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

// MutateDocument applies fn to a copy of the document and stores the
// result only if fn succeeds.
func (m *MemoryStore) MutateDocument(ctx context.Context, id string, fn func(doc *Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[id]
	if !ok {
		return ErrNotFound
	}

	working := copyDocument(doc)
	if err := fn(working); err != nil {
		return err
	}
	working.ID = id
	working.UpdatedAt = time.Now()
	if working.Items == nil {
		working.Items = map[string]Item{}
	}
	m.documents[id] = working
	return nil
}

func (m *MemoryStore) indexLocked(userID, documentID string) {
	docs, ok := m.byUser[userID]
	if !ok {
		docs = make(map[string]struct{})
		m.byUser[userID] = docs
	}
	docs[documentID] = struct{}{}
}

func (m *MemoryStore) unindexLocked(userID, documentID string) {
	docs, ok := m.byUser[userID]
	if !ok {
		return
	}
	delete(docs, documentID)
	if len(docs) == 0 {
		delete(m.byUser, userID)
	}
}

func copyUser(u *User) *User {
	out := *u
	out.Credentials = nil
	for _, c := range u.Credentials {
		out.Credentials = append(out.Credentials, copyCredential(c))
	}
	return &out
}

func copyCredential(c Credential) Credential {
	out := c
	out.ID = append([]byte(nil), c.ID...)
	out.PublicKey = append([]byte(nil), c.PublicKey...)
	out.Transports = append([]string(nil), c.Transports...)
	return out
}

func copyGrant(g *AccessGrant) *AccessGrant {
	out := *g
	out.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &out
}

func copyDocument(d *Document) *Document {
	out := *d
	out.Items = make(map[string]Item, len(d.Items))
	for k, item := range d.Items {
		item.LocationPath = append([]string(nil), item.LocationPath...)
		item.Attributes = append([]Attribute(nil), item.Attributes...)
		if item.Notes != nil {
			notes := *item.Notes
			item.Notes = &notes
		}
		out.Items[k] = item
	}
	return &out
}

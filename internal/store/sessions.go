// ABOUTME: In-memory session store with sliding expiration
// ABOUTME: Expired sessions are evicted lazily on read and by a background sweep

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSessionWindow is how long a session lives without activity.
const DefaultSessionWindow = 7 * 24 * time.Hour

// sweepInterval is how often background sweeps evict expired records.
const sweepInterval = time.Minute

// MemorySessionStore keeps sessions in process memory.
// Sessions do not survive a restart; users sign in again.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	window   time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// Ensure MemorySessionStore implements SessionStore.
var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates a session store with the given sliding
// window and starts its sweep goroutine. A zero window uses DefaultSessionWindow.
func NewMemorySessionStore(window time.Duration) *MemorySessionStore {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &MemorySessionStore{
		sessions: make(map[string]*Session),
		window:   window,
		now:      time.Now,
		cancel:   cancel,
		logger:   slog.Default().With("component", "sessions"),
	}
	go s.cleanupLoop(ctx)
	return s
}

// Window returns the sliding expiration window.
func (s *MemorySessionStore) Window() time.Duration { return s.window }

// Close stops the sweep goroutine.
func (s *MemorySessionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Create issues a new session for userID.
func (s *MemorySessionStore) Create(ctx context.Context, userID string) (*Session, error) {
	id, err := NewToken(SessionTokenBytes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.window),
	}
	s.sessions[id] = sess

	out := *sess
	return &out, nil
}

// Get returns a live session. An expired session is evicted and reported as ErrNotFound.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(id)
	if err != nil {
		return nil, err
	}
	out := *sess
	return &out, nil
}

// Refresh pushes a live session's expiry to now + window.
func (s *MemorySessionStore) Refresh(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.liveLocked(id)
	if err != nil {
		return nil, err
	}
	if next := s.now().Add(s.window); next.After(sess.ExpiresAt) {
		sess.ExpiresAt = next
	}
	out := *sess
	return &out, nil
}

// Delete revokes a session. Deleting an absent session is not an error.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemorySessionStore) liveLocked(id string) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.logger.Debug("evicted expired sessions", "count", n)
			}
		}
	}
}

// sweep deletes every expired session and returns how many were removed.
func (s *MemorySessionStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

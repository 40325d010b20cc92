// ABOUTME: In-memory single-use challenge store for WebAuthn ceremonies
// ABOUTME: Consume is an atomic get-and-delete; expiry is checked on consume and swept in the background

package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultChallengeTTL bounds how long a ceremony may take.
const DefaultChallengeTTL = 5 * time.Minute

// ErrChallengeExists is returned when issuing under an id that is already live.
var ErrChallengeExists = errors.New("challenge id already issued")

// MemoryChallengeStore keeps ceremony challenges in process memory.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	ttl        time.Duration
	now        func() time.Time
	cancel     context.CancelFunc
	logger     *slog.Logger
}

// Ensure MemoryChallengeStore implements ChallengeStore.
var _ ChallengeStore = (*MemoryChallengeStore)(nil)

// NewMemoryChallengeStore creates a challenge store and starts its sweep
// goroutine. A zero ttl uses DefaultChallengeTTL.
func NewMemoryChallengeStore(ttl time.Duration) *MemoryChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
		ttl:        ttl,
		now:        time.Now,
		cancel:     cancel,
		logger:     slog.Default().With("component", "challenges"),
	}
	go s.cleanupLoop(ctx)
	return s
}

// Close stops the sweep goroutine.
func (s *MemoryChallengeStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Issue stores a challenge under its ID. CreatedAt and ExpiresAt are set here.
func (s *MemoryChallengeStore) Issue(ctx context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.challenges[ch.ID]; ok && now.Before(existing.ExpiresAt) {
		return ErrChallengeExists
	}

	ch.CreatedAt = now
	ch.ExpiresAt = now.Add(s.ttl)

	stored := *ch
	stored.Data = append([]byte(nil), ch.Data...)
	s.challenges[ch.ID] = &stored
	return nil
}

// Consume removes and returns a challenge. Never-issued, consumed and
// expired ids are indistinguishable.
func (s *MemoryChallengeStore) Consume(ctx context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.challenges, id)

	if !s.now().Before(ch.ExpiresAt) {
		return nil, ErrNotFound
	}
	return ch, nil
}

// Len returns the number of stored challenges, expired or not.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

func (s *MemoryChallengeStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(); n > 0 {
				s.logger.Debug("evicted expired challenges", "count", n)
			}
		}
	}
}

func (s *MemoryChallengeStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, ch := range s.challenges {
		if !now.Before(ch.ExpiresAt) {
			delete(s.challenges, id)
			n++
		}
	}
	return n
}

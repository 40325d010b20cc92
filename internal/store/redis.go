// ABOUTME: Redis-backed session and challenge stores for multi-process deployments
// ABOUTME: Relies on Redis key TTLs for expiry, GETDEL for single-use consume and SET XX for refresh

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix   = "larder:session:"
	challengeKeyPrefix = "larder:challenge:"
)

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisSessionStore keeps sessions in Redis so every server process sees them.
type RedisSessionStore struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Ensure RedisSessionStore implements SessionStore.
var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore wraps client. A zero window uses DefaultSessionWindow.
func NewRedisSessionStore(client *redis.Client, window time.Duration) *RedisSessionStore {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return &RedisSessionStore{
		client: client,
		window: window,
		now:    time.Now,
		logger: slog.Default().With("component", "sessions", "backend", "redis"),
	}
}

// Window returns the sliding expiration window.
func (s *RedisSessionStore) Window() time.Duration { return s.window }

// Create issues a new session for userID.
func (s *RedisSessionStore) Create(ctx context.Context, userID string) (*Session, error) {
	id, err := NewToken(SessionTokenBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.window),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+id, data, s.window).Err(); err != nil {
		return nil, fmt.Errorf("redis set failed: %w", err)
	}
	return sess, nil
}

// Get returns a live session.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, id)
}

// Refresh pushes a live session's expiry forward. SET XX keeps a refresh
// from resurrecting a session deleted concurrently.
func (s *RedisSessionStore) Refresh(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if next := s.now().Add(s.window); next.After(sess.ExpiresAt) {
		sess.ExpiresAt = next
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, sessionKeyPrefix+id, data, s.window).Result()
	if err != nil {
		return nil, fmt.Errorf("redis set failed: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete revokes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) load(ctx context.Context, id string) (*Session, error) {
	key := sessionKeyPrefix + id

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.client.Del(ctx, key)
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if !s.now().Before(sess.ExpiresAt) {
		s.client.Del(ctx, key)
		return nil, ErrNotFound
	}
	return &sess, nil
}

// RedisChallengeStore keeps ceremony challenges in Redis so a ceremony can
// start on one server process and finish on another.
type RedisChallengeStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// Ensure RedisChallengeStore implements ChallengeStore.
var _ ChallengeStore = (*RedisChallengeStore)(nil)

// NewRedisChallengeStore wraps client. A zero ttl uses DefaultChallengeTTL.
func NewRedisChallengeStore(client *redis.Client, ttl time.Duration) *RedisChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &RedisChallengeStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue stores a challenge with the store's TTL.
func (s *RedisChallengeStore) Issue(ctx context.Context, ch *Challenge) error {
	now := s.now()
	ch.CreatedAt = now
	ch.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encoding challenge: %w", err)
	}

	ok, err := s.client.SetNX(ctx, challengeKeyPrefix+ch.ID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if !ok {
		return ErrChallengeExists
	}
	return nil
}

// Consume atomically fetches and deletes a challenge.
func (s *RedisChallengeStore) Consume(ctx context.Context, id string) (*Challenge, error) {
	data, err := s.client.GetDel(ctx, challengeKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}

	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("decoding challenge: %w", err)
	}
	if !s.now().Before(ch.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &ch, nil
}

// ABOUTME: Tests for the Redis session and challenge stores against miniredis
// ABOUTME: Covers TTL expiry, GETDEL single-use semantics and refresh-after-delete

package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisTest starts miniredis and returns a connected client.
func setupRedisTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Failed to create Redis client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestRedisSessionStore_Lifecycle(t *testing.T) {
	client, mr := setupRedisTest(t)
	ctx := context.Background()

	s := NewRedisSessionStore(client, time.Hour)
	clock := newFakeClock()
	s.now = clock.Now

	sess, err := s.Create(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", sess.UserID)
	assert.True(t, mr.Exists(sessionKeyPrefix+sess.ID))
	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+sess.ID))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))

	clock.Advance(30 * time.Minute)
	mr.FastForward(30 * time.Minute)

	refreshed, err := s.Refresh(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.ExpiresAt.After(sess.ExpiresAt))
	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+sess.ID), "refresh resets the key TTL")

	require.NoError(t, s.Delete(ctx, sess.ID))
	require.NoError(t, s.Delete(ctx, sess.ID))

	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Refresh(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID), "refresh never resurrects a deleted session")
}

func TestRedisSessionStore_ExpiresWithTTL(t *testing.T) {
	client, mr := setupRedisTest(t)
	ctx := context.Background()

	s := NewRedisSessionStore(client, time.Minute)
	sess, err := s.Create(ctx, "ada")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisSessionStore_ExpiredRecordIsEvicted(t *testing.T) {
	client, mr := setupRedisTest(t)
	ctx := context.Background()

	s := NewRedisSessionStore(client, time.Hour)
	clock := newFakeClock()
	s.now = clock.Now

	sess, err := s.Create(ctx, "ada")
	require.NoError(t, err)

	// Application clock passes expiry before Redis evicts the key.
	clock.Advance(2 * time.Hour)
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID))
}

func TestRedisSessionStore_CorruptRecord(t *testing.T) {
	client, mr := setupRedisTest(t)
	ctx := context.Background()
	s := NewRedisSessionStore(client, time.Hour)

	require.NoError(t, mr.Set(sessionKeyPrefix+"bad", "{not json"))
	_, err := s.Get(ctx, "bad")
	assert.Error(t, err)
	assert.False(t, mr.Exists(sessionKeyPrefix+"bad"), "corrupt data is deleted")
}

func TestRedisChallengeStore_SingleUse(t *testing.T) {
	client, mr := setupRedisTest(t)
	ctx := context.Background()
	s := NewRedisChallengeStore(client, 0)

	require.NoError(t, s.Issue(ctx, &Challenge{ID: "eph-1", Challenge: "abc", Data: []byte("state")}))
	assert.Equal(t, DefaultChallengeTTL, mr.TTL(challengeKeyPrefix+"eph-1"))

	assert.ErrorIs(t, s.Issue(ctx, &Challenge{ID: "eph-1", Challenge: "xyz"}), ErrChallengeExists)

	got, err := s.Consume(ctx, "eph-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Challenge)
	assert.Equal(t, []byte("state"), got.Data)

	_, err = s.Consume(ctx, "eph-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Consume(ctx, "never")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisChallengeStore_TTLExpiry(t *testing.T) {
	client, mr := setupRedisTest(t)
	ctx := context.Background()
	s := NewRedisChallengeStore(client, time.Minute)

	require.NoError(t, s.Issue(ctx, &Challenge{ID: "eph-1", Challenge: "abc"}))
	mr.FastForward(61 * time.Second)

	_, err := s.Consume(ctx, "eph-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisChallengeStore_ConcurrentConsumeSingleWinner(t *testing.T) {
	client, _ := setupRedisTest(t)
	ctx := context.Background()
	s := NewRedisChallengeStore(client, time.Minute)
	require.NoError(t, s.Issue(ctx, &Challenge{ID: "eph", Challenge: "abc"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, "eph"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

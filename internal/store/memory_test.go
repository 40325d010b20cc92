// ABOUTME: Tests for MemoryStore internals
// ABOUTME: Verifies the per-user document index never diverges from the grant records

package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertIndexConsistent rebuilds the per-user index from the grants and
// compares it with the maintained one.
func assertIndexConsistent(t *testing.T, m *MemoryStore) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[string]map[string]struct{})
	add := func(user, doc string) {
		if want[user] == nil {
			want[user] = make(map[string]struct{})
		}
		want[user][doc] = struct{}{}
	}
	for docID, g := range m.grants {
		add(g.OwnerID, docID)
		for _, id := range g.MemberIDs {
			add(id, docID)
		}
	}
	assert.Equal(t, want, m.byUser)
}

func TestMemoryStore_IndexMatchesGrantsUnderRandomOps(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	users := []string{"ada", "grace", "linus", "barbara"}
	docs := []string{"d1", "d2", "d3"}

	for i := 0; i < 2000; i++ {
		doc := docs[rng.Intn(len(docs))]
		user := users[rng.Intn(len(users))]

		switch rng.Intn(4) {
		case 0:
			_, err := m.CreateGrant(ctx, doc, user)
			if err != nil {
				require.ErrorIs(t, err, ErrGrantExists)
			}
		case 1:
			_, err := m.AddMember(ctx, doc, user)
			require.NoError(t, err)
		case 2:
			_, err := m.RemoveMember(ctx, doc, user)
			require.NoError(t, err)
		case 3:
			_, err := m.DeleteGrant(ctx, doc)
			require.NoError(t, err)
		}

		assertIndexConsistent(t, m)
		if t.Failed() {
			t.Fatalf("index diverged after op %d", i)
		}
	}
}

func TestMemoryStore_ListForUserAgreesWithCanAccess(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, _ = m.CreateGrant(ctx, "d1", "ada")
	_, _ = m.CreateGrant(ctx, "d2", "grace")
	_, _ = m.AddMember(ctx, "d2", "ada")
	_, _ = m.AddMember(ctx, "d1", "ada")
	_, _ = m.RemoveMember(ctx, "d1", "ada")

	for _, user := range []string{"ada", "grace"} {
		grants, err := m.ListForUser(ctx, user)
		require.NoError(t, err)
		listed := make(map[string]bool)
		for _, g := range grants {
			listed[g.DocumentID] = true
		}
		for _, doc := range []string{"d1", "d2"} {
			access, err := m.CanAccess(ctx, user, doc)
			require.NoError(t, err)
			assert.Equal(t, access, listed[doc], "user %s doc %s", user, doc)
		}
	}
}

func TestMemoryStore_ConcurrentMembership(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, err := m.CreateGrant(ctx, "doc", "owner")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%5)
			_, _ = m.AddMember(ctx, "doc", user)
			_, _ = m.AddMember(ctx, "doc", user)
		}(i)
	}
	wg.Wait()

	g, err := m.GetGrant(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, g.MemberIDs, 5, "each user recorded once")
	assertIndexConsistent(t, m)
}

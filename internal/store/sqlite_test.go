// ABOUTME: Tests for SQLite-specific behaviour of the store
// ABOUTME: Covers file creation, durability across reopen and cascade deletes

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	u := &User{Name: "Ada"}
	require.NoError(t, store.CreateUser(context.Background(), u))
	_, err = store.GetUser(context.Background(), u.ID)
	assert.NoError(t, err)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "larder.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	ada := &User{Name: "Ada"}
	require.NoError(t, first.CreateUser(ctx, ada))
	require.NoError(t, first.AddCredential(ctx, ada.ID, &Credential{ID: []byte("c"), PublicKey: []byte("k"), SignCount: 7}))
	doc, err := first.CreateDocument(ctx, "My Inventory")
	require.NoError(t, err)
	_, err = first.CreateGrant(ctx, doc.ID, ada.ID)
	require.NoError(t, err)
	_, err = first.AddMember(ctx, doc.ID, "grace")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	owner, err := second.FindUserByCredentialID(ctx, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, ada.ID, owner.ID)
	assert.Equal(t, uint32(7), owner.Credential([]byte("c")).SignCount)

	g, err := second.GetGrant(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, g.OwnerID)
	assert.Equal(t, []string{"grace"}, g.MemberIDs)

	got, err := second.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Inventory", got.Name)
}

func TestSQLiteStore_DeleteGrantCascadesMembers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateGrant(ctx, "doc-1", "ada")
	require.NoError(t, err)
	_, err = store.AddMember(ctx, "doc-1", "grace")
	require.NoError(t, err)

	_, err = store.DeleteGrant(ctx, "doc-1")
	require.NoError(t, err)

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM grant_members`).Scan(&n))
	assert.Zero(t, n, "memberships are removed with the grant")

	// Recreating the grant does not resurrect old members.
	_, err = store.CreateGrant(ctx, "doc-1", "ada")
	require.NoError(t, err)
	access, err := store.CanAccess(ctx, "grace", "doc-1")
	require.NoError(t, err)
	assert.False(t, access)
}

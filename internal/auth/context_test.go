// ABOUTME: Unit tests for request identity context helpers
// ABOUTME: Tests WithIdentity, FromContext and MustFromContext

package auth

import (
	"context"
	"testing"

	"github.com/2389/larder/internal/store"
)

func TestFromContext_RoundTrip(t *testing.T) {
	id := &Identity{
		User:    &store.User{ID: "user-1", Name: "Ada"},
		Session: &store.Session{ID: "sess-1", UserID: "user-1"},
	}
	ctx := WithIdentity(context.Background(), id)

	got := FromContext(ctx)
	if got != id {
		t.Fatalf("FromContext() = %v, want %v", got, id)
	}
	if got.UserID() != "user-1" {
		t.Errorf("UserID() = %q, want %q", got.UserID(), "user-1")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}

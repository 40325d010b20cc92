// ABOUTME: Tests for the go-webauthn backed collaborator
// ABOUTME: Covers relying party derivation, ceremony state and rejection of malformed responses

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/larder/internal/store"
)

func TestDeriveWebAuthnConfig(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		wantRPID    string
		wantOrigins []string
	}{
		{"empty", "", "localhost", []string{"http://localhost", "https://localhost"}},
		{"invalid", "://nope", "localhost", []string{"http://localhost", "https://localhost"}},
		{"no host", "/just/a/path", "localhost", []string{"http://localhost", "https://localhost"}},
		{"production", "https://larder.example.com", "larder.example.com", []string{"https://larder.example.com"}},
		{"with port", "https://larder.example.com:8443/app", "larder.example.com", []string{"https://larder.example.com:8443"}},
		{"localhost http", "http://localhost:5173", "localhost", []string{"http://localhost:5173", "https://localhost:5173"}},
		{"localhost https", "https://localhost:8080", "localhost", []string{"https://localhost:8080", "http://localhost:8080"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpID, origins := deriveWebAuthnConfig(tt.baseURL)
			assert.Equal(t, tt.wantRPID, rpID)
			assert.Equal(t, tt.wantOrigins, origins)
		})
	}
}

func newTestWebAuthn(t *testing.T) WebAuthn {
	t.Helper()
	wa, err := NewWebAuthn(WebAuthnConfig{BaseURL: "https://larder.example.com"})
	require.NoError(t, err)
	return wa
}

func TestBeginRegistration_StateCarriesChallengeAndHandle(t *testing.T) {
	wa := newTestWebAuthn(t)

	c, err := wa.BeginRegistration(context.Background(), "user-handle-1", "Ada")
	require.NoError(t, err)
	require.NotEmpty(t, c.Challenge)

	var session webauthn.SessionData
	require.NoError(t, json.Unmarshal(c.State, &session))
	assert.Equal(t, c.Challenge, session.Challenge)
	assert.Equal(t, []byte("user-handle-1"), session.UserID)

	opts, ok := c.Options.(*protocol.CredentialCreation)
	require.True(t, ok, "options type %T", c.Options)
	assert.Equal(t, "larder.example.com", opts.Response.RelyingParty.ID)
	assert.Equal(t, "Inventory App", opts.Response.RelyingParty.Name)
	assert.Equal(t, protocol.PreferNoAttestation, opts.Response.Attestation)
}

func TestBeginLogin_IsDiscoverable(t *testing.T) {
	wa := newTestWebAuthn(t)

	c, err := wa.BeginLogin(context.Background())
	require.NoError(t, err)

	opts, ok := c.Options.(*protocol.CredentialAssertion)
	require.True(t, ok, "options type %T", c.Options)
	assert.Empty(t, opts.Response.AllowedCredentials)

	c2, err := wa.BeginLogin(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, c.Challenge, c2.Challenge, "challenges are fresh")
}

func TestGoWebAuthn_MalformedResponsesFailVerification(t *testing.T) {
	wa := newTestWebAuthn(t)
	ctx := context.Background()
	garbage := []byte(`{"id":"x","type":"public-key"}`)

	reg, err := wa.BeginRegistration(ctx, "user-1", "Ada")
	require.NoError(t, err)
	_, err = wa.FinishRegistration(ctx, "user-1", "Ada", reg.State, garbage)
	assert.ErrorIs(t, err, ErrVerification)

	_, err = wa.AssertedCredentialID([]byte("not json"))
	assert.ErrorIs(t, err, ErrVerification)

	login, err := wa.BeginLogin(ctx)
	require.NoError(t, err)
	user := &store.User{ID: "user-1", Name: "Ada"}
	_, err = wa.FinishLogin(ctx, user, login.State, garbage)
	assert.ErrorIs(t, err, ErrVerification)
}

func TestGoWebAuthn_CorruptStateIsNotVerificationFailure(t *testing.T) {
	wa := newTestWebAuthn(t)

	_, err := wa.FinishRegistration(context.Background(), "user-1", "Ada", []byte("{broken"), []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVerification)
}

func TestRunBounded(t *testing.T) {
	t.Run("returns result", func(t *testing.T) {
		v, err := runBounded(context.Background(), func() (int, error) { return 7, nil })
		assert.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("returns error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := runBounded(context.Background(), func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("gives up at deadline", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := runBounded(ctx, func() (int, error) {
			<-release
			return 1, nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

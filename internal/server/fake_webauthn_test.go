// ABOUTME: Deterministic WebAuthn collaborator for HTTP tests
// ABOUTME: Authenticator responses are JSON naming the credential, challenge and counter

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/2389/larder/internal/auth"
	"github.com/2389/larder/internal/store"
)

type fakeAssertion struct {
	CredentialID []byte `json:"credentialId"`
	Challenge    string `json:"challenge"`
	Counter      uint32 `json:"counter"`
	Tampered     bool   `json:"tampered,omitempty"`
}

type fakeWebAuthn struct {
	mu  sync.Mutex
	seq int
}

func (f *fakeWebAuthn) begin() *auth.Ceremony {
	f.mu.Lock()
	f.seq++
	ch := fmt.Sprintf("challenge-%d", f.seq)
	f.mu.Unlock()
	return &auth.Ceremony{
		Options:   map[string]string{"challenge": ch},
		Challenge: ch,
		State:     []byte(ch),
	}
}

func (f *fakeWebAuthn) check(state, response []byte) (*fakeAssertion, error) {
	var a fakeAssertion
	if err := json.Unmarshal(response, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrVerification, err)
	}
	if a.Tampered || a.Challenge != string(state) {
		return nil, fmt.Errorf("%w: bad signature", auth.ErrVerification)
	}
	return &a, nil
}

func (f *fakeWebAuthn) BeginRegistration(ctx context.Context, userID, name string) (*auth.Ceremony, error) {
	return f.begin(), nil
}

func (f *fakeWebAuthn) FinishRegistration(ctx context.Context, userID, name string, state, response []byte) (*store.Credential, error) {
	a, err := f.check(state, response)
	if err != nil {
		return nil, err
	}
	return &store.Credential{ID: a.CredentialID, PublicKey: []byte("pk"), AttestationType: "none", SignCount: a.Counter}, nil
}

func (f *fakeWebAuthn) BeginLogin(ctx context.Context) (*auth.Ceremony, error) {
	return f.begin(), nil
}

func (f *fakeWebAuthn) AssertedCredentialID(response []byte) ([]byte, error) {
	var a fakeAssertion
	if err := json.Unmarshal(response, &a); err != nil || len(a.CredentialID) == 0 {
		return nil, fmt.Errorf("%w: malformed assertion", auth.ErrVerification)
	}
	return a.CredentialID, nil
}

func (f *fakeWebAuthn) FinishLogin(ctx context.Context, user *store.User, state, response []byte) (uint32, error) {
	a, err := f.check(state, response)
	if err != nil {
		return 0, err
	}
	return a.Counter, nil
}

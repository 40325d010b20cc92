// ABOUTME: Deterministic WebAuthn collaborator for ceremony tests
// ABOUTME: Responses are small JSON documents naming the credential, challenge and counter

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/2389/larder/internal/store"
)

// fakeResponse is what a test "authenticator" sends back.
type fakeResponse struct {
	CredentialID []byte `json:"credentialId"`
	Challenge    string `json:"challenge"`
	Counter      uint32 `json:"counter"`
	Tampered     bool   `json:"tampered,omitempty"`
}

type fakeState struct {
	Challenge string `json:"challenge"`
	UserID    string `json:"userId,omitempty"`
}

// fakeWebAuthn verifies fakeResponses against the issued challenge.
type fakeWebAuthn struct {
	mu    sync.Mutex
	seq   int
	block chan struct{} // when non-nil, Finish* waits on it or on ctx
	fail  error         // when non-nil, Begin* returns it
}

func (f *fakeWebAuthn) nextChallenge() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("challenge-%d", f.seq)
}

func (f *fakeWebAuthn) begin(userID string) (*Ceremony, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	ch := f.nextChallenge()
	state, _ := json.Marshal(fakeState{Challenge: ch, UserID: userID})
	return &Ceremony{
		Options:   map[string]string{"challenge": ch},
		Challenge: ch,
		State:     state,
	}, nil
}

func (f *fakeWebAuthn) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeWebAuthn) verify(state, response []byte) (*fakeResponse, *fakeState, error) {
	var st fakeState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, nil, err
	}
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if resp.Tampered || resp.Challenge != st.Challenge {
		return nil, nil, fmt.Errorf("%w: signature mismatch", ErrVerification)
	}
	return &resp, &st, nil
}

func (f *fakeWebAuthn) BeginRegistration(ctx context.Context, userID, name string) (*Ceremony, error) {
	return f.begin(userID)
}

func (f *fakeWebAuthn) FinishRegistration(ctx context.Context, userID, name string, state, response []byte) (*store.Credential, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	resp, st, err := f.verify(state, response)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, fmt.Errorf("%w: user handle mismatch", ErrVerification)
	}
	return &store.Credential{
		ID:              resp.CredentialID,
		PublicKey:       append([]byte("pk-"), resp.CredentialID...),
		AttestationType: "none",
		Transports:      []string{"internal"},
		SignCount:       resp.Counter,
	}, nil
}

func (f *fakeWebAuthn) BeginLogin(ctx context.Context) (*Ceremony, error) {
	return f.begin("")
}

func (f *fakeWebAuthn) AssertedCredentialID(response []byte) ([]byte, error) {
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if len(resp.CredentialID) == 0 {
		return nil, fmt.Errorf("%w: missing credential id", ErrVerification)
	}
	return resp.CredentialID, nil
}

func (f *fakeWebAuthn) FinishLogin(ctx context.Context, user *store.User, state, response []byte) (uint32, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	resp, _, err := f.verify(state, response)
	if err != nil {
		return 0, err
	}
	if user.Credential(resp.CredentialID) == nil {
		return 0, errors.New("credential does not belong to user")
	}
	return resp.Counter, nil
}

// challengeOf extracts the challenge from options produced by fakeWebAuthn.
func challengeOf(t *testing.T, start *CeremonyStart) string {
	t.Helper()
	opts, ok := start.Options.(map[string]string)
	if !ok {
		t.Fatalf("unexpected options type %T", start.Options)
	}
	return opts["challenge"]
}

func responseFor(t *testing.T, credID, challenge string, counter uint32) []byte {
	t.Helper()
	b, err := json.Marshal(fakeResponse{CredentialID: []byte(credID), Challenge: challenge, Counter: counter})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

func tamperedResponseFor(t *testing.T, credID, challenge string, counter uint32) []byte {
	t.Helper()
	b, err := json.Marshal(fakeResponse{CredentialID: []byte(credID), Challenge: challenge, Counter: counter, Tampered: true})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

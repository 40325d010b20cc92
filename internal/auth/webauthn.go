// ABOUTME: WebAuthn collaborator interface and its go-webauthn implementation
// ABOUTME: Produces ceremony options and verifies attestations and assertions

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/larder/internal/store"
)

// Ceremony is what the collaborator returns when a ceremony starts.
type Ceremony struct {
	Options   any    // sent to the browser unchanged
	Challenge string // base64url challenge embedded in Options
	State     []byte // opaque; handed back to the matching Finish call
}

// WebAuthn generates ceremony options and verifies authenticator responses.
// Verification failures wrap ErrVerification; any other error is treated as
// an internal failure by the caller.
type WebAuthn interface {
	BeginRegistration(ctx context.Context, userID, name string) (*Ceremony, error)
	// FinishRegistration verifies an attestation and returns the new
	// credential. The credential's UserID is left empty.
	FinishRegistration(ctx context.Context, userID, name string, state, response []byte) (*store.Credential, error)

	BeginLogin(ctx context.Context) (*Ceremony, error)
	// AssertedCredentialID extracts the credential id from an assertion
	// without verifying it.
	AssertedCredentialID(response []byte) ([]byte, error)
	// FinishLogin verifies an assertion against user's stored credential and
	// returns the signature counter the authenticator reported.
	FinishLogin(ctx context.Context, user *store.User, state, response []byte) (uint32, error)
}

// WebAuthnConfig identifies the relying party.
type WebAuthnConfig struct {
	BaseURL string // public origin, e.g. https://larder.example.com
	RPName  string
	RPID    string // defaults to the BaseURL host
}

// goWebAuthn implements WebAuthn on github.com/go-webauthn/webauthn.
type goWebAuthn struct {
	wa *webauthn.WebAuthn
}

// NewWebAuthn creates the go-webauthn backed collaborator.
func NewWebAuthn(cfg WebAuthnConfig) (WebAuthn, error) {
	rpID, rpOrigins := deriveWebAuthnConfig(cfg.BaseURL)
	if cfg.RPID != "" {
		rpID = cfg.RPID
	}
	rpName := cfg.RPName
	if rpName == "" {
		rpName = "Inventory App"
	}

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpName,
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}
	return &goWebAuthn{wa: w}, nil
}

// deriveWebAuthnConfig extracts rpID and rpOrigins from a base URL.
// Returns localhost defaults if URL is empty or invalid.
func deriveWebAuthnConfig(baseURL string) (rpID string, rpOrigins []string) {
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Hostname() == "" {
		return rpID, rpOrigins
	}

	rpID = parsed.Hostname()
	origin := parsed.Scheme + "://" + parsed.Host
	rpOrigins = []string{origin}
	if parsed.Hostname() == "localhost" {
		// Dev servers are reached over either scheme.
		if parsed.Scheme == "https" {
			rpOrigins = append(rpOrigins, "http://"+parsed.Host)
		} else {
			rpOrigins = append(rpOrigins, "https://"+parsed.Host)
		}
	}
	return rpID, rpOrigins
}

// webAuthnUser adapts store.User to the webauthn.User interface.
type webAuthnUser struct {
	id    string
	name  string
	creds []store.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte          { return []byte(u.id) }
func (u *webAuthnUser) WebAuthnName() string        { return u.name }
func (u *webAuthnUser) WebAuthnDisplayName() string { return u.name }

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.ID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		for _, t := range c.Transports {
			creds[i].Transport = append(creds[i].Transport, protocol.AuthenticatorTransport(t))
		}
	}
	return creds
}

func (g *goWebAuthn) BeginRegistration(ctx context.Context, userID, name string) (*Ceremony, error) {
	user := &webAuthnUser{id: userID, name: name}

	return runBounded(ctx, func() (*Ceremony, error) {
		options, session, err := g.wa.BeginRegistration(user,
			webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
				ResidentKey:      protocol.ResidentKeyRequirementPreferred,
				UserVerification: protocol.VerificationPreferred,
			}),
			webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		)
		if err != nil {
			return nil, fmt.Errorf("begin registration: %w", err)
		}
		return newCeremony(options, session)
	})
}

func (g *goWebAuthn) FinishRegistration(ctx context.Context, userID, name string, state, response []byte) (*store.Credential, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("decoding ceremony state: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	user := &webAuthnUser{id: userID, name: name}
	return runBounded(ctx, func() (*store.Credential, error) {
		cred, err := g.wa.CreateCredential(user, session, parsed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerification, err)
		}

		out := &store.Credential{
			ID:              cred.ID,
			PublicKey:       cred.PublicKey,
			AttestationType: cred.AttestationType,
			SignCount:       cred.Authenticator.SignCount,
		}
		for _, t := range cred.Transport {
			out.Transports = append(out.Transports, string(t))
		}
		return out, nil
	})
}

func (g *goWebAuthn) BeginLogin(ctx context.Context) (*Ceremony, error) {
	return runBounded(ctx, func() (*Ceremony, error) {
		options, session, err := g.wa.BeginDiscoverableLogin(
			webauthn.WithUserVerification(protocol.VerificationPreferred),
		)
		if err != nil {
			return nil, fmt.Errorf("begin login: %w", err)
		}
		return newCeremony(options, session)
	})
}

func (g *goWebAuthn) AssertedCredentialID(response []byte) ([]byte, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	return parsed.RawID, nil
}

func (g *goWebAuthn) FinishLogin(ctx context.Context, user *store.User, state, response []byte) (uint32, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return 0, fmt.Errorf("decoding ceremony state: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	waUser := &webAuthnUser{id: user.ID, name: user.Name, creds: user.Credentials}
	finder := func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != user.ID {
			return nil, errors.New("user handle mismatch")
		}
		return waUser, nil
	}

	return runBounded(ctx, func() (uint32, error) {
		cred, err := g.wa.ValidateDiscoverableLogin(finder, session, parsed)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrVerification, err)
		}
		// The library only flags a non-advancing counter; the caller decides.
		return cred.Authenticator.SignCount, nil
	})
}

func newCeremony(options any, session *webauthn.SessionData) (*Ceremony, error) {
	state, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding ceremony state: %w", err)
	}
	return &Ceremony{
		Options:   options,
		Challenge: session.Challenge,
		State:     state,
	}, nil
}

// runBounded runs fn and returns early with ctx's error if ctx ends first.
// The library has no context support, so an abandoned fn finishes in the
// background and its result is dropped.
func runBounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

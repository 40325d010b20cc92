// ABOUTME: Ceremony orchestrator for passkey registration and login
// ABOUTME: Owns challenge issue/consume, counter anti-replay and session issuance

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/larder/internal/keylock"
	"github.com/2389/larder/internal/metrics"
	"github.com/2389/larder/internal/store"
)

// DefaultDocumentName names the inventory every new user starts with.
const DefaultDocumentName = "My Inventory"

// DefaultVerifyTimeout bounds each call into the WebAuthn collaborator.
const DefaultVerifyTimeout = 10 * time.Second

// ephemeralIDBytes is the entropy of a ceremony id.
const ephemeralIDBytes = 16

const (
	kindRegistration = "registration"
	kindLogin        = "login"
)

// ceremonyState is stored as Challenge.Data between start and finish.
type ceremonyState struct {
	Kind   string `json:"kind"`
	UserID string `json:"userId,omitempty"` // prospective user handle, registration only
	State  []byte `json:"state"`
}

// CeremonyStart is returned by StartRegistration and StartLogin.
type CeremonyStart struct {
	Options     any
	EphemeralID string
}

// Registration is the result of a completed registration.
type Registration struct {
	User       *store.User
	DocumentID string
	Session    *store.Session
}

// Login is the result of a completed login.
type Login struct {
	User    *store.User
	Session *store.Session
}

// ServiceConfig holds the orchestrator's dependencies.
type ServiceConfig struct {
	WebAuthn   WebAuthn
	Store      store.Store
	Sessions   store.SessionStore
	Challenges store.ChallengeStore
	Metrics    *metrics.Metrics // optional
	Logger     *slog.Logger     // optional; defaults to slog.Default()

	VerifyTimeout       time.Duration
	DefaultDocumentName string
}

// Service drives registration and login ceremonies.
type Service struct {
	webauthn   WebAuthn
	store      store.Store
	sessions   store.SessionStore
	challenges store.ChallengeStore
	metrics    *metrics.Metrics
	locks      *keylock.Map

	verifyTimeout time.Duration
	documentName  string
	logger        *slog.Logger
}

// NewService creates a ceremony orchestrator.
func NewService(cfg ServiceConfig) *Service {
	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	docName := cfg.DefaultDocumentName
	if docName == "" {
		docName = DefaultDocumentName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		webauthn:      cfg.WebAuthn,
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		challenges:    cfg.Challenges,
		metrics:       cfg.Metrics,
		locks:         &keylock.Map{},
		verifyTimeout: timeout,
		documentName:  docName,
		logger:        logger.With("component", "auth"),
	}
}

// StartRegistration issues registration options for a new user called name.
func (s *Service) StartRegistration(ctx context.Context, name string) (*CeremonyStart, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	s.metrics.CeremonyStarted(metrics.CeremonyRegistration)

	// The user handle is minted now and becomes the user's id on success.
	userID := uuid.NewString()

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	ceremony, err := s.webauthn.BeginRegistration(vctx, userID, name)
	if err != nil {
		return nil, s.internal("begin registration", err)
	}

	return s.issue(ctx, ceremonyState{Kind: kindRegistration, UserID: userID, State: ceremony.State}, ceremony)
}

// FinishRegistration verifies the attestation and creates the user, their
// first credential, a default inventory document with its grant, and a
// session, in that order.
func (s *Service) FinishRegistration(ctx context.Context, ephemeralID, name string, response []byte) (*Registration, error) {
	reg, err := s.finishRegistration(ctx, ephemeralID, name, response)
	s.metrics.CeremonyFinished(metrics.CeremonyRegistration, outcome(err))
	return reg, err
}

func (s *Service) finishRegistration(ctx context.Context, ephemeralID, name string, response []byte) (*Registration, error) {
	// Consumed first so a failed attempt cannot be retried with the same id.
	state, err := s.consume(ctx, ephemeralID, kindRegistration)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	start := time.Now()
	cred, err := s.webauthn.FinishRegistration(vctx, state.UserID, name, state.State, response)
	cancel()
	s.metrics.ObserveVerification(metrics.CeremonyRegistration, time.Since(start))
	if err != nil {
		if errors.Is(err, ErrVerification) {
			s.logger.Info("registration verification failed", "error", err)
			return nil, ErrVerification
		}
		return nil, s.internal("verify registration", err)
	}

	// Refuse before creating anything if the credential is already bound.
	if _, err := s.store.FindUserByCredentialID(ctx, cred.ID); err == nil {
		return nil, store.ErrCredentialConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, s.internal("look up credential", err)
	}

	user := &store.User{ID: state.UserID, Name: name}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, s.internal("create user", err)
	}

	if err := s.store.AddCredential(ctx, user.ID, cred); err != nil {
		if errors.Is(err, store.ErrCredentialConflict) {
			return nil, err
		}
		return nil, s.internal("attach credential", err)
	}
	user.Credentials = append(user.Credentials, *cred)

	doc, err := s.store.CreateDocument(ctx, s.documentName)
	if err != nil {
		return nil, s.internal("create document", err)
	}
	if _, err := s.store.CreateGrant(ctx, doc.ID, user.ID); err != nil {
		return nil, s.internal("create grant", err)
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, s.internal("create session", err)
	}
	s.metrics.SessionCreated()

	s.logger.Info("user registered", "user_id", user.ID, "document_id", doc.ID)
	return &Registration{User: user, DocumentID: doc.ID, Session: sess}, nil
}

// StartLogin issues discoverable login options. No user identity is needed.
func (s *Service) StartLogin(ctx context.Context) (*CeremonyStart, error) {
	s.metrics.CeremonyStarted(metrics.CeremonyLogin)

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	ceremony, err := s.webauthn.BeginLogin(vctx)
	if err != nil {
		return nil, s.internal("begin login", err)
	}

	return s.issue(ctx, ceremonyState{Kind: kindLogin, State: ceremony.State}, ceremony)
}

// FinishLogin verifies an assertion and issues a session if the
// authenticator's signature counter strictly advanced.
func (s *Service) FinishLogin(ctx context.Context, ephemeralID string, response []byte) (*Login, error) {
	login, err := s.finishLogin(ctx, ephemeralID, response)
	s.metrics.CeremonyFinished(metrics.CeremonyLogin, outcome(err))
	return login, err
}

func (s *Service) finishLogin(ctx context.Context, ephemeralID string, response []byte) (*Login, error) {
	state, err := s.consume(ctx, ephemeralID, kindLogin)
	if err != nil {
		return nil, err
	}

	credID, err := s.webauthn.AssertedCredentialID(response)
	if err != nil {
		if errors.Is(err, ErrVerification) {
			return nil, ErrVerification
		}
		return nil, s.internal("parse assertion", err)
	}

	user, err := s.store.FindUserByCredentialID(ctx, credID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownCredential
	}
	if err != nil {
		return nil, s.internal("look up credential", err)
	}

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	start := time.Now()
	reported, err := s.webauthn.FinishLogin(vctx, user, state.State, response)
	cancel()
	s.metrics.ObserveVerification(metrics.CeremonyLogin, time.Since(start))
	if err != nil {
		if errors.Is(err, ErrVerification) {
			s.logger.Info("login verification failed", "user_id", user.ID, "error", err)
			return nil, ErrVerification
		}
		return nil, s.internal("verify login", err)
	}

	if err := s.advanceCounter(ctx, credID, reported); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, s.internal("create session", err)
	}
	s.metrics.SessionCreated()

	fresh, err := s.store.GetUser(ctx, user.ID)
	if err != nil {
		return nil, s.internal("load user", err)
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return &Login{User: fresh, Session: sess}, nil
}

// advanceCounter stores reported as the credential's counter if it is
// strictly greater than the stored one. The keylock serializes logins within
// this process; the store's conditional write settles races between
// processes sharing the database.
func (s *Service) advanceCounter(ctx context.Context, credID []byte, reported uint32) error {
	unlock := s.locks.Lock(string(credID))
	defer unlock()

	user, err := s.store.FindUserByCredentialID(ctx, credID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownCredential
	}
	if err != nil {
		return s.internal("reload credential", err)
	}
	cred := user.Credential(credID)
	if cred == nil {
		return ErrUnknownCredential
	}

	advanced := false
	if reported > cred.SignCount {
		advanced, err = s.store.AdvanceCredentialCounter(ctx, user.ID, credID, reported)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownCredential
		}
		if err != nil {
			return s.internal("update counter", err)
		}
	}
	if !advanced {
		s.logger.Warn("signature counter replay rejected",
			"user_id", user.ID,
			"stored_counter", cred.SignCount,
			"reported_counter", reported,
		)
		s.metrics.SecurityEvent("replay")
		return ErrReplay
	}
	return nil
}

// Logout revokes a session. Unknown sessions are ignored.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return s.internal("delete session", err)
	}
	return nil
}

func (s *Service) issue(ctx context.Context, state ceremonyState, ceremony *Ceremony) (*CeremonyStart, error) {
	ephemeralID, err := store.NewToken(ephemeralIDBytes)
	if err != nil {
		return nil, s.internal("generate ceremony id", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, s.internal("encode ceremony state", err)
	}

	if err := s.challenges.Issue(ctx, &store.Challenge{
		ID:        ephemeralID,
		Challenge: ceremony.Challenge,
		Data:      data,
	}); err != nil {
		return nil, s.internal("store challenge", err)
	}

	return &CeremonyStart{Options: ceremony.Options, EphemeralID: ephemeralID}, nil
}

// consume spends a ceremony id. Every failure looks the same to the caller.
func (s *Service) consume(ctx context.Context, ephemeralID, kind string) (*ceremonyState, error) {
	if ephemeralID == "" {
		return nil, ErrChallenge
	}

	ch, err := s.challenges.Consume(ctx, ephemeralID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallenge
	}
	if err != nil {
		return nil, s.internal("consume challenge", err)
	}

	var state ceremonyState
	if err := json.Unmarshal(ch.Data, &state); err != nil {
		return nil, s.internal("decode ceremony state", err)
	}
	if state.Kind != kind {
		return nil, ErrChallenge
	}
	return &state, nil
}

// internal logs err and returns an opaque ErrInternal.
func (s *Service) internal(op string, err error) error {
	s.logger.Error("ceremony failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s", ErrInternal, op)
}

// outcome classifies a ceremony result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrChallenge):
		return "challenge"
	case errors.Is(err, ErrVerification):
		return "verification"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrUnknownCredential):
		return "unknown_credential"
	case errors.Is(err, store.ErrCredentialConflict):
		return "conflict"
	default:
		return "error"
	}
}

// ABOUTME: HTTP handlers for passkey registration, login, whoami and logout
// ABOUTME: Thin adapters from JSON bodies onto auth.Service

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/larder/internal/auth"
	"github.com/2389/larder/internal/store"
)

// RegisterStartRequest is the body of POST /auth/register/start.
type RegisterStartRequest struct {
	Name string `json:"name"`
}

// CeremonyStartResponse carries browser options and the id to finish with.
// TempID repeats EphemeralID for older clients.
type CeremonyStartResponse struct {
	Options     any    `json:"options"`
	EphemeralID string `json:"ephemeralId"`
	TempID      string `json:"tempId"`
}

func newCeremonyStartResponse(start *auth.CeremonyStart) CeremonyStartResponse {
	return CeremonyStartResponse{Options: start.Options, EphemeralID: start.EphemeralID, TempID: start.EphemeralID}
}

// FinishRequest is the body of both finish endpoints. Name is only read
// during registration.
type FinishRequest struct {
	EphemeralID string          `json:"ephemeralId"`
	TempID      string          `json:"tempId"` // older clients
	Name        string          `json:"name"`
	Response    json.RawMessage `json:"response"`
}

func (f *FinishRequest) ceremonyID() string {
	if f.EphemeralID != "" {
		return f.EphemeralID
	}
	return f.TempID
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DocumentSummary is one entry of a user's document list.
type DocumentSummary struct {
	ID      string `json:"id"`
	IsOwner bool   `json:"isOwner"`
}

// RegisterFinishResponse is returned after a successful registration.
type RegisterFinishResponse struct {
	User       UserResponse `json:"user"`
	DocumentID string       `json:"documentId"`
}

// SessionResponse describes the signed-in user and what they can open.
// User is nil when nobody is signed in.
type SessionResponse struct {
	User      *UserResponse     `json:"user"`
	Documents []DocumentSummary `json:"documents"`
}

func newUserResponse(u *store.User) *UserResponse {
	return &UserResponse{ID: u.ID, Name: u.Name}
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	var req RegisterStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	start, err := s.auth.StartRegistration(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	s.sendJSON(w, http.StatusOK, newCeremonyStartResponse(start))
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req FinishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	reg, err := s.auth.FinishRegistration(r.Context(), req.ceremonyID(), req.Name, req.Response)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	s.middleware.SetCookie(w, reg.Session)
	s.sendJSON(w, http.StatusOK, RegisterFinishResponse{
		User:       *newUserResponse(reg.User),
		DocumentID: reg.DocumentID,
	})
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	start, err := s.auth.StartLogin(r.Context())
	if err != nil {
		s.writeError(w, err, ceremonyLogin)
		return
	}
	s.sendJSON(w, http.StatusOK, newCeremonyStartResponse(start))
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req FinishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err, ceremonyLogin)
		return
	}

	login, err := s.auth.FinishLogin(r.Context(), req.ceremonyID(), req.Response)
	if err != nil {
		s.writeError(w, err, ceremonyLogin)
		return
	}
	s.middleware.SetCookie(w, login.Session)

	docs, err := s.documentSummaries(r.Context(), login.User.ID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{User: newUserResponse(login.User), Documents: docs})
}

// handleMe reports the current user, or user null when signed out.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := s.middleware.Authenticate(w, r)
	if errors.Is(err, auth.ErrUnauthorized) {
		s.sendJSON(w, http.StatusOK, SessionResponse{Documents: []DocumentSummary{}})
		return
	}
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	docs, err := s.documentSummaries(r.Context(), id.UserID())
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{User: newUserResponse(id.User), Documents: docs})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.middleware.SessionID(r)); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	s.middleware.ClearCookie(w)
	s.sendSuccess(w)
}

func (s *Server) documentSummaries(ctx context.Context, userID string) ([]DocumentSummary, error) {
	grants, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentSummary, len(grants))
	for i, g := range grants {
		out[i] = DocumentSummary{ID: g.DocumentID, IsOwner: g.IsOwner(userID)}
	}
	return out, nil
}

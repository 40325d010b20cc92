// ABOUTME: JSON response helpers and the error to status mapping
// ABOUTME: Every handler reports failures through writeError so bodies stay uniform

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/larder/internal/auth"
	"github.com/2389/larder/internal/store"
)

// maxBodyBytes caps request bodies. Attestations with large certificate
// chains stay well under this.
const maxBodyBytes = 64 << 10

// ceremony says which error table applies: a failed verification during
// login is an authentication failure, during registration a bad request.
type ceremony int

const (
	ceremonyNone ceremony = iota
	ceremonyLogin
)

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter) {
	s.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// writeError maps err onto a status code and a client-safe message.
func (s *Server) writeError(w http.ResponseWriter, err error, c ceremony) {
	switch {
	case errors.Is(err, auth.ErrValidation), errors.Is(err, store.ErrInvalidName):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrChallenge):
		s.sendJSONError(w, http.StatusBadRequest, "challenge expired or invalid")
	case errors.Is(err, auth.ErrVerification), errors.Is(err, auth.ErrUnknownCredential):
		if c == ceremonyLogin {
			// Unknown credentials look exactly like failed signatures.
			s.sendJSONError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		s.sendJSONError(w, http.StatusBadRequest, "registration verification failed")
	case errors.Is(err, auth.ErrReplay):
		s.sendJSONError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, auth.ErrUnauthorized):
		s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		s.sendJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrCredentialConflict):
		s.sendJSONError(w, http.StatusConflict, "credential already registered")
	default:
		if !errors.Is(err, auth.ErrInternal) {
			s.logger.Error("request failed", "error", err)
		}
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a JSON request body into v. An empty body leaves v at its
// zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return auth.ErrValidation
	}
	return nil
}

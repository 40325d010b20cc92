// ABOUTME: Subscription-time authorization for document sync
// ABOUTME: Accepts a session cookie or a sync ticket, then re-checks access before handing off

package server

import (
	"errors"
	"net/http"

	"github.com/2389/larder/internal/store"
)

// Subscription is an authorized request to follow one document.
type Subscription struct {
	UserID     string
	DocumentID string
}

// SyncHandler serves an authorized subscription, for example by upgrading to
// the replication engine's transport.
type SyncHandler interface {
	ServeSync(w http.ResponseWriter, r *http.Request, sub Subscription)
}

// SyncHandlerFunc adapts a function to SyncHandler.
type SyncHandlerFunc func(w http.ResponseWriter, r *http.Request, sub Subscription)

// ServeSync calls f.
func (f SyncHandlerFunc) ServeSync(w http.ResponseWriter, r *http.Request, sub Subscription) {
	f(w, r, sub)
}

// SnapshotSync answers every subscription with the document's current state.
type SnapshotSync struct {
	Docs store.DocumentRepo
}

// ServeSync writes the document as JSON.
func (s *SnapshotSync) ServeSync(w http.ResponseWriter, r *http.Request, sub Subscription) {
	doc, err := s.Docs.GetDocument(r.Context(), sub.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		_ = writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		_ = writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	_ = writeJSON(w, http.StatusOK, newDocumentResponse(doc))
}

// handleSync authorizes a subscription. A ticket in the query string stands
// in for the cookie. The ticket's session must still be live and access is
// re-checked against the grant, so logging out or losing membership ends
// subscriptions with tickets minted earlier.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	var userID string
	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		t, err := s.tickets.Verify(ticket, docID)
		if err != nil {
			s.logger.Info("sync ticket rejected", "document_id", docID, "error", err)
			s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, err := s.sessions.Get(r.Context(), t.SessionID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != t.UserID) {
			s.logger.Info("sync ticket session ended", "document_id", docID, "user_id", t.UserID)
			s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err != nil {
			s.writeError(w, err, ceremonyNone)
			return
		}
		userID = t.UserID
	} else {
		id, err := s.middleware.Authenticate(w, r)
		if err != nil {
			s.writeError(w, err, ceremonyNone)
			return
		}
		userID = id.UserID()
	}

	ok, err := s.store.CanAccess(r.Context(), userID, docID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	if !ok {
		s.metrics.AccessDenied("sync")
		s.logger.Info("sync subscription denied", "user_id", userID, "document_id", docID)
		s.sendJSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	s.sync.ServeSync(w, r, Subscription{UserID: userID, DocumentID: docID})
}

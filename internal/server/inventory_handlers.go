// ABOUTME: HTTP handlers for inventory documents, membership and sync tickets
// ABOUTME: Owner-only operations answer 404 for unknown documents before 403 for non-owners

package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/2389/larder/internal/auth"
	"github.com/2389/larder/internal/store"
)

// DefaultInventoryName names inventories created without a name.
const DefaultInventoryName = "New Inventory"

// CreateInventoryRequest is the body of POST /inventories.
type CreateInventoryRequest struct {
	Name string `json:"name"`
}

// AddMemberRequest is the body of POST /inventories/{id}/members.
type AddMemberRequest struct {
	UserID string `json:"userId"`
}

// InventoryResponse describes a grant as seen by one of its users.
type InventoryResponse struct {
	ID        string    `json:"id"`
	IsOwner   bool      `json:"isOwner"`
	OwnerID   string    `json:"ownerId"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocumentResponse is a snapshot of an inventory document.
type DocumentResponse struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Items     map[string]store.Item `json:"items"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// SyncTicketResponse carries a short-lived ticket for GET /sync/{id}.
type SyncTicketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newDocumentResponse(d *store.Document) DocumentResponse {
	items := d.Items
	if items == nil {
		items = map[string]store.Item{}
	}
	return DocumentResponse{ID: d.ID, Name: d.Name, Items: items, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

func (s *Server) handleListInventories(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	docs, err := s.documentSummaries(r.Context(), id.UserID())
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string][]DocumentSummary{"inventories": docs})
}

func (s *Server) handleCreateInventory(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req CreateInventoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultInventoryName
	}

	doc, err := s.store.CreateDocument(r.Context(), name)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	if _, err := s.store.CreateGrant(r.Context(), doc.ID, id.UserID()); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	s.logger.Info("inventory created", "document_id", doc.ID, "user_id", id.UserID())
	s.sendJSON(w, http.StatusOK, map[string]DocumentSummary{
		"inventory": {ID: doc.ID, IsOwner: true},
	})
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	docID := r.PathValue("id")

	if err := s.authorize(r.Context(), id.UserID(), docID, false, "read"); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	grant, err := s.store.GetGrant(r.Context(), docID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	members := grant.MemberIDs
	if members == nil {
		members = []string{}
	}
	s.sendJSON(w, http.StatusOK, struct {
		Inventory InventoryResponse `json:"inventory"`
		Document  DocumentResponse  `json:"document"`
	}{
		Inventory: InventoryResponse{
			ID:        grant.DocumentID,
			IsOwner:   grant.IsOwner(id.UserID()),
			OwnerID:   grant.OwnerID,
			MemberIDs: members,
			CreatedAt: grant.CreatedAt,
		},
		Document: newDocumentResponse(doc),
	})
}

func (s *Server) handleDeleteInventory(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	docID := r.PathValue("id")

	if err := s.authorize(r.Context(), id.UserID(), docID, true, "delete"); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	// The document itself is left to the replication layer.
	deleted, err := s.store.DeleteGrant(r.Context(), docID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	if !deleted {
		s.writeError(w, store.ErrNotFound, ceremonyNone)
		return
	}

	s.logger.Info("inventory deleted", "document_id", docID, "user_id", id.UserID())
	s.sendSuccess(w)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	docID := r.PathValue("id")

	if err := s.authorize(r.Context(), id.UserID(), docID, true, "add_member"); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	var req AddMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	memberID := strings.TrimSpace(req.UserID)
	if memberID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if _, err := s.store.GetUser(r.Context(), memberID); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	added, err := s.store.AddMember(r.Context(), docID, memberID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	if !added {
		s.writeError(w, store.ErrNotFound, ceremonyNone)
		return
	}

	s.logger.Info("member added", "document_id", docID, "member_id", memberID)
	s.sendSuccess(w)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	docID := r.PathValue("id")
	memberID := r.PathValue("uid")

	if err := s.authorize(r.Context(), id.UserID(), docID, true, "remove_member"); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	removed, err := s.store.RemoveMember(r.Context(), docID, memberID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	if !removed {
		s.sendJSONError(w, http.StatusNotFound, "member not found")
		return
	}

	s.logger.Info("member removed", "document_id", docID, "member_id", memberID)
	s.sendSuccess(w)
}

func (s *Server) handleSyncTicket(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	docID := r.PathValue("id")

	if err := s.authorize(r.Context(), id.UserID(), docID, false, "sync_ticket"); err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}

	ticket, expiresAt, err := s.tickets.Issue(id.UserID(), id.Session.ID, docID)
	if err != nil {
		s.writeError(w, err, ceremonyNone)
		return
	}
	s.sendJSON(w, http.StatusOK, SyncTicketResponse{Ticket: ticket, ExpiresAt: expiresAt})
}

// authorize checks userID against the document's grant. Unknown documents
// report store.ErrNotFound; known documents the user may not touch report
// auth.ErrForbidden.
func (s *Server) authorize(ctx context.Context, userID, documentID string, ownerOnly bool, op string) error {
	check := s.store.CanAccess
	if ownerOnly {
		check = s.store.IsOwner
	}
	ok, err := check(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if _, err := s.store.GetGrant(ctx, documentID); err != nil {
		return err
	}
	s.metrics.AccessDenied(op)
	s.logger.Info("access denied", "op", op, "user_id", userID, "document_id", documentID)
	return auth.ErrForbidden
}

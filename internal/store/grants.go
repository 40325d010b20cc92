// ABOUTME: SQLite access-grant methods: document ownership and membership
// ABOUTME: The grant row is the source of truth; per-user lookups ride on indexed columns

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Ensure SQLiteStore implements AccessStore.
var _ AccessStore = (*SQLiteStore)(nil)

// CreateGrant records ownerID as the sole owner of documentID.
func (s *SQLiteStore) CreateGrant(ctx context.Context, documentID, ownerID string) (*AccessGrant, error) {
	grant := &AccessGrant{
		DocumentID: documentID,
		OwnerID:    ownerID,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_grants (document_id, owner_id, created_at) VALUES (?, ?, ?)`,
		grant.DocumentID,
		grant.OwnerID,
		formatTime(grant.CreatedAt),
	)
	if isConstraintViolation(err) {
		return nil, ErrGrantExists
	}
	if err != nil {
		return nil, fmt.Errorf("inserting access grant: %w", err)
	}

	s.logger.Debug("created access grant", "document_id", documentID, "owner_id", ownerID)
	return grant, nil
}

// GetGrant retrieves the grant for a document with its members.
func (s *SQLiteStore) GetGrant(ctx context.Context, documentID string) (*AccessGrant, error) {
	var grant *AccessGrant
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		grant, err = getGrantTx(ctx, tx, documentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func getGrantTx(ctx context.Context, tx *sql.Tx, documentID string) (*AccessGrant, error) {
	var grant AccessGrant
	var createdAtStr string

	err := tx.QueryRowContext(ctx,
		`SELECT document_id, owner_id, created_at FROM access_grants WHERE document_id = ?`, documentID,
	).Scan(&grant.DocumentID, &grant.OwnerID, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access grant: %w", err)
	}
	if grant.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT user_id FROM grant_members WHERE document_id = ? ORDER BY added_at ASC, user_id ASC`, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying grant members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning grant member: %w", err)
		}
		grant.MemberIDs = append(grant.MemberIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grant members: %w", err)
	}

	return &grant, nil
}

// IsOwner reports whether userID owns documentID. Unknown documents are not owned.
func (s *SQLiteStore) IsOwner(ctx context.Context, userID, documentID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM access_grants WHERE document_id = ? AND owner_id = ?`, documentID, userID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ownership: %w", err)
	}
	return true, nil
}

// CanAccess reports whether userID owns or is a member of documentID.
func (s *SQLiteStore) CanAccess(ctx context.Context, userID, documentID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM access_grants WHERE document_id = ? AND owner_id = ?
		UNION ALL
		SELECT 1 FROM grant_members WHERE document_id = ? AND user_id = ?
		LIMIT 1
	`, documentID, userID, documentID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking access: %w", err)
	}
	return true, nil
}

// AddMember adds userID to the document's members. Adding an existing member succeeds.
func (s *SQLiteStore) AddMember(ctx context.Context, documentID, userID string) (bool, error) {
	added := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM access_grants WHERE document_id = ?`, documentID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying access grant: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO grant_members (document_id, user_id, added_at) VALUES (?, ?, ?)`,
			documentID, userID, formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("inserting grant member: %w", err)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// RemoveMember removes userID from the document's members.
func (s *SQLiteStore) RemoveMember(ctx context.Context, documentID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM grant_members WHERE document_id = ? AND user_id = ?`, documentID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting grant member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListForUser returns every grant where userID is owner or member, oldest first.
func (s *SQLiteStore) ListForUser(ctx context.Context, userID string) ([]*AccessGrant, error) {
	var grants []*AccessGrant
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT document_id FROM access_grants WHERE owner_id = ?
			UNION
			SELECT document_id FROM grant_members WHERE user_id = ?
		`, userID, userID)
		if err != nil {
			return fmt.Errorf("querying grants for user: %w", err)
		}

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scanning document id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("iterating grants for user: %w", err)
		}
		_ = rows.Close()

		for _, id := range ids {
			grant, err := getGrantTx(ctx, tx, id)
			if err != nil {
				return err
			}
			grants = append(grants, grant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortGrants(grants)
	return grants, nil
}

// DeleteGrant removes a grant; memberships go with it via ON DELETE CASCADE.
func (s *SQLiteStore) DeleteGrant(ctx context.Context, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM access_grants WHERE document_id = ?`, documentID)
	if err != nil {
		return false, fmt.Errorf("deleting access grant: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Info("deleted access grant", "document_id", documentID)
	}
	return rowsAffected > 0, nil
}

func sortGrants(grants []*AccessGrant) {
	sort.SliceStable(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.Before(grants[j].CreatedAt)
		}
		return grants[i].DocumentID < grants[j].DocumentID
	})
}

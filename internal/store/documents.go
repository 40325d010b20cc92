// ABOUTME: SQLite-backed document collaborator for inventory documents
// ABOUTME: Items are stored as a JSON object keyed by item id

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ensure SQLiteStore implements DocumentRepo.
var _ DocumentRepo = (*SQLiteStore)(nil)

// CreateDocument mints a new empty document and returns it.
func (s *SQLiteStore) CreateDocument(ctx context.Context, name string) (*Document, error) {
	now := time.Now()
	doc := &Document{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Items:     map[string]Item{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, items_json, created_at, updated_at) VALUES (?, ?, '{}', ?, ?)`,
		doc.ID,
		doc.Name,
		formatTime(doc.CreatedAt),
		formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("created document", "id", doc.ID)
	return doc, nil
}

// GetDocument retrieves a document snapshot by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc *Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		doc, err = getDocumentTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func getDocumentTx(ctx context.Context, tx *sql.Tx, id string) (*Document, error) {
	var doc Document
	var itemsJSON, createdAtStr, updatedAtStr string

	err := tx.QueryRowContext(ctx,
		`SELECT id, name, items_json, created_at, updated_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Name, &itemsJSON, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}

	doc.Items = map[string]Item{}
	if err := json.Unmarshal([]byte(itemsJSON), &doc.Items); err != nil {
		return nil, fmt.Errorf("decoding items: %w", err)
	}
	if doc.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &doc, nil
}

// MutateDocument loads the document, applies fn and writes the result back
// in a single transaction. The document ID cannot be changed by fn.
func (s *SQLiteStore) MutateDocument(ctx context.Context, id string, fn func(doc *Document) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		doc, err := getDocumentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		if doc.Items == nil {
			doc.Items = map[string]Item{}
		}

		itemsJSON, err := json.Marshal(doc.Items)
		if err != nil {
			return fmt.Errorf("encoding items: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET name = ?, items_json = ?, updated_at = ? WHERE id = ?`,
			doc.Name, string(itemsJSON), formatTime(time.Now()), id,
		)
		if err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		return nil
	})
}

// ABOUTME: SQLite user and passkey credential methods
// ABOUTME: Enforces one-user-per-credential and exposes O(1) credential lookup

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

// Ensure SQLiteStore implements CredentialStore.
var _ CredentialStore = (*SQLiteStore)(nil)

// prepareUser validates and fills in a user before it is stored.
func prepareUser(user *User) error {
	user.Name = strings.TrimSpace(user.Name)
	if user.Name == "" {
		return ErrInvalidName
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.Credentials = nil
	return nil
}

// CreateUser creates a new user with no credentials.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if err := prepareUser(user); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`,
		user.ID,
		user.Name,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID)
	return nil
}

// GetUser retrieves a user and their credentials by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user *User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = getUserTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func getUserTx(ctx context.Context, tx *sql.Tx, id string) (*User, error) {
	var user User
	var createdAtStr string

	err := tx.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Name, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if user.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}

	creds, err := listCredentialsTx(ctx, tx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Credentials = creds
	return &user, nil
}

func listCredentialsTx(ctx context.Context, tx *sql.Tx, userID string) ([]Credential, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT credential_id, user_id, public_key, attestation_type, transports, sign_count, created_at
		FROM credentials
		WHERE user_id = ?
		ORDER BY rowid ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []Credential
	for rows.Next() {
		var cred Credential
		var attestation, transports sql.NullString
		var createdAtStr string

		if err := rows.Scan(
			&cred.ID,
			&cred.UserID,
			&cred.PublicKey,
			&attestation,
			&transports,
			&cred.SignCount,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}

		cred.AttestationType = attestation.String
		if transports.Valid && transports.String != "" {
			if err := json.Unmarshal([]byte(transports.String), &cred.Transports); err != nil {
				return nil, fmt.Errorf("decoding transports: %w", err)
			}
		}
		if cred.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// AddCredential attaches a passkey to a user.
// Returns ErrNotFound for an unknown user and ErrCredentialConflict if the
// credential already belongs to someone else.
func (s *SQLiteStore) AddCredential(ctx context.Context, userID string, cred *Credential) error {
	transportsJSON, err := json.Marshal(cred.Transports)
	if err != nil {
		return fmt.Errorf("encoding transports: %w", err)
	}
	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying user: %w", err)
		}

		var owner string
		err = tx.QueryRowContext(ctx,
			`SELECT user_id FROM credentials WHERE credential_id = ?`, cred.ID,
		).Scan(&owner)
		switch {
		case err == nil && owner == userID:
			return errNoop
		case err == nil:
			return ErrCredentialConflict
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("querying credential: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials (credential_id, user_id, public_key, attestation_type, transports, sign_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			cred.ID,
			userID,
			cred.PublicKey,
			cred.AttestationType,
			string(transportsJSON),
			cred.SignCount,
			formatTime(createdAt),
		)
		if isConstraintViolation(err) {
			return ErrCredentialConflict
		}
		if err != nil {
			return fmt.Errorf("inserting credential: %w", err)
		}
		return nil
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return err
	}

	cred.UserID = userID
	cred.CreatedAt = createdAt
	s.logger.Info("attached credential", "user_id", userID)
	return nil
}

// errNoop rolls back a transaction that turned out to have nothing to do.
var errNoop = errors.New("no-op")

// FindUserByCredentialID resolves a credential to its owner via the primary key.
func (s *SQLiteStore) FindUserByCredentialID(ctx context.Context, credentialID []byte) (*User, error) {
	var user *User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM credentials WHERE credential_id = ?`, credentialID,
		).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying credential: %w", err)
		}

		user, err = getUserTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateCredentialCounter overwrites the stored signature counter.
func (s *SQLiteStore) UpdateCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ? WHERE credential_id = ? AND user_id = ?`,
		counter, credentialID, userID,
	)
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceCredentialCounter stores counter if it is above the stored one.
func (s *SQLiteStore) AdvanceCredentialCounter(ctx context.Context, userID string, credentialID []byte, counter uint32) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ? WHERE credential_id = ? AND user_id = ? AND sign_count < ?`,
		counter, credentialID, userID, counter,
	)
	if err != nil {
		return false, fmt.Errorf("advancing sign count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	// Distinguish a stale counter from a missing credential.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE credential_id = ? AND user_id = ?`,
		credentialID, userID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying credential: %w", err)
	}
	return false, nil
}

package apikeys

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists API keys
type Store interface {
	Insert(ctx context.Context, key *APIKey) error
	ActiveByDisplayPrefix(ctx context.Context, displayPrefix string) ([]*APIKey, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]*APIKey, error)
	Revoke(ctx context.Context, orgID int64, keyID string, at time.Time) (bool, error)
	Exists(ctx context.Context, orgID int64, keyID string) (bool, error)
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// SQLStore is the postgres Store
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a postgres-backed store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const keyColumns = `id, organization_id, name, key_hash, display_prefix, created_by,
	expires_at, is_active, revoked_at, last_used_at, created_at`

// Insert stores a new key
func (s *SQLStore) Insert(ctx context.Context, key *APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, organization_id, name, key_hash, display_prefix, created_by, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
	`, key.ID, key.OrganizationID, key.Name, key.KeyHash, key.DisplayPrefix, key.CreatedBy, key.ExpiresAt, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// ActiveByDisplayPrefix returns every active key sharing the display prefix
func (s *SQLStore) ActiveByDisplayPrefix(ctx context.Context, displayPrefix string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE display_prefix = $1 AND is_active = true
	`, displayPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	return scanKeys(rows)
}

// ListByOrganization returns all keys of an organization, newest first, revoked included
func (s *SQLStore) ListByOrganization(ctx context.Context, orgID int64) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return scanKeys(rows)
}

// Revoke soft-deletes an active key and reports whether a row changed
func (s *SQLStore) Revoke(ctx context.Context, orgID int64, keyID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = false, revoked_at = $3
		WHERE id = $1 AND organization_id = $2 AND is_active = true
	`, keyID, orgID, at)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	return n > 0, nil
}

// Exists reports whether the key belongs to the organization
func (s *SQLStore) Exists(ctx context.Context, orgID int64, keyID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM api_keys WHERE id = $1 AND organization_id = $2)
	`, keyID, orgID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check api key: %w", err)
	}
	return exists, nil
}

// TouchLastUsed records a successful authentication
func (s *SQLStore) TouchLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, keyID, at)
	if err != nil {
		return fmt.Errorf("failed to update api key last used: %w", err)
	}
	return nil
}

func scanKeys(rows *sql.Rows) ([]*APIKey, error) {
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var (
			k                             APIKey
			expiresAt, revokedAt, lastUse sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.OrganizationID, &k.Name, &k.KeyHash, &k.DisplayPrefix, &k.CreatedBy,
			&expiresAt, &k.IsActive, &revokedAt, &lastUse, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		k.ExpiresAt = nullTime(expiresAt)
		k.RevokedAt = nullTime(revokedAt)
		k.LastUsedAt = nullTime(lastUse)
		keys = append(keys, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

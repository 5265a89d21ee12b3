package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

const userColumns = `id, external_id, email, name, password_hash, is_active, email_verified, last_login_at, created_at, updated_at`

// Store persists users
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser inserts a user. A second account for the same email (compared
// case-insensitively) is a conflict.
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	if user.ExternalID == "" {
		user.ExternalID = uuid.NewString()
	}
	user.IsActive = true

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (external_id, email, name, password_hash, is_active, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, user.ExternalID, user.Email, user.Name, user.PasswordHash, user.IsActive, user.EmailVerified).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	return apperrors.FromPQ(err, "email is already registered", "create user")
}

// GetUserByID retrieves a user by id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by normalized email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdatePassword replaces the stored password hash
func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error {
	return s.update(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, at)
}

// MarkVerified records that the user proved control of their email
func (s *Store) MarkVerified(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, "verify email",
		`UPDATE users SET email_verified = true, updated_at = $2 WHERE id = $1`, id, at)
}

// TouchLogin records a successful sign-in
func (s *Store) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, "record login",
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

func (s *Store) update(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("user not found")
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		user      auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&user.ID, &user.ExternalID, &user.Email, &user.Name, &user.PasswordHash,
		&user.IsActive, &user.EmailVerified, &lastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return &user, nil
}

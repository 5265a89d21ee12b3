package tokens

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
)

// Purpose scopes a one-time token to a single flow
type Purpose string

const (
	PurposeEmailVerify   Purpose = "email_verify"
	PurposePasswordReset Purpose = "password_reset"
)

const (
	DefaultEmailVerifyTTL   = 24 * time.Hour
	DefaultPasswordResetTTL = time.Hour
	DefaultInvitationTTL    = 72 * time.Hour
)

// opaqueTokenBytes yields 43 url-safe characters
const opaqueTokenBytes = 32

var errInvalidOneTime = apperrors.Validation("invalid or expired token")

// NewOpaqueToken returns a random url-safe identifier. It is not signed and
// only means something when matched against a stored row.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IssueOneTime mints a token for purpose, replacing any earlier unused
// token of the same purpose for the user.
func (s *Service) IssueOneTime(ctx context.Context, userID int64, purpose Purpose) (string, error) {
	ttl, ok := s.oneTimeTTL[purpose]
	if !ok {
		return "", fmt.Errorf("unknown one-time token purpose %q", purpose)
	}
	token, err := NewOpaqueToken()
	if err != nil {
		return "", err
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM one_time_tokens WHERE user_id = $1 AND purpose = $2
	`, userID, string(purpose)); err != nil {
		return "", fmt.Errorf("failed to clear previous tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO one_time_tokens (token_hash, user_id, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, HashToken(token), userID, string(purpose), now.Add(ttl), now); err != nil {
		return "", fmt.Errorf("failed to store one-time token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit one-time token: %w", err)
	}

	s.metrics.TokenIssued("one_time")
	return token, nil
}

// ConsumeOneTime redeems a token and returns its user id. The row is deleted
// before the expiry check, so a token redeems at most once.
func (s *Service) ConsumeOneTime(ctx context.Context, token string, purpose Purpose) (int64, error) {
	if token == "" {
		return 0, errInvalidOneTime
	}

	var (
		userID    int64
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM one_time_tokens WHERE token_hash = $1 AND purpose = $2
		RETURNING user_id, expires_at
	`, HashToken(token), string(purpose)).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errInvalidOneTime
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume one-time token: %w", err)
	}

	if !s.now().Before(expiresAt) {
		return 0, errInvalidOneTime
	}
	return userID, nil
}

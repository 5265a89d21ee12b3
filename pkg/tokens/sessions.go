package tokens

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

// IssueSession signs a refresh token and persists the session row behind it.
// Only the sha256 of the token is stored.
func (s *Service) IssueSession(ctx context.Context, userID int64, md auth.ClientMetadata) (string, error) {
	now := s.now()
	sessionID := ulid.Make().String()
	expiresAt := now.Add(s.refreshTTL)

	token, err := s.sign(Claims{
		SessionID: sessionID,
		Type:      TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, user_agent, ip_address, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sessionID, userID, HashToken(token), truncate(md.UserAgent, 512), md.IPAddress, expiresAt, now)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.TokenIssued(string(TypeRefresh))
	return token, nil
}

// IssuePair mints an access token and a persisted refresh session
func (s *Service) IssuePair(ctx context.Context, userID int64, email string, md auth.ClientMetadata) (*Pair, error) {
	access, err := s.IssueAccessToken(userID, email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueSession(ctx, userID, md)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenTTLSeconds: int64(s.accessTTL.Seconds()),
		TokenType:             "Bearer",
	}, nil
}

// VerifySession checks the refresh token and its persisted row and returns
// the owning user id. An expired row is deleted before failing.
func (s *Service) VerifySession(ctx context.Context, token string) (int64, error) {
	claims, expired, err := s.parseClaims(token, TypeRefresh)
	if err != nil {
		return 0, err
	}

	var (
		sessionID string
		userID    int64
		expiresAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at FROM sessions WHERE token_hash = $1
	`, HashToken(token)).Scan(&sessionID, &userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load session: %w", err)
	}

	if sessionID != claims.SessionID || userID != claims.userID {
		return 0, errInvalidToken
	}

	if expired || !expiresAt.Valid || !s.now().Before(expiresAt.Time) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("failed to delete expired session")
		}
		return 0, errInvalidToken
	}

	return userID, nil
}

// RevokeSession deletes the session behind a refresh token. Unknown tokens are a no-op.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, HashToken(token)); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllSessions deletes every session of the user and returns how many were removed
func (s *Service) RevokeAllSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneExpired removes expired sessions and one-time tokens. Verification
// never depends on it; it only bounds table growth.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, query := range []string{
		`DELETE FROM sessions WHERE expires_at <= $1`,
		`DELETE FROM one_time_tokens WHERE expires_at <= $1`,
	} {
		res, err := s.db.ExecContext(ctx, query, now)
		if err != nil {
			return total, fmt.Errorf("failed to prune expired tokens: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// HashToken returns the hex sha256 of a token, the form tokens are stored in
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// truncate caps s at n bytes without splitting a rune. Invalid UTF-8 is
// dropped first so the result is safe for a text column.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

package accounts

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	qUserByEmail  = "FROM users WHERE lower(email) = $1"
	qUserByID     = "FROM users WHERE id = $1"
	qInsertUser   = "INSERT INTO users"
	qTouchLogin   = "UPDATE users SET last_login_at = $2 WHERE id = $1"
	qSetPassword  = "UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1"
	qMarkVerified = "UPDATE users SET email_verified = true, updated_at = $2 WHERE id = $1"
)

var userCols = []string{"id", "external_id", "email", "name", "password_hash", "is_active",
	"email_verified", "last_login_at", "created_at", "updated_at"}

var (
	hashOnce sync.Once
	goodHash string
)

const goodPassword = "correct horse battery"

func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := auth.HashPassword(goodPassword)
		require.NoError(t, err)
		goodHash = h
	})
	return goodHash
}

func userRow(t *testing.T, id int64, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(id, "u-7", "ada@example.com", "Ada", passwordHash(t), active, true, nil, testNow, testNow)
}

type oneTime struct {
	userID  int64
	purpose tokens.Purpose
}

type stubTokens struct {
	mu         sync.Mutex
	sessions   map[string]int64
	oneTime    map[string]oneTime
	issued     int
	revokedAll []int64
	revoked    []string
	pairs      int
}

func newStubTokens() *stubTokens {
	return &stubTokens{sessions: map[string]int64{}, oneTime: map[string]oneTime{}}
}

func (s *stubTokens) IssuePair(_ context.Context, userID int64, _ string, _ auth.ClientMetadata) (*tokens.Pair, error) {
	s.pairs++
	s.sessions["refresh-1"] = userID
	return &tokens.Pair{AccessToken: "access-1", RefreshToken: "refresh-1", AccessTokenTTLSeconds: 900, TokenType: "Bearer"}, nil
}

func (s *stubTokens) IssueAccessToken(int64, string) (string, error) { return "access-2", nil }

func (s *stubTokens) AccessTTL() time.Duration { return 15 * time.Minute }

func (s *stubTokens) VerifySession(_ context.Context, token string) (int64, error) {
	id, ok := s.sessions[token]
	if !ok {
		return 0, apperrors.Unauthenticated("invalid or expired token")
	}
	return id, nil
}

func (s *stubTokens) RevokeSession(_ context.Context, token string) error {
	s.revoked = append(s.revoked, token)
	delete(s.sessions, token)
	return nil
}

func (s *stubTokens) RevokeAllSessions(_ context.Context, userID int64) (int64, error) {
	s.revokedAll = append(s.revokedAll, userID)
	return 2, nil
}

func (s *stubTokens) IssueOneTime(_ context.Context, userID int64, purpose tokens.Purpose) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	token := string(purpose) + "-token"
	s.oneTime[token] = oneTime{userID: userID, purpose: purpose}
	return token, nil
}

func (s *stubTokens) ConsumeOneTime(_ context.Context, token string, purpose tokens.Purpose) (int64, error) {
	entry, ok := s.oneTime[token]
	delete(s.oneTime, token)
	if !ok || entry.purpose != purpose {
		return 0, apperrors.Validation("invalid or expired token")
	}
	return entry.userID, nil
}

type recordingNotifier struct {
	verifications []string
	resets        []string
}

func (n *recordingNotifier) SendVerification(_ context.Context, _ *auth.User, token string) error {
	n.verifications = append(n.verifications, token)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _ *auth.User, token string) error {
	n.resets = append(n.resets, token)
	return nil
}

type testService struct {
	*Service
	mock     sqlmock.Sqlmock
	tokens   *stubTokens
	notifier *recordingNotifier
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tok := newStubTokens()
	notifier := &recordingNotifier{}
	svc := NewService(NewStore(db), tok, WithNotifier(notifier), WithClock(func() time.Time { return testNow }))
	return &testService{Service: svc, mock: mock, tokens: tok, notifier: notifier}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an unverified user and sends a verification token", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qInsertUser)).
			WithArgs(sqlmock.AnyArg(), "ada@example.com", "Ada", sqlmock.AnyArg(), true, false).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, testNow, testNow))

		user, err := s.Register(ctx, RegisterRequest{Email: " Ada@Example.com", Password: goodPassword, Name: "Ada"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.NotEmpty(t, user.ExternalID)
		assert.False(t, user.EmailVerified)
		assert.NoError(t, auth.CheckPassword(user.PasswordHash, goodPassword))
		assert.Equal(t, []string{"email_verify-token"}, s.notifier.verifications)
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qInsertUser)).WillReturnError(&pq.Error{Code: "23505"})

		_, err := s.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: goodPassword})
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
		assert.Empty(t, s.notifier.verifications)
	})

	t.Run("invalid input never reaches the database", func(t *testing.T) {
		s := newTestService(t)
		_, err := s.Register(ctx, RegisterRequest{Email: "nope", Password: goodPassword})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

		_, err = s.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: "short"})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

		_, err = s.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: strings.Repeat("a", auth.MaxPasswordLength+1)})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WithArgs("ada@example.com").WillReturnRows(userRow(t, 7, true))
		s.mock.ExpectExec(regexp.QuoteMeta(qTouchLogin)).WithArgs(int64(7), testNow).WillReturnResult(sqlmock.NewResult(0, 1))

		pair, user, err := s.Login(ctx, "ADA@example.com", goodPassword, auth.ClientMetadata{})
		require.NoError(t, err)
		assert.Equal(t, "access-1", pair.AccessToken)
		assert.Equal(t, int64(7), user.ID)
		require.NotNil(t, user.LastLoginAt)
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})

	failures := []struct {
		name  string
		setup func(*testService)
		pass  string
	}{
		{"unknown email", func(s *testService) {
			s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(sqlmock.NewRows(userCols))
		}, goodPassword},
		{"wrong password", func(s *testService) {
			s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(userRow(t, 7, true))
		}, "wrong password"},
		{"inactive user", func(s *testService) {
			s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(userRow(t, 7, false))
		}, goodPassword},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t)
			tt.setup(s)

			_, _, err := s.Login(ctx, "ada@example.com", tt.pass, auth.ClientMetadata{})
			assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))
			assert.Equal(t, "invalid credentials", err.Error())
			assert.Zero(t, s.tokens.pairs)
		})
	}

	t.Run("malformed email fails like any other", func(t *testing.T) {
		s := newTestService(t)
		_, _, err := s.Login(ctx, "not an email", goodPassword, auth.ClientMetadata{})
		assert.Equal(t, "invalid credentials", err.Error())
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps the refresh token", func(t *testing.T) {
		s := newTestService(t)
		s.tokens.sessions["refresh-1"] = 7
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WithArgs(int64(7)).WillReturnRows(userRow(t, 7, true))

		pair, err := s.Refresh(ctx, "refresh-1")
		require.NoError(t, err)
		assert.Equal(t, "access-2", pair.AccessToken)
		assert.Equal(t, "refresh-1", pair.RefreshToken)
		assert.Equal(t, int64(900), pair.AccessTokenTTLSeconds)
	})

	t.Run("inactive user", func(t *testing.T) {
		s := newTestService(t)
		s.tokens.sessions["refresh-1"] = 7
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WillReturnRows(userRow(t, 7, false))

		_, err := s.Refresh(ctx, "refresh-1")
		assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))
	})

	t.Run("revoked session", func(t *testing.T) {
		s := newTestService(t)
		s.tokens.sessions["refresh-1"] = 7
		require.NoError(t, s.Logout(ctx, "refresh-1"))

		_, err := s.Refresh(ctx, "refresh-1")
		assert.Equal(t, apperrors.KindUnauthenticated, apperrors.KindOf(err))
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong current password", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WillReturnRows(userRow(t, 7, true))

		err := s.ChangePassword(ctx, 7, "guess", "new password 1")
		assert.ErrorIs(t, err, errWrongPassword)
		assert.Empty(t, s.tokens.revokedAll)
	})

	t.Run("stores the new hash and revokes every session", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WillReturnRows(userRow(t, 7, true))
		s.mock.ExpectExec(regexp.QuoteMeta(qSetPassword)).WithArgs(int64(7), sqlmock.AnyArg(), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.ChangePassword(ctx, 7, goodPassword, "new password 1"))
		assert.Equal(t, []int64{7}, s.tokens.revokedAll)
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})

	t.Run("new password too short", func(t *testing.T) {
		s := newTestService(t)
		err := s.ChangePassword(ctx, 7, goodPassword, "short")
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	token, err := s.tokens.IssueOneTime(ctx, 7, tokens.PurposeEmailVerify)
	require.NoError(t, err)

	s.mock.ExpectExec(regexp.QuoteMeta(qMarkVerified)).WithArgs(int64(7), testNow).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.VerifyEmail(ctx, token))

	err = s.VerifyEmail(ctx, token)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), "a token redeems once")
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestRequestPasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email succeeds silently", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(sqlmock.NewRows(userCols))

		require.NoError(t, s.RequestPasswordReset(ctx, "ghost@example.com"))
		assert.Empty(t, s.notifier.resets)
	})

	t.Run("inactive user succeeds silently", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(userRow(t, 7, false))

		require.NoError(t, s.RequestPasswordReset(ctx, "ada@example.com"))
		assert.Empty(t, s.notifier.resets)
	})

	t.Run("malformed email succeeds silently", func(t *testing.T) {
		s := newTestService(t)
		require.NoError(t, s.RequestPasswordReset(ctx, "nope"))
	})

	t.Run("known user gets a token", func(t *testing.T) {
		s := newTestService(t)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WillReturnRows(userRow(t, 7, true))

		require.NoError(t, s.RequestPasswordReset(ctx, "ada@example.com"))
		assert.Equal(t, []string{"password_reset-token"}, s.notifier.resets)
	})
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("weak password keeps the token", func(t *testing.T) {
		s := newTestService(t)
		token, _ := s.tokens.IssueOneTime(ctx, 7, tokens.PurposePasswordReset)

		_, err := s.ResetPassword(ctx, token, "short")
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		assert.Contains(t, s.tokens.oneTime, token)
	})

	t.Run("password longer than bcrypt accepts keeps the token", func(t *testing.T) {
		s := newTestService(t)
		token, _ := s.tokens.IssueOneTime(ctx, 7, tokens.PurposePasswordReset)

		_, err := s.ResetPassword(ctx, token, strings.Repeat("a", auth.MaxPasswordLength+1))
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		assert.Contains(t, s.tokens.oneTime, token)
		assert.NoError(t, s.mock.ExpectationsWereMet())
	})

	t.Run("password of exactly the bcrypt limit is accepted", func(t *testing.T) {
		s := newTestService(t)
		token, _ := s.tokens.IssueOneTime(ctx, 7, tokens.PurposePasswordReset)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WillReturnRows(userRow(t, 7, true))
		s.mock.ExpectExec(regexp.QuoteMeta(qSetPassword)).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := s.ResetPassword(ctx, token, strings.Repeat("a", auth.MaxPasswordLength))
		require.NoError(t, err)
	})

	t.Run("verification token is not a reset token", func(t *testing.T) {
		s := newTestService(t)
		token, _ := s.tokens.IssueOneTime(ctx, 7, tokens.PurposeEmailVerify)

		_, err := s.ResetPassword(ctx, token, "new password 1")
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("success revokes sessions", func(t *testing.T) {
		s := newTestService(t)
		token, _ := s.tokens.IssueOneTime(ctx, 7, tokens.PurposePasswordReset)
		s.mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WillReturnRows(userRow(t, 7, true))
		s.mock.ExpectExec(regexp.QuoteMeta(qSetPassword)).WillReturnResult(sqlmock.NewResult(0, 1))

		user, err := s.ResetPassword(ctx, token, "new password 1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Equal(t, []int64{7}, s.tokens.revokedAll)

		_, err = s.ResetPassword(ctx, token, "new password 2")
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

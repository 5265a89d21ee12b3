package accounts

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

var (
	errInvalidCredentials = apperrors.Unauthenticated("invalid credentials")
	errInvalidToken       = apperrors.Unauthenticated("invalid or expired token")
	errInvalidOneTime     = apperrors.Validation("invalid or expired token")
	errWrongPassword      = apperrors.Validation("current password is incorrect")
)

// TokenService is the part of tokens.Service accounts depend on
type TokenService interface {
	IssuePair(ctx context.Context, userID int64, email string, md auth.ClientMetadata) (*tokens.Pair, error)
	IssueAccessToken(userID int64, email string) (string, error)
	AccessTTL() time.Duration
	VerifySession(ctx context.Context, token string) (int64, error)
	RevokeSession(ctx context.Context, token string) error
	RevokeAllSessions(ctx context.Context, userID int64) (int64, error)
	IssueOneTime(ctx context.Context, userID int64, purpose tokens.Purpose) (string, error)
	ConsumeOneTime(ctx context.Context, token string, purpose tokens.Purpose) (int64, error)
}

// RegisterRequest is the input to Register
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Service implements registration, sign-in and credential recovery
type Service struct {
	users    *Store
	tokens   TokenService
	notifier Notifier
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithNotifier sets where verification and reset tokens are delivered
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records login attempts
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates an account service
func NewService(users *Store, tokenService TokenService, opts ...Option) *Service {
	s := &Service{
		users:  users,
		tokens: tokenService,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// Register creates an unverified account and sends a verification token
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*auth.User, error) {
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to hash password")
	}

	user := &auth.User{Email: email, Name: req.Name, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.tokens.IssueOneTime(ctx, user.ID, tokens.PurposeEmailVerify)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ExternalID).Warn("failed to issue email verification token")
		return user, nil
	}
	if err := s.notifier.SendVerification(ctx, user, token); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ExternalID).Warn("failed to send email verification")
	}
	return user, nil
}

// Login exchanges email and password for a token pair. Unknown email,
// inactive account and wrong password fail identically.
func (s *Service) Login(ctx context.Context, email, password string, md auth.ClientMetadata) (*tokens.Pair, *auth.User, error) {
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnauthenticated {
			s.metrics.AuthAttempt("password", "failure")
		}
		return nil, nil, err
	}

	now := s.now().UTC()
	if err := s.users.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ExternalID).Warn("failed to record login")
	} else {
		user.LastLoginAt = &now
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, user.Email, md)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.AuthAttempt("password", "success")
	return pair, user, nil
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		auth.CompareDummy(password)
		return nil, errInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, normalized)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		auth.CompareDummy(password)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, errInvalidCredentials
	}
	if !user.IsActive {
		return nil, errInvalidCredentials
	}
	return user, nil
}

// Refresh mints a new access token for a valid refresh token. The refresh
// token itself is returned unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
	userID, err := s.tokens.VerifySession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, errInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errInvalidToken
	}

	access, err := s.tokens.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &tokens.Pair{
		AccessToken:           access,
		RefreshToken:          refreshToken,
		AccessTokenTTLSeconds: int64(s.tokens.AccessTTL().Seconds()),
		TokenType:             "Bearer",
	}, nil
}

// Logout revokes the session behind one refresh token
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.RevokeSession(ctx, refreshToken)
}

// LogoutAll revokes every session of the user
func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	return s.tokens.RevokeAllSessions(ctx, userID)
}

// ChangePassword replaces the password after checking the current one and
// signs the user out everywhere
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if err := checkPassword(next); err != nil {
		return err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(user.PasswordHash, current); err != nil {
		return errWrongPassword
	}

	return s.setPassword(ctx, user, next)
}

// VerifyEmail redeems an email verification token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.tokens.ConsumeOneTime(ctx, token, tokens.PurposeEmailVerify)
	if err != nil {
		return err
	}
	return s.users.MarkVerified(ctx, userID, s.now().UTC())
}

// RequestPasswordReset sends a reset token to known active users. It reports
// success for every input so callers cannot probe which emails exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil
	}

	user, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if !apperrors.IsKind(err, apperrors.KindNotFound) {
			s.logger.WithError(err).Warn("failed to look up user for password reset")
		}
		return nil
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.tokens.IssueOneTime(ctx, user.ID, tokens.PurposePasswordReset)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ExternalID).Warn("failed to issue password reset token")
		return nil
	}
	if err := s.notifier.SendPasswordReset(ctx, user, token); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ExternalID).Warn("failed to send password reset")
	}
	return nil
}

// ResetPassword redeems a reset token, stores the new password and revokes
// every session. The password is checked before the token is spent.
func (s *Service) ResetPassword(ctx context.Context, token, next string) (*auth.User, error) {
	if err := checkPassword(next); err != nil {
		return nil, err
	}

	userID, err := s.tokens.ConsumeOneTime(ctx, token, tokens.PurposePasswordReset)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil, errInvalidOneTime
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errInvalidOneTime
	}

	if err := s.setPassword(ctx, user, next); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) setPassword(ctx context.Context, user *auth.User, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return apperrors.Internal(err, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().UTC()); err != nil {
		return err
	}

	n, err := s.tokens.RevokeAllSessions(ctx, user.ID)
	if err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id":          user.ExternalID,
		"revoked_sessions": n,
	}).Info("password changed, sessions revoked")
	return nil
}

func checkPassword(password string) error {
	if len(password) < auth.MinPasswordLength {
		return apperrors.Validation("password must be at least %d characters", auth.MinPasswordLength)
	}
	if len(password) > auth.MaxPasswordLength {
		return apperrors.Validation("password must be at most %d bytes", auth.MaxPasswordLength)
	}
	return nil
}

package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

const invitationColumns = `id, external_id, email, organization_id, role_id, status, invited_by, expires_at, accepted_at, accepted_by, created_at, updated_at`

var (
	errInvalidInvitation   = apperrors.Validation("invalid invitation")
	errInvitationUsed      = apperrors.Validation("invitation has already been used")
	errInvitationCancelled = apperrors.Validation("invitation was cancelled")
	errInvitationExpired   = apperrors.Validation("invitation has expired")
)

// RoleGetter loads a role by id
type RoleGetter interface {
	GetRole(ctx context.Context, id int64) (*rbac.Role, error)
}

// InvitationService runs the invitation state machine. Expiry is always
// re-derived from the clock; a stored PENDING status alone never makes an
// invitation usable.
type InvitationService struct {
	db        *sql.DB
	orgs      *Store
	roles     RoleGetter
	notifier  Notifier
	ttl       time.Duration
	enabled   bool
	acceptURL string
	now       func() time.Time
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// InvitationOption configures an InvitationService
type InvitationOption func(*InvitationService)

// WithInvitationTTL sets how long a fresh or resent invitation stays valid
func WithInvitationTTL(ttl time.Duration) InvitationOption {
	return func(s *InvitationService) { s.ttl = ttl }
}

// WithInvitationsEnabled turns invitation creation on or off globally
func WithInvitationsEnabled(enabled bool) InvitationOption {
	return func(s *InvitationService) { s.enabled = enabled }
}

// WithAcceptURL sets the base URL invitation links point at
func WithAcceptURL(base string) InvitationOption {
	return func(s *InvitationService) { s.acceptURL = base }
}

// WithNotifier sets the invitation delivery channel
func WithNotifier(n Notifier) InvitationOption {
	return func(s *InvitationService) { s.notifier = n }
}

// WithInvitationClock overrides the time source
func WithInvitationClock(now func() time.Time) InvitationOption {
	return func(s *InvitationService) { s.now = now }
}

// WithInvitationLogger sets the logger
func WithInvitationLogger(l *observability.Logger) InvitationOption {
	return func(s *InvitationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInvitationMetrics sets the metrics sink
func WithInvitationMetrics(m *observability.Metrics) InvitationOption {
	return func(s *InvitationService) { s.metrics = m }
}

// NewInvitationService creates an invitation service
func NewInvitationService(db *sql.DB, orgs *Store, roles RoleGetter, opts ...InvitationOption) *InvitationService {
	s := &InvitationService{
		db:      db,
		orgs:    orgs,
		roles:   roles,
		ttl:     tokens.DefaultInvitationTTL,
		enabled: true,
		now:     time.Now,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// Create invites email into orgID with roleID. At most one PENDING
// invitation exists per (email, organization).
func (s *InvitationService) Create(ctx context.Context, inviter *auth.Principal, orgID int64, req CreateInvitationRequest) (*IssuedInvitation, error) {
	if !s.enabled {
		return nil, apperrors.Forbidden("invitations are disabled")
	}
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, apperrors.NotFound("organization %d not found", orgID)
	}
	if !org.ConfigBool(ConfigInvitationsEnabled, true) {
		return nil, apperrors.Forbidden("invitations are disabled for this organization")
	}

	role, err := s.roles.GetRole(ctx, req.RoleID)
	if apperrors.IsKind(err, apperrors.KindNotFound) || (err == nil && !role.VisibleTo(orgID)) {
		return nil, apperrors.Validation("role %d does not exist", req.RoleID)
	}
	if err != nil {
		return nil, err
	}
	if !inviter.Level().CanGrant(role.Level) {
		return nil, apperrors.Forbidden("cannot invite with a role above your own level")
	}

	member, err := s.orgs.HasActiveMemberWithEmail(ctx, orgID, email)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, apperrors.Conflict("%s is already a member of this organization", email)
	}

	token, err := tokens.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv := &Invitation{
		ExternalID:     uuid.NewString(),
		Email:          email,
		OrganizationID: orgID,
		RoleID:         role.ID,
		Status:         StatusPending,
		InvitedBy:      inviter.UserID(),
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.insert(ctx, inv, token, now); err != nil {
		return nil, err
	}
	s.metrics.Invitation("created")

	issued := s.issue(inv, token)
	s.notify(ctx, inv, org, issued.AcceptURL)
	return issued, nil
}

// insert expires any stale PENDING row for the pair and writes the new one.
// A live PENDING row trips the partial unique index.
func (s *InvitationService) insert(ctx context.Context, inv *Invitation, token string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE invitations SET status = 'EXPIRED', updated_at = $3
		WHERE organization_id = $1 AND lower(email) = $2 AND status = 'PENDING' AND expires_at <= $3
	`, inv.OrganizationID, inv.Email, now)
	if err != nil {
		return fmt.Errorf("failed to expire stale invitations: %w", err)
	}
	expired, _ := res.RowsAffected()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invitations (external_id, email, organization_id, role_id, token_hash, status, invited_by, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`, inv.ExternalID, inv.Email, inv.OrganizationID, inv.RoleID, tokens.HashToken(token),
		string(inv.Status), inv.InvitedBy, inv.ExpiresAt, now).Scan(&inv.ID)
	if err != nil {
		return apperrors.FromPQ(err, fmt.Sprintf("a pending invitation already exists for %s", inv.Email), "create invitation")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invitation: %w", err)
	}
	s.countExpired(expired)
	return nil
}

// List returns the organization's outstanding invitations. PENDING rows past
// their expiry are moved to EXPIRED first and left out.
func (s *InvitationService) List(ctx context.Context, orgID int64) ([]*Invitation, error) {
	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status = 'EXPIRED', updated_at = $2
		WHERE organization_id = $1 AND status = 'PENDING' AND expires_at <= $2
	`, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired invitations: %w", err)
	}
	expired, _ := res.RowsAffected()
	s.countExpired(expired)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE organization_id = $1 AND status = 'PENDING' AND expires_at > $2
		ORDER BY created_at DESC
	`, orgID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// Validate checks a token without consuming it. Failures name the cause.
func (s *InvitationService) Validate(ctx context.Context, token string) (*InvitationDetails, error) {
	if token == "" {
		return nil, errInvalidInvitation
	}

	var (
		id      int64
		status  string
		details InvitationDetails
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.external_id, i.email, i.status, i.expires_at, o.name, r.name
		FROM invitations i
		JOIN organizations o ON o.id = i.organization_id
		JOIN roles r ON r.id = i.role_id
		WHERE i.token_hash = $1
	`, tokens.HashToken(token)).Scan(&id, &details.ExternalID, &details.Email, &status,
		&details.ExpiresAt, &details.OrganizationName, &details.RoleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errInvalidInvitation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	if err := statusError(InvitationStatus(status)); err != nil {
		return nil, err
	}
	if !s.now().Before(details.ExpiresAt) {
		if err := s.expire(ctx, s.db, id); err != nil {
			return nil, err
		}
		return nil, errInvitationExpired
	}
	return &details, nil
}

// Cancel moves a PENDING invitation of orgID to CANCELLED
func (s *InvitationService) Cancel(ctx context.Context, orgID, id int64) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status = 'CANCELLED', updated_at = $3
		WHERE id = $1 AND organization_id = $2 AND status = 'PENDING' AND expires_at > $3
	`, id, orgID, now)
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		s.metrics.Invitation("cancelled")
		return nil
	}
	return s.explainMiss(ctx, orgID, id)
}

// Resend mints a new token and restarts the expiry window. The invitation
// keeps its identity and the previous token stops validating.
func (s *InvitationService) Resend(ctx context.Context, orgID, id int64) (*IssuedInvitation, error) {
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	token, err := tokens.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	inv, err := scanInvitation(s.db.QueryRowContext(ctx, `
		UPDATE invitations SET token_hash = $3, expires_at = $4, updated_at = $5
		WHERE id = $1 AND organization_id = $2 AND status = 'PENDING' AND expires_at > $5
		RETURNING `+invitationColumns,
		id, orgID, tokens.HashToken(token), now.Add(s.ttl), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, orgID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resend invitation: %w", err)
	}
	s.metrics.Invitation("resent")

	issued := s.issue(inv, token)
	s.notify(ctx, inv, org, issued.AcceptURL)
	return issued, nil
}

// Accept turns a PENDING invitation into an active membership for user. The
// user's email must match the invitation.
func (s *InvitationService) Accept(ctx context.Context, token string, user *auth.User) (*auth.Membership, error) {
	if token == "" {
		return nil, errInvalidInvitation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := scanInvitation(tx.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1 FOR UPDATE`,
		tokens.HashToken(token)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errInvalidInvitation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	if err := statusError(inv.Status); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if inv.Expired(now) {
		if err := s.expire(ctx, tx, inv.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit invitation expiry: %w", err)
		}
		return nil, errInvitationExpired
	}
	if !strings.EqualFold(inv.Email, user.Email) {
		return nil, apperrors.Forbidden("invitation was sent to a different email address")
	}

	membership := &auth.Membership{
		UserID:         user.ID,
		OrganizationID: inv.OrganizationID,
		RoleID:         inv.RoleID,
		IsActive:       true,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO memberships (user_id, organization_id, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, true, $4, $4)
		ON CONFLICT (user_id, organization_id) DO UPDATE
		SET role_id = EXCLUDED.role_id, is_active = true, updated_at = EXCLUDED.updated_at
		WHERE memberships.is_active = false
		RETURNING id, created_at
	`, user.ID, inv.OrganizationID, inv.RoleID, now).Scan(&membership.ID, &membership.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Conflict("already a member of this organization")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE invitations SET status = 'ACCEPTED', accepted_at = $2, accepted_by = $3, updated_at = $2
		WHERE id = $1
	`, inv.ID, now, user.ID); err != nil {
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation: %w", err)
	}
	s.metrics.Invitation("accepted")
	return membership, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *InvitationService) expire(ctx context.Context, db execer, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE invitations SET status = 'EXPIRED', updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to expire invitation: %w", err)
	}
	n, _ := res.RowsAffected()
	s.countExpired(n)
	return nil
}

// explainMiss reports why a PENDING-only update touched nothing
func (s *InvitationService) explainMiss(ctx context.Context, orgID, id int64) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM invitations WHERE id = $1 AND organization_id = $2`, id, orgID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("invitation %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get invitation: %w", err)
	}

	if InvitationStatus(status) == StatusPending {
		if err := s.expire(ctx, s.db, id); err != nil {
			return err
		}
		status = string(StatusExpired)
	}
	return apperrors.Conflict("invitation is %s", strings.ToLower(status))
}

func (s *InvitationService) issue(inv *Invitation, token string) *IssuedInvitation {
	link := s.acceptURL
	if link != "" {
		sep := "?"
		if strings.Contains(link, "?") {
			sep = "&"
		}
		link += sep + "token=" + url.QueryEscape(token)
	}
	return &IssuedInvitation{Invitation: inv, Token: token, AcceptURL: link}
}

func (s *InvitationService) notify(ctx context.Context, inv *Invitation, org *auth.Organization, link string) {
	if err := s.notifier.SendInvitation(ctx, inv, org, link); err != nil {
		s.logger.WithError(err).WithField("invitation_id", inv.ExternalID).Warn("failed to deliver invitation")
	}
}

func (s *InvitationService) countExpired(n int64) {
	for i := int64(0); i < n; i++ {
		s.metrics.Invitation("expired")
	}
}

func statusError(status InvitationStatus) error {
	switch status {
	case StatusPending:
		return nil
	case StatusAccepted:
		return errInvitationUsed
	case StatusCancelled:
		return errInvitationCancelled
	case StatusExpired:
		return errInvitationExpired
	}
	return errInvalidInvitation
}

func scanInvitation(row scanner) (*Invitation, error) {
	var (
		inv        Invitation
		status     string
		acceptedAt sql.NullTime
		acceptedBy sql.NullInt64
	)
	err := row.Scan(&inv.ID, &inv.ExternalID, &inv.Email, &inv.OrganizationID, &inv.RoleID, &status,
		&inv.InvitedBy, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = InvitationStatus(status)
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.Int64
	}
	return &inv, nil
}

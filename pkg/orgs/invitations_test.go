package orgs

import (
	"context"
	"database/sql/driver"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	orgCols        = []string{"id", "external_id", "slug", "name", "is_platform_organization", "config", "is_active", "created_at", "updated_at"}
	invitationCols = []string{"id", "external_id", "email", "organization_id", "role_id", "status", "invited_by", "expires_at", "accepted_at", "accepted_by", "created_at", "updated_at"}
)

const (
	qGetOrg         = "FROM organizations WHERE id = $1"
	qMemberExists   = "WHERE m.organization_id = $1 AND lower(u.email) = lower($2) AND m.is_active = true"
	qSweepPair      = "WHERE organization_id = $1 AND lower(email) = $2 AND status = 'PENDING' AND expires_at <= $3"
	qInsertInvite   = "INSERT INTO invitations"
	qCancel         = "UPDATE invitations SET status = 'CANCELLED'"
	qResend         = "UPDATE invitations SET token_hash = $3, expires_at = $4, updated_at = $5"
	qInviteStatus   = "SELECT status FROM invitations WHERE id = $1 AND organization_id = $2"
	qExpireOne      = "WHERE id = $1 AND status = 'PENDING'"
	qValidate       = "WHERE i.token_hash = $1"
	qLockInvite     = "FROM invitations WHERE token_hash = $1 FOR UPDATE"
	qUpsertMember   = "INSERT INTO memberships"
	qMarkAccepted   = "UPDATE invitations SET status = 'ACCEPTED'"
	qSweepOrg       = "WHERE organization_id = $1 AND status = 'PENDING' AND expires_at <= $2"
	qListPending    = "WHERE organization_id = $1 AND status = 'PENDING' AND expires_at > $2"
	memberRoleID    = int64(4)
	adminRoleID     = int64(2)
	ownerRoleID     = int64(1)
	foreignRoleID   = int64(9)
	testOrgID       = int64(3)
	testInviterID   = int64(7)
	testInviteEmail = "a@x.com"
)

type stubRoles map[int64]*rbac.Role

func (s stubRoles) GetRole(_ context.Context, id int64) (*rbac.Role, error) {
	role, ok := s[id]
	if !ok {
		return nil, apperrors.NotFound("role %d not found", id)
	}
	return role, nil
}

func testRoles() stubRoles {
	other := int64(99)
	return stubRoles{
		ownerRoleID:   {ID: ownerRoleID, Slug: "owner", Level: auth.LevelOwner, Scope: rbac.ScopePlatform},
		adminRoleID:   {ID: adminRoleID, Slug: "org_admin", Level: auth.LevelOrgAdmin, Scope: rbac.ScopePlatform},
		memberRoleID:  {ID: memberRoleID, Slug: "member", Level: auth.LevelMember, Scope: rbac.ScopePlatform},
		foreignRoleID: {ID: foreignRoleID, Slug: "custom", Level: auth.LevelMember, Scope: rbac.ScopeOrganization, OrganizationID: &other},
	}
}

type recordingNotifier struct {
	links []string
}

func (n *recordingNotifier) SendInvitation(_ context.Context, _ *Invitation, _ *auth.Organization, link string) error {
	n.links = append(n.links, link)
	return nil
}

type captureString struct {
	dst *string
}

func (c captureString) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.dst = s
	}
	return ok
}

func newTestInvitations(t *testing.T, opts ...InvitationOption) (*InvitationService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]InvitationOption{
		WithInvitationClock(func() time.Time { return testNow }),
		WithAcceptURL("https://app.test/invite"),
	}, opts...)
	return NewInvitationService(db, NewStore(db), testRoles(), opts...), mock
}

func inviter(level auth.Level) *auth.Principal {
	return &auth.Principal{
		Method:       auth.MethodBearer,
		User:         &auth.User{ID: testInviterID, Email: "admin@x.com"},
		Organization: &auth.Organization{ID: testOrgID},
		Role:         &auth.RoleRef{ID: adminRoleID, Slug: "org_admin", Level: level},
	}
}

func orgRows(config string) *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).
		AddRow(testOrgID, "ext-org", "acme", "Acme", false, []byte(config), true, testNow, testNow)
}

func invitationRows(id int64, email string, status InvitationStatus, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(invitationCols).
		AddRow(id, "ext-inv", email, testOrgID, memberRoleID, string(status), testInviterID, expiresAt, nil, nil, testNow, testNow)
}

func expectCreate(mock sqlmock.Sqlmock, insertErr error, id int64) {
	mock.ExpectQuery(regexp.QuoteMeta(qGetOrg)).WillReturnRows(orgRows(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta(qMemberExists)).WithArgs(testOrgID, testInviteEmail).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qSweepPair)).WillReturnResult(sqlmock.NewResult(0, 0))
	if insertErr != nil {
		mock.ExpectQuery(regexp.QuoteMeta(qInsertInvite)).WillReturnError(insertErr)
		mock.ExpectRollback()
		return
	}
	mock.ExpectQuery(regexp.QuoteMeta(qInsertInvite)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectCommit()
}

func TestInvitationService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a token and notifies", func(t *testing.T) {
		notifier := &recordingNotifier{}
		svc, mock := newTestInvitations(t, WithNotifier(notifier))
		expectCreate(mock, nil, 11)

		issued, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
			CreateInvitationRequest{Email: " A@x.com", RoleID: memberRoleID})
		require.NoError(t, err)

		assert.Equal(t, int64(11), issued.ID)
		assert.Equal(t, testInviteEmail, issued.Email)
		assert.Equal(t, StatusPending, issued.Status)
		assert.Equal(t, testNow.Add(tokens.DefaultInvitationTTL), issued.ExpiresAt)
		assert.NotEmpty(t, issued.Token)
		assert.Equal(t, "https://app.test/invite?token="+url.QueryEscape(issued.Token), issued.AcceptURL)
		assert.Equal(t, []string{issued.AcceptURL}, notifier.links)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate pending conflicts until the first is cancelled", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		req := CreateInvitationRequest{Email: testInviteEmail, RoleID: memberRoleID}

		expectCreate(mock, nil, 11)
		first, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID, req)
		require.NoError(t, err)

		expectCreate(mock, &pq.Error{Code: "23505"}, 0)
		_, err = svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID, req)
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

		mock.ExpectExec(regexp.QuoteMeta(qCancel)).WithArgs(first.ID, testOrgID, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, svc.Cancel(ctx, testOrgID, first.ID))

		expectCreate(mock, nil, 12)
		second, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID, req)
		require.NoError(t, err)
		assert.Equal(t, int64(12), second.ID)
		assert.NotEqual(t, first.Token, second.Token)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled globally", func(t *testing.T) {
		svc, _ := newTestInvitations(t, WithInvitationsEnabled(false))
		_, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
			CreateInvitationRequest{Email: testInviteEmail, RoleID: memberRoleID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("disabled for the organization", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetOrg)).WillReturnRows(orgRows(`{"invitationsEnabled":false}`))

		_, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
			CreateInvitationRequest{Email: testInviteEmail, RoleID: memberRoleID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		svc, _ := newTestInvitations(t)
		for _, email := range []string{"", "not-an-email", "Bob <bob@x.com>"} {
			_, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
				CreateInvitationRequest{Email: email, RoleID: memberRoleID})
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), email)
		}
	})

	t.Run("role above the inviter", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetOrg)).WillReturnRows(orgRows(`{}`))

		_, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
			CreateInvitationRequest{Email: testInviteEmail, RoleID: ownerRoleID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("role of another organization", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetOrg)).WillReturnRows(orgRows(`{}`))

		_, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
			CreateInvitationRequest{Email: testInviteEmail, RoleID: foreignRoleID})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})

	t.Run("existing member", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetOrg)).WillReturnRows(orgRows(`{}`))
		mock.ExpectQuery(regexp.QuoteMeta(qMemberExists)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := svc.Create(ctx, inviter(auth.LevelOrgAdmin), testOrgID,
			CreateInvitationRequest{Email: testInviteEmail, RoleID: memberRoleID})
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	})
}

func TestInvitationService_ResendInvalidatesOldToken(t *testing.T) {
	ctx := context.Background()
	svc, mock := newTestInvitations(t)

	oldToken := "old-token"
	var newHash string
	mock.ExpectQuery(regexp.QuoteMeta(qGetOrg)).WillReturnRows(orgRows(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta(qResend)).
		WithArgs(int64(5), testOrgID, captureString{&newHash}, testNow.Add(tokens.DefaultInvitationTTL), testNow).
		WillReturnRows(invitationRows(5, testInviteEmail, StatusPending, testNow.Add(tokens.DefaultInvitationTTL)))

	issued, err := svc.Resend(ctx, testOrgID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), issued.ID)
	assert.Equal(t, "ext-inv", issued.ExternalID)
	assert.Equal(t, testInviteEmail, issued.Email)
	assert.Equal(t, tokens.HashToken(issued.Token), newHash)
	assert.NotEqual(t, tokens.HashToken(oldToken), newHash)

	mock.ExpectQuery(regexp.QuoteMeta(qValidate)).WithArgs(tokens.HashToken(oldToken)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "email", "status", "expires_at", "name", "name"}))
	_, err = svc.Validate(ctx, oldToken)
	assert.ErrorIs(t, err, errInvalidInvitation)

	mock.ExpectQuery(regexp.QuoteMeta(qValidate)).WithArgs(newHash).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "email", "status", "expires_at", "name", "name"}).
			AddRow(5, "ext-inv", testInviteEmail, "PENDING", issued.ExpiresAt, "Acme", "Member"))
	details, err := svc.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "Acme", details.OrganizationName)
	assert.Equal(t, "Member", details.RoleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationService_Validate(t *testing.T) {
	ctx := context.Background()
	cols := []string{"id", "external_id", "email", "status", "expires_at", "name", "name"}

	tests := []struct {
		name    string
		status  string
		expires time.Time
		want    error
	}{
		{"accepted", "ACCEPTED", testNow.Add(time.Hour), errInvitationUsed},
		{"cancelled", "CANCELLED", testNow.Add(time.Hour), errInvitationCancelled},
		{"already expired", "EXPIRED", testNow.Add(-time.Hour), errInvitationExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newTestInvitations(t)
			mock.ExpectQuery(regexp.QuoteMeta(qValidate)).
				WillReturnRows(sqlmock.NewRows(cols).AddRow(5, "ext", testInviteEmail, tt.status, tt.expires, "Acme", "Member"))

			_, err := svc.Validate(ctx, "tok")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("pending past expiry is marked expired", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectQuery(regexp.QuoteMeta(qValidate)).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(5, "ext", testInviteEmail, "PENDING", testNow, "Acme", "Member"))
		mock.ExpectExec(regexp.QuoteMeta(qExpireOne)).WithArgs(int64(5), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.Validate(ctx, "tok")
		assert.ErrorIs(t, err, errInvitationExpired)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty token", func(t *testing.T) {
		svc, _ := newTestInvitations(t)
		_, err := svc.Validate(ctx, "")
		assert.ErrorIs(t, err, errInvalidInvitation)
	})
}

func TestInvitationService_CancelMisses(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown or other organization", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectExec(regexp.QuoteMeta(qCancel)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(qInviteStatus)).WithArgs(int64(5), testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		err := svc.Cancel(ctx, testOrgID, 5)
		assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	})

	t.Run("terminal row", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectExec(regexp.QuoteMeta(qCancel)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(qInviteStatus)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ACCEPTED"))

		err := svc.Cancel(ctx, testOrgID, 5)
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
		assert.Contains(t, err.Error(), "accepted")
	})

	t.Run("pending but expired", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectExec(regexp.QuoteMeta(qCancel)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(qInviteStatus)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PENDING"))
		mock.ExpectExec(regexp.QuoteMeta(qExpireOne)).WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.Cancel(ctx, testOrgID, 5)
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
		assert.Contains(t, err.Error(), "expired")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvitationService_Accept(t *testing.T) {
	ctx := context.Background()
	user := &auth.User{ID: 21, Email: "A@X.com"}
	valid := testNow.Add(time.Hour)

	t.Run("creates membership and marks accepted", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(qLockInvite)).WithArgs(tokens.HashToken("tok")).
			WillReturnRows(invitationRows(5, testInviteEmail, StatusPending, valid))
		mock.ExpectQuery(regexp.QuoteMeta(qUpsertMember)).WithArgs(user.ID, testOrgID, memberRoleID, testNow).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(40, testNow))
		mock.ExpectExec(regexp.QuoteMeta(qMarkAccepted)).WithArgs(int64(5), testNow, user.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		m, err := svc.Accept(ctx, "tok", user)
		require.NoError(t, err)
		assert.Equal(t, int64(40), m.ID)
		assert.Equal(t, testOrgID, m.OrganizationID)
		assert.Equal(t, memberRoleID, m.RoleID)
		assert.True(t, m.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired is persisted and refused", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(qLockInvite)).
			WillReturnRows(invitationRows(5, testInviteEmail, StatusPending, testNow))
		mock.ExpectExec(regexp.QuoteMeta(qExpireOne)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := svc.Accept(ctx, "tok", user)
		assert.ErrorIs(t, err, errInvitationExpired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("different email", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(qLockInvite)).
			WillReturnRows(invitationRows(5, "someone@else.com", StatusPending, valid))
		mock.ExpectRollback()

		_, err := svc.Accept(ctx, "tok", user)
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already an active member", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(qLockInvite)).
			WillReturnRows(invitationRows(5, testInviteEmail, StatusPending, valid))
		mock.ExpectQuery(regexp.QuoteMeta(qUpsertMember)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
		mock.ExpectRollback()

		_, err := svc.Accept(ctx, "tok", user)
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	})

	t.Run("used token", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(qLockInvite)).
			WillReturnRows(invitationRows(5, testInviteEmail, StatusAccepted, valid))
		mock.ExpectRollback()

		_, err := svc.Accept(ctx, "tok", user)
		assert.ErrorIs(t, err, errInvitationUsed)
	})

	t.Run("unknown token", func(t *testing.T) {
		svc, mock := newTestInvitations(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(qLockInvite)).WillReturnRows(sqlmock.NewRows(invitationCols))
		mock.ExpectRollback()

		_, err := svc.Accept(ctx, "tok", user)
		assert.ErrorIs(t, err, errInvalidInvitation)
	})
}

func TestInvitationService_ListSweepsExpired(t *testing.T) {
	svc, mock := newTestInvitations(t)
	mock.ExpectExec(regexp.QuoteMeta(qSweepOrg)).WithArgs(testOrgID, testNow).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta(qListPending)).WithArgs(testOrgID, testNow).
		WillReturnRows(invitationRows(5, testInviteEmail, StatusPending, testNow.Add(time.Hour)))

	list, err := svc.List(context.Background(), testOrgID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusPending, list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusAccepted))
	assert.True(t, CanTransition(StatusPending, StatusExpired))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	for _, s := range []InvitationStatus{StatusAccepted, StatusExpired, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, CanTransition(s, StatusPending), s)
	}
	assert.False(t, StatusPending.Terminal())
}

package orgs

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

var membershipCols = []string{"id", "user_id", "organization_id", "role_id", "slug", "level", "is_active", "created_at"}

const (
	qGetMembership = "WHERE m.user_id = $1 AND m.organization_id = $2 AND m.is_active = true"
	qUpdateMember  = "UPDATE memberships SET role_id = $3, updated_at = $4"
	qDeactivate    = "UPDATE memberships SET is_active = false, updated_at = $3"
	qInsertOrg     = "INSERT INTO organizations"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewService(NewStore(db), testRoles())
	svc.now = func() time.Time { return testNow }
	return svc, mock
}

func membershipRows(userID int64, slug string, level auth.Level) *sqlmock.Rows {
	return sqlmock.NewRows(membershipCols).AddRow(30, userID, testOrgID, 1, slug, int64(level), true, testNow)
}

func TestService_UpdateMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("moves a lower member", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetMembership)).WithArgs(int64(21), testOrgID).
			WillReturnRows(membershipRows(21, "viewer", auth.LevelViewer))
		mock.ExpectExec(regexp.QuoteMeta(qUpdateMember)).WithArgs(testOrgID, int64(21), memberRoleID, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		m, err := svc.UpdateMemberRole(ctx, inviter(auth.LevelOrgAdmin), testOrgID, 21, UpdateMemberRequest{RoleID: memberRoleID})
		require.NoError(t, err)
		assert.Equal(t, memberRoleID, m.RoleID)
		assert.Equal(t, "member", m.RoleSlug)
		assert.Equal(t, auth.LevelMember, m.RoleLevel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member above the actor", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetMembership)).
			WillReturnRows(membershipRows(21, "owner", auth.LevelOwner))

		_, err := svc.UpdateMemberRole(ctx, inviter(auth.LevelOrgAdmin), testOrgID, 21, UpdateMemberRequest{RoleID: memberRoleID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("target role above the actor", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetMembership)).
			WillReturnRows(membershipRows(21, "member", auth.LevelMember))

		_, err := svc.UpdateMemberRole(ctx, inviter(auth.LevelOrgAdmin), testOrgID, 21, UpdateMemberRequest{RoleID: ownerRoleID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("own role", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.UpdateMemberRole(ctx, inviter(auth.LevelOrgAdmin), testOrgID, testInviterID, UpdateMemberRequest{RoleID: memberRoleID})
		assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))
	})

	t.Run("role of another organization", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetMembership)).
			WillReturnRows(membershipRows(21, "member", auth.LevelMember))

		_, err := svc.UpdateMemberRole(ctx, inviter(auth.LevelOrgAdmin), testOrgID, 21, UpdateMemberRequest{RoleID: foreignRoleID})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestService_RemoveMember(t *testing.T) {
	ctx := context.Background()

	t.Run("deactivates", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetMembership)).
			WillReturnRows(membershipRows(21, "member", auth.LevelMember))
		mock.ExpectExec(regexp.QuoteMeta(qDeactivate)).WithArgs(testOrgID, int64(21), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.RemoveMember(ctx, inviter(auth.LevelOrgAdmin), testOrgID, 21))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not a member", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qGetMembership)).WillReturnRows(sqlmock.NewRows(membershipCols))

		err := svc.RemoveMember(ctx, inviter(auth.LevelOrgAdmin), testOrgID, 21)
		assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	})

	t.Run("self", func(t *testing.T) {
		svc, _ := newTestService(t)
		err := svc.RemoveMember(ctx, inviter(auth.LevelOrgAdmin), testOrgID, testInviterID)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestService_CreateOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("derives slug", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qInsertOrg)).
			WithArgs(sqlmock.AnyArg(), "acme-corp", "Acme Corp", false, []byte(`{}`), true).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(8, testNow, testNow))

		org, err := svc.CreateOrganization(ctx, CreateOrgRequest{Name: " Acme Corp! "})
		require.NoError(t, err)
		assert.Equal(t, int64(8), org.ID)
		assert.Equal(t, "acme-corp", org.Slug)
		assert.NotEmpty(t, org.ExternalID)
	})

	t.Run("duplicate slug", func(t *testing.T) {
		svc, mock := newTestService(t)
		mock.ExpectQuery(regexp.QuoteMeta(qInsertOrg)).WillReturnError(&pq.Error{Code: "23505"})

		_, err := svc.CreateOrganization(ctx, CreateOrgRequest{Name: "Acme", Slug: "acme"})
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	})

	t.Run("malformed slug never reaches the database", func(t *testing.T) {
		svc, mock := newTestService(t)
		for _, slug := range []string{"acme corp", "acme/../x", "-acme", strings.Repeat("a", auth.MaxOrgSlugLength+1)} {
			_, err := svc.CreateOrganization(ctx, CreateOrgRequest{Name: "Acme", Slug: slug})
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), slug)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("name required", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.CreateOrganization(ctx, CreateOrgRequest{Name: "  "})
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	})
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Acme", "acme"},
		{"My Cool Org", "my-cool-org"},
		{"  Spaces  ", "spaces"},
		{"Émigré & Co.", "migr--co"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generateSlug(tt.name), tt.name)
	}
}

package audit

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

func TestRecorder_PersistsThroughAuditLogger(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(auth.ActionRoleCreate, auth.StatusSuccess, int64(4), int64(9), "role", "12", nil, nil, "req-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorder := NewRecorder(store, observability.NopLogger())
	al := auth.NewAuditLogger(observability.NopLogger(), recorder)

	ctx := contextkeys.WithRequestID(context.Background(), "req-9")
	require.NoError(t, al.Log(ctx, auth.AuditEvent{
		Action:         auth.ActionRoleCreate,
		Status:         auth.StatusSuccess,
		UserID:         4,
		OrganizationID: 9,
		ResourceType:   "role",
		ResourceID:     "12",
	}))

	recorder.Wait()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_WriteFailureIsLogged(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).WillReturnError(errors.New("disk full"))

	var buf bytes.Buffer
	recorder := NewRecorder(store, observability.NewLogger(observability.DebugLevel, &buf))

	recorder.Record(context.Background(), auth.AuditEvent{Action: auth.ActionLogout, Status: auth.StatusSuccess})
	recorder.Wait()

	assert.Contains(t, buf.String(), "background task failed")
	assert.Contains(t, buf.String(), "disk full")
}

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Audit action names
const (
	ActionLoginSuccess      = "auth.login.success"
	ActionLoginFailure      = "auth.login.failure"
	ActionLogout            = "auth.logout"
	ActionRegister          = "auth.register"
	ActionEmailVerify       = "auth.email.verify"
	ActionPasswordChange    = "auth.password.change"
	ActionPasswordReset     = "auth.password.reset"
	ActionSSOLogin          = "auth.sso.login"
	ActionAPIKeyCreate      = "apikey.create"
	ActionAPIKeyRevoke      = "apikey.revoke"
	ActionRoleCreate        = "role.create"
	ActionRoleUpdate        = "role.update"
	ActionPermissionReplace = "role.permissions.replace"
	ActionFlagUpdate        = "flag.update"
	ActionInviteCreate      = "invitation.create"
	ActionInviteAccept      = "invitation.accept"
	ActionInviteCancel      = "invitation.cancel"
	ActionInviteResend      = "invitation.resend"
	ActionMemberUpdate      = "member.update"
	ActionMemberRemove      = "member.remove"
	ActionOrgCreate         = "organization.create"
)

// Audit status values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// AuditEvent is a single security-relevant event
type AuditEvent struct {
	Action         string
	Status         string
	UserID         int64
	OrganizationID int64
	ResourceType   string
	ResourceID     string
	IPAddress      string
	Reason         string
	Timestamp      time.Time
}

// AuditSink receives every event the AuditLogger accepts. Record must not block.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditLogger writes security events as structured log lines and forwards
// them to any configured sinks
type AuditLogger struct {
	logger *observability.Logger
	sinks  []AuditSink
}

// NewAuditLogger creates an audit logger on top of the given logger
func NewAuditLogger(logger *observability.Logger, sinks ...AuditSink) *AuditLogger {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AuditLogger{logger: logger.WithField("component", "audit"), sinks: sinks}
}

// Log records an event. Request-scoped fields from ctx are attached.
// A nil AuditLogger drops events.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}
	if event.Action == "" {
		return fmt.Errorf("action is required")
	}
	if event.Status == "" {
		return fmt.Errorf("status is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	fields := map[string]interface{}{
		"action":    event.Action,
		"status":    event.Status,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
	}
	if event.UserID != 0 {
		fields["user_id"] = event.UserID
	}
	if event.OrganizationID != 0 {
		fields["organization_id"] = event.OrganizationID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.IPAddress != "" {
		fields["ip_address"] = event.IPAddress
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}

	logger := al.logger
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	logger = logger.WithFields(fields)

	if event.Status == StatusSuccess {
		logger.Info("audit event")
	} else {
		logger.Warn("audit event")
	}

	for _, sink := range al.sinks {
		sink.Record(ctx, event)
	}
	return nil
}

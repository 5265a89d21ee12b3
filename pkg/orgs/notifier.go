package orgs

import (
	"context"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Notifier delivers invitation links to invitees
type Notifier interface {
	SendInvitation(ctx context.Context, inv *Invitation, org *auth.Organization, acceptURL string) error
}

// LogNotifier records that an invitation was sent without delivering it.
// The link carries the token and is never logged.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{logger: logger}
}

// SendInvitation logs the invitation id and organization
func (n *LogNotifier) SendInvitation(_ context.Context, inv *Invitation, org *auth.Organization, _ string) error {
	n.logger.WithFields(map[string]interface{}{
		"invitation_id":   inv.ExternalID,
		"organization_id": org.ID,
	}).Info("invitation ready for delivery")
	return nil
}

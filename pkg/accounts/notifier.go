package accounts

import (
	"context"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Notifier delivers account emails. Implementations receive the plaintext
// one-time token and must not log it.
type Notifier interface {
	SendVerification(ctx context.Context, user *auth.User, token string) error
	SendPasswordReset(ctx context.Context, user *auth.User, token string) error
}

// LogNotifier records that a message would have been sent
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

// SendVerification logs the user id
func (n *LogNotifier) SendVerification(_ context.Context, user *auth.User, _ string) error {
	n.logger.WithField("user_id", user.ExternalID).Info("email verification ready for delivery")
	return nil
}

// SendPasswordReset logs the user id
func (n *LogNotifier) SendPasswordReset(_ context.Context, user *auth.User, _ string) error {
	n.logger.WithField("user_id", user.ExternalID).Info("password reset ready for delivery")
	return nil
}

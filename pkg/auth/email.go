package auth

import (
	"net/mail"
	"strings"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
)

// NormalizeEmail accepts a bare address only (no display name) and returns it
// lowercased. Emails are compared in this form everywhere.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", apperrors.Validation("a valid email address is required")
	}
	return strings.ToLower(addr.Address), nil
}

package sso

import (
	"strings"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/auth"
)

// PlatformClaims are the identity claims the platform puts in its signed token
type PlatformClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	OrgSlug string `json:"org_slug"`
	OrgName string `json:"org_name"`
}

// Identity is a verified platform user
type Identity struct {
	Subject string
	Email   string
	Name    string
	OrgSlug string
	OrgName string
}

func (c PlatformClaims) identity(subject string) (*Identity, error) {
	id := &Identity{
		Subject: subject,
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
		Name:    strings.TrimSpace(c.Name),
		OrgSlug: strings.ToLower(strings.TrimSpace(c.OrgSlug)),
		OrgName: strings.TrimSpace(c.OrgName),
	}
	if id.Email == "" || !strings.Contains(id.Email, "@") {
		return nil, apperrors.Unauthenticated("platform token has no email")
	}
	if id.OrgSlug == "" {
		return nil, apperrors.Unauthenticated("platform token has no organization")
	}
	if !auth.ValidOrgSlug(id.OrgSlug) {
		return nil, apperrors.Unauthenticated("platform token has a malformed organization slug")
	}
	if id.OrgName == "" {
		id.OrgName = id.OrgSlug
	}
	return id, nil
}

// ExchangeRequest is the body of POST /sso/exchange
type ExchangeRequest struct {
	Code string `json:"code"`
}

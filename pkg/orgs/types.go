package orgs

import (
	"time"

	"github.com/platinummonkey/tenantry/pkg/auth"
)

// InvitationStatus is the state of an invitation. PENDING is the only
// non-terminal state.
type InvitationStatus string

const (
	StatusPending   InvitationStatus = "PENDING"
	StatusAccepted  InvitationStatus = "ACCEPTED"
	StatusExpired   InvitationStatus = "EXPIRED"
	StatusCancelled InvitationStatus = "CANCELLED"
)

// transitions lists the allowed moves out of each state
var transitions = map[InvitationStatus][]InvitationStatus{
	StatusPending: {StatusAccepted, StatusExpired, StatusCancelled},
}

// CanTransition reports whether an invitation may move from one state to another
func CanTransition(from, to InvitationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the state
func (s InvitationStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Invitation is an offer of membership in an organization
type Invitation struct {
	ID             int64            `json:"id"`
	ExternalID     string           `json:"external_id"`
	Email          string           `json:"email"`
	OrganizationID int64            `json:"organization_id"`
	RoleID         int64            `json:"role_id"`
	Status         InvitationStatus `json:"status"`
	InvitedBy      int64            `json:"invited_by"`
	ExpiresAt      time.Time        `json:"expires_at"`
	AcceptedAt     *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy     *int64           `json:"accepted_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Expired reports whether the invitation's window has passed at now
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IssuedInvitation carries the plaintext token. It is only returned by
// create and resend.
type IssuedInvitation struct {
	*Invitation
	Token     string `json:"token"`
	AcceptURL string `json:"accept_url"`
}

// InvitationDetails is what an unauthenticated invitee may see
type InvitationDetails struct {
	ExternalID       string    `json:"external_id"`
	Email            string    `json:"email"`
	OrganizationName string    `json:"organization_name"`
	RoleName         string    `json:"role_name"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CreateInvitationRequest is the body of an invitation request
type CreateInvitationRequest struct {
	Email  string `json:"email"`
	RoleID int64  `json:"role_id"`
}

// Member is a membership joined with its user
type Member struct {
	auth.Membership
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CreateOrgRequest is the body of an organization creation request
type CreateOrgRequest struct {
	Name   string                 `json:"name"`
	Slug   string                 `json:"slug,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// UpdateMemberRequest changes a member's role
type UpdateMemberRequest struct {
	RoleID int64 `json:"role_id"`
}

// ConfigInvitationsEnabled is the organization config key that turns
// invitations off for one organization.
const ConfigInvitationsEnabled = "invitationsEnabled"

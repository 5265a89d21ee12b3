// Package orgs manages organizations, memberships and invitations.
//
// # Invitations
//
// An invitation moves through a one-way state machine:
//
//	PENDING -> ACCEPTED | EXPIRED | CANCELLED
//
// All three targets are terminal. At most one PENDING invitation exists per
// (organization, email); a partial unique index enforces it. Tokens are
// random opaque strings stored as sha256 hashes and only returned in
// plaintext by create and resend.
//
// Expiry is decided from the clock on every read. A PENDING row whose
// expires_at has passed is moved to EXPIRED when it is next touched, so a
// lagging status never lets an expired invitation through.
//
// # Usage
//
//	svc := orgs.NewInvitationService(db, orgs.NewStore(db), rbac.NewStore(db),
//		orgs.WithInvitationTTL(72*time.Hour),
//		orgs.WithAcceptURL("https://app.example.com/invite"),
//	)
//
//	issued, err := svc.Create(ctx, principal, orgID, orgs.CreateInvitationRequest{
//		Email:  "new@example.com",
//		RoleID: memberRoleID,
//	})
//
//	membership, err := svc.Accept(ctx, token, user)
package orgs

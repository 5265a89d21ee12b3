package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	assert.False(t, LevelOwner.IsPlatformAdmin())
	assert.True(t, LevelPlatformAdmin.IsPlatformAdmin())
	assert.True(t, LevelSuperAdmin.IsPlatformAdmin())

	assert.True(t, LevelOrgAdmin.CanGrant(LevelMember))
	assert.True(t, LevelOrgAdmin.CanGrant(LevelOrgAdmin))
	assert.False(t, LevelOrgAdmin.CanGrant(LevelOwner))
}

func TestPermissionSet_DefaultsToFalse(t *testing.T) {
	ps := PermissionSet{
		"projects": {Read: true, Update: true},
	}

	assert.True(t, ps.Allows("projects", ActionRead))
	assert.True(t, ps.Allows("projects", ActionUpdate))
	assert.False(t, ps.Allows("projects", ActionCreate))
	assert.False(t, ps.Allows("projects", ActionDelete))

	for _, action := range []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
		assert.False(t, ps.Allows("billing", action), "unknown menu must deny %s", action)
	}

	var empty PermissionSet
	assert.False(t, empty.Allows("projects", ActionRead))
}

func TestAction_Valid(t *testing.T) {
	assert.True(t, ActionDelete.Valid())
	assert.False(t, Action("publish").Valid())
	assert.False(t, Actions{Create: true}.Allows(Action("publish")))
}

func TestPrincipal_CanActOn(t *testing.T) {
	member := &Principal{
		Method:       MethodBearer,
		User:         &User{ID: 1},
		Organization: &Organization{ID: 10},
		Role:         &RoleRef{ID: 3, Level: LevelOrgAdmin},
	}
	assert.True(t, member.CanActOn(10))
	assert.False(t, member.CanActOn(11))
	assert.False(t, member.IsPlatformAdmin())

	admin := &Principal{
		Method:       MethodAPIKey,
		User:         &User{ID: 2},
		Organization: &Organization{ID: 1},
		Role:         &RoleRef{ID: 1, Level: LevelPlatformAdmin},
	}
	assert.True(t, admin.CanActOn(11))
	assert.True(t, admin.IsPlatformAdmin())

	noOrg := &Principal{User: &User{ID: 3}}
	assert.False(t, noOrg.CanActOn(0))

	var nilPrincipal *Principal
	assert.False(t, nilPrincipal.CanActOn(10))
	assert.False(t, nilPrincipal.Can("projects", ActionRead))
	assert.Equal(t, int64(0), nilPrincipal.UserID())
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	p := &Principal{Method: MethodBearer, User: &User{ID: 7, ExternalID: "u-7"}}
	ctx = WithPrincipal(ctx, p)

	assert.Same(t, p, FromContext(ctx))
}

func TestOrganization_ConfigBool(t *testing.T) {
	org := &Organization{Config: map[string]interface{}{"invitationsEnabled": false, "other": "yes"}}

	assert.False(t, org.ConfigBool("invitationsEnabled", true))
	assert.True(t, org.ConfigBool("missing", true))
	assert.True(t, org.ConfigBool("other", true))

	var nilOrg *Organization
	assert.True(t, nilOrg.ConfigBool("invitationsEnabled", true))
}

package auth

// Level is a role's privilege rank. Higher levels dominate lower ones.
type Level int

// Named points on the level scale. Custom roles may use any value in between.
const (
	LevelViewer   Level = 10
	LevelMember   Level = 20
	LevelManager  Level = 40
	LevelOrgAdmin Level = 60
	LevelOwner    Level = 80

	// LevelPlatformAdmin is the minimum level with cross-tenant authority
	LevelPlatformAdmin Level = 90

	LevelSuperAdmin Level = 100
)

// IsPlatformAdmin reports whether the level meets the cross-tenant threshold
func (l Level) IsPlatformAdmin() bool {
	return l >= LevelPlatformAdmin
}

// CanGrant reports whether an actor at this level may create, edit or assign a
// role at the target level.
func (l Level) CanGrant(target Level) bool {
	return target <= l
}

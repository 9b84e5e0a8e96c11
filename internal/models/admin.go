package models

import "time"

// Role of an administrator
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleClubAdmin  Role = "club_admin"
)

// Feature is a named capability an administrator must have enabled.
type Feature string

const (
	FeatureTokens        Feature = "tokens"
	FeatureNotifications Feature = "notifications"
	FeatureAdminUsers    Feature = "admin_users"
	FeatureAuditLog      Feature = "audit_log"
)

// Administrator is a console user. Deactivation flips IsActive and never deletes
// the row, so history stays attributable.
type Administrator struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	ClubScope []string  `json:"clubScope" db:"club_scope"` // empty means unrestricted
	Features  []Feature `json:"features" db:"features"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasFeature reports whether f is enabled for the administrator.
func (a *Administrator) HasFeature(f Feature) bool {
	for _, enabled := range a.Features {
		if enabled == f {
			return true
		}
	}
	return false
}

// AsActor returns the identity recorded on audit entries.
func (a *Administrator) AsActor() Actor {
	return Actor{ID: a.ID, Email: a.Email, Name: a.Name}
}

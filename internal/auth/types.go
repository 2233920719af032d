package auth

import "time"

const (
	// RoleSuperAdmin grants unconditional access to every check.
	RoleSuperAdmin = "SUPER_ADMIN"
	// PermissionWildcard matches any permission name.
	PermissionWildcard = "*"
)

// User is the subject of every access decision.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Level        *int       `json:"level,omitempty"`
	Department   *string    `json:"department,omitempty"`
	Region       *string    `json:"region,omitempty"`
	Role         *Role      `json:"role,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RoleName returns the name of the user's role, or "" when none is assigned.
func (u *User) RoleName() string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.Name
}

// IsSuperAdmin reports whether the user holds the SUPER_ADMIN role.
func (u *User) IsSuperAdmin() bool {
	return u.RoleName() == RoleSuperAdmin
}

// LevelValue returns the numeric rank, treating a missing level as 0.
func (u *User) LevelValue() int {
	if u == nil || u.Level == nil {
		return 0
	}
	return *u.Level
}

// Role groups permissions. A user holds at most one role.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Grants reports whether the role carries name or the wildcard permission.
func (r *Role) Grants(name string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Permissions {
		if p.Name == name || p.Name == PermissionWildcard {
			return true
		}
	}
	return false
}

// Permission is a fine-grained capability.
type Permission struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

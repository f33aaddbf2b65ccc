package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is the closed set of account roles. Roles are persisted and carried in
// credentials by their lowercase name.
type Role string

const (
	RoleUser    Role = "user"
	RoleSupport Role = "support"
	RoleDev     Role = "dev"
	RoleAdmin   Role = "admin"
)

// Roles lists every valid role in ascending order of privilege.
var Roles = []Role{RoleUser, RoleSupport, RoleDev, RoleAdmin}

// ParseRole converts a role name into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSupport, RoleDev, RoleAdmin:
		return true
	}
	return false
}

// IsPrivileged reports whether the role bypasses entitlement checks entirely.
// Privileged subjects are always authorized with unbounded remaining time.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleDev
}

// IsStaff reports whether the role may read administrative data.
func (r Role) IsStaff() bool {
	return r == RoleSupport || r.IsPrivileged()
}

func (r Role) String() string { return string(r) }

// Value implements driver.Valuer so roles bind as plain text.
func (r Role) Value() (driver.Value, error) { return string(r), nil }

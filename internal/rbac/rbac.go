// Package rbac defines the application roles and what each may do.
package rbac

import "strings"

const (
	RoleAdmin    = "admin"
	RoleProvider = "provider"
	RoleStaff    = "staff"
	RoleUser     = "user"
)

// Normalize lowercases a stored role and maps unknown values to the
// least-privileged role.
func Normalize(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAdmin:
		return RoleAdmin
	case RoleProvider:
		return RoleProvider
	case RoleStaff:
		return RoleStaff
	default:
		return RoleUser
	}
}

// CanApprove reports whether the role may approve action items. New items
// created by these roles are auto-approved.
func CanApprove(role string) bool {
	r := Normalize(role)
	return r == RoleAdmin || r == RoleProvider
}

// CanManageUsers reports whether the role may administer the user
// directory and notification groups.
func CanManageUsers(role string) bool {
	return Normalize(role) == RoleAdmin
}

// CanWrite reports whether the role may create or modify action items.
func CanWrite(role string) bool {
	r := Normalize(role)
	return r == RoleAdmin || r == RoleProvider || r == RoleStaff
}

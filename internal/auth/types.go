package auth

import (
	"errors"
	"slices"
)

// Role is an authorisation tier.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleOperator  Role = "operator"
	RoleInstaller Role = "installer"
)

// ValidRoles lists roles in ascending order of privilege.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleInstaller}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Permission names one capability on the API.
type Permission string

const (
	PermStatusRead     Permission = "status:read"
	PermDeviceWrite    Permission = "device:write"
	PermTransportWrite Permission = "transport:write"
	PermFirmware       Permission = "firmware:manage"
	PermAuditRead      Permission = "audit:read"
)

// rolePermissions is the whole authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStatusRead,
	},
	RoleOperator: {
		PermStatusRead,
		PermDeviceWrite,
		PermTransportWrite,
	},
	RoleInstaller: {
		PermStatusRead,
		PermDeviceWrite,
		PermTransportWrite,
		PermFirmware,
		PermAuditRead,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// Operator is one API login.
type Operator struct {
	Username     string
	PasswordHash string
	Role         Role
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrMalformedHash      = errors.New("malformed password hash")
	ErrInvalidOperator    = errors.New("invalid operator")
)

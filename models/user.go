package models

import "github.com/golang-jwt/jwt/v5"

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Claims is the shape of the bearer tokens issued by the identity service.
type Claims struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller, threaded explicitly into handlers
// and services instead of being read back out of request state.
type Identity struct {
	UserID int
	Role   string
}

// Privileged reports whether the caller may act on resources it does not own.
func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleSuperAdmin
}

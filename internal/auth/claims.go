package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
)

// Operator roles. The gate is single-tenant; roles only split read access
// from actions that move hardware or rewrite state.
const (
	// RoleAdmin may pulse the relay, force refreshes, and simulate calls.
	RoleAdmin = "admin"
	// RoleViewer may read status, history, and the audit trail.
	RoleViewer = "viewer"
)

// Claims are the only supported JWT claims shape for this service.
// Subject identifies the operator; Role gates write endpoints.
type Claims struct {
	jwt.RegisteredClaims

	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

// RoleAllows reports whether the actor role satisfies the required role.
// Admin implies viewer.
func RoleAllows(actor, required string) bool {
	if actor == RoleAdmin {
		return true
	}
	return actor == required
}

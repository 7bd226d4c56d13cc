package models

import "github.com/google/uuid"

// Role is the closed set of organizational roles known to the service.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCEO        Role = "ceo"
	RoleCOO        Role = "coo"
	RoleCFO        Role = "cfo"
	RolePPIC       Role = "ppic"
	RolePurchasing Role = "purchasing"
	RoleGA         Role = "ga"
	RoleFinance    Role = "finance"
	RoleProduction Role = "production"
	RoleLogistics  Role = "logistics"
	RoleHR         Role = "hr"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin:      {},
	RoleCEO:        {},
	RoleCOO:        {},
	RoleCFO:        {},
	RolePPIC:       {},
	RolePurchasing: {},
	RoleGA:         {},
	RoleFinance:    {},
	RoleProduction: {},
	RoleLogistics:  {},
	RoleHR:         {},
}

// IsValid reports whether the role belongs to the closed enumeration.
func (r Role) IsValid() bool {
	_, ok := knownRoles[r]
	return ok
}

// IsExecutive reports whether the role has cross-department oversight.
// Executives bypass department-visibility restrictions.
func (r Role) IsExecutive() bool {
	switch r {
	case RoleAdmin, RoleCEO, RoleCOO, RoleCFO:
		return true
	}
	return false
}

// Identity is the authenticated caller as resolved by the identity provider.
// The service treats it as a read-only registry lookup: it never verifies
// credentials itself and never mutates identity data.
type Identity struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	Department string    `json:"department"`
	IsActive   bool      `json:"isActive"`
}

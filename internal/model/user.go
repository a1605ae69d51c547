package model

import (
	"time"

	"github.com/google/uuid"
)

// Role of a user inside the cockpit.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RolePartner      Role = "partner"
	RoleClient       Role = "client"
	RoleDemo         Role = "demo"
	RoleImpersonated Role = "impersonated"
)

// Valid reports whether r can be stored on a user row.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RolePartner, RoleClient, RoleDemo:
		return true
	}
	return false
}

// User represents the users table
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

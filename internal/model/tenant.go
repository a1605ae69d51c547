package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents the tenants table
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`

	// Feature flags, added to the table by schema evolution
	Predictive bool `json:"predictive"`
	Enterprise bool `json:"enterprise"`
	Prime      bool `json:"prime"`

	ParentTenantID *uuid.UUID `json:"parent_tenant_id,omitempty"` // weak reference, not ownership
	LogoURL        *string    `json:"logo_url,omitempty"`
	PrimaryColor   *string    `json:"primary_color,omitempty"`

	StripeCustomerID     *string `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string `json:"stripe_subscription_id,omitempty"`
}

// Plan derives the commercial plan from the feature flags.
func (t *Tenant) Plan() string {
	switch {
	case t.Prime:
		return "PRIME"
	case t.Enterprise:
		return "ENTERPRISE"
	case t.Predictive:
		return "PRO"
	default:
		return "FREE"
	}
}

// APIKeyRecord represents the tenant_api_keys table. The raw key is never stored.
type APIKeyRecord struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	KeyFingerprint string    `json:"key_fingerprint"`
	KeyHash        string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// KeyCandidate is a tenant whose key record shares a fingerprint with a presented key.
type KeyCandidate struct {
	Tenant  *Tenant
	KeyHash string
}

// Flag names a boolean feature column on the tenants table.
type Flag string

const (
	FlagPredictive Flag = "predictive"
	FlagEnterprise Flag = "enterprise"
	FlagPrime      Flag = "prime"
)

// Valid reports whether f is a known feature flag.
func (f Flag) Valid() bool {
	switch f {
	case FlagPredictive, FlagEnterprise, FlagPrime:
		return true
	}
	return false
}

// Identity is what a successful authentication yields to callers.
type Identity struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Active       bool      `json:"active"`
	Predictive   bool      `json:"predictive"`
	Enterprise   bool      `json:"enterprise"`
	Prime        bool      `json:"prime"`
	Plan         string    `json:"plan"`
	PrimaryColor string    `json:"primary_color,omitempty"`
}

// IdentityOf builds the caller-facing identity of a tenant.
func IdentityOf(t *Tenant) *Identity {
	id := &Identity{
		TenantID:   t.ID,
		Name:       t.Name,
		Email:      t.Email,
		Active:     t.Active,
		Predictive: t.Predictive,
		Enterprise: t.Enterprise,
		Prime:      t.Prime,
		Plan:       t.Plan(),
	}
	if t.PrimaryColor != nil {
		id.PrimaryColor = *t.PrimaryColor
	}
	return id
}

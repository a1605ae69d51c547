// Package session issues and verifies cockpit session tokens and enforces
// license tiers on them.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	// ErrLicenseRequired is returned by the tier guards.
	ErrLicenseRequired = errors.New("license tier required")
)

const issuer = "ellit-shield"

// Claims is what a session carries about its holder.
type Claims struct {
	UserID       string     `json:"user_id,omitempty"`
	TenantID     string     `json:"tenant_id,omitempty"`
	Role         model.Role `json:"role"`
	Enterprise   bool       `json:"enterprise"`
	Prime        bool       `json:"prime"`
	TenantName   string     `json:"tenant_name,omitempty"`
	PrimaryColor string     `json:"primary_color,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds the claims of a user acting inside tenant. Either may be
// nil for master-key sessions.
func NewClaims(role model.Role, user *model.User, tenant *model.Tenant) *Claims {
	c := &Claims{Role: role, PrimaryColor: "#FF0080"}
	if user != nil {
		c.UserID = user.ID.String()
	}
	if tenant != nil {
		c.TenantID = tenant.ID.String()
		c.TenantName = tenant.Name
		c.Enterprise = tenant.Enterprise
		c.Prime = tenant.Prime
		if tenant.PrimaryColor != nil {
			c.PrimaryColor = *tenant.PrimaryColor
		}
	}
	return c
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must have at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs c, filling in the registered claims.
func (i *Issuer) Issue(c *Claims) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   c.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// bypass reports whether the role sees every module regardless of license.
func (c *Claims) bypass() bool {
	return c.Role == model.RoleSuperAdmin || c.Role == model.RoleImpersonated
}

// RequireEnterprise passes for enterprise tenants and operators.
func RequireEnterprise(c *Claims) error {
	if c == nil || (!c.bypass() && !c.Enterprise) {
		return fmt.Errorf("%w: enterprise", ErrLicenseRequired)
	}
	return nil
}

// RequirePrime passes for prime tenants and operators.
func RequirePrime(c *Claims) error {
	if c == nil || (!c.bypass() && !c.Prime) {
		return fmt.Errorf("%w: prime", ErrLicenseRequired)
	}
	return nil
}

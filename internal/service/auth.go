package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

// rejection reasons, logged but never returned
const (
	reasonEmptyKey     = "empty_key"
	reasonUnknownKey   = "unknown_fingerprint"
	reasonHashMismatch = "hash_mismatch"
	reasonInactive     = "tenant_inactive"
)

// Authenticator resolves a presented raw API key to its tenant identity.
type Authenticator struct {
	repo   *store.TenantRepository
	hasher *crypto.Hasher
	prefix string
}

func NewAuthenticator(repo *store.TenantRepository, hasher *crypto.Hasher, keyPrefix string) *Authenticator {
	if keyPrefix == "" {
		keyPrefix = crypto.DefaultKeyPrefix
	}
	return &Authenticator{repo: repo, hasher: hasher, prefix: keyPrefix}
}

// Authenticate returns the identity of the active tenant owning rawKey.
// Every rejection yields ErrAuthenticationRejected; storage failures are
// returned as such and never reported as rejections.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*model.Identity, error) {
	if rawKey == "" {
		return nil, a.reject(reasonEmptyKey, "")
	}

	fingerprint := crypto.Fingerprint(rawKey, a.prefix)
	legacy := crypto.LegacyFingerprint(rawKey)
	lookups := []string{fingerprint}
	if legacy != fingerprint {
		lookups = append(lookups, legacy)
	}

	seen := 0
	for _, fp := range lookups {
		candidates, err := a.repo.FindByFingerprint(ctx, fp)
		if err != nil {
			monitoring.AuthAttempts.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("key_fingerprint", fp).Msg("Key lookup failed")
			return nil, fmt.Errorf("authenticate: %w", err)
		}
		seen += len(candidates)

		for _, c := range candidates {
			if !a.hasher.Verify(rawKey, c.KeyHash) && !(fp == legacy && crypto.VerifyLegacy(rawKey, c.KeyHash)) {
				continue
			}
			if !c.Tenant.Active {
				return nil, a.reject(reasonInactive, fingerprint)
			}

			monitoring.AuthAttempts.WithLabelValues("accepted").Inc()
			log.Debug().
				Str("tenant_id", c.Tenant.ID.String()).
				Str("key_fingerprint", fp).
				Msg("API key accepted")
			return model.IdentityOf(c.Tenant), nil
		}
	}

	if seen == 0 {
		return nil, a.reject(reasonUnknownKey, fingerprint)
	}
	return nil, a.reject(reasonHashMismatch, fingerprint)
}

func (a *Authenticator) reject(reason, fingerprint string) error {
	monitoring.AuthAttempts.WithLabelValues("rejected").Inc()
	log.Info().
		Str("reason", reason).
		Str("key_fingerprint", fingerprint).
		Msg("API key rejected")
	return ErrAuthenticationRejected
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

// Policy decides what provisioning does when the email is already registered.
type Policy string

const (
	// PolicyReplace deletes the existing tenant and its keys, then creates a
	// fresh one. Prior keys stop working.
	PolicyReplace Policy = "replace"
	// PolicyReject refuses with ErrDuplicateEmail.
	PolicyReject Policy = "reject"
	// PolicyMerge keeps the existing tenant, reactivates it and adds a key.
	PolicyMerge Policy = "merge"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReplace, PolicyReject, PolicyMerge:
		return p, nil
	case "":
		return PolicyReplace, nil
	}
	return "", fmt.Errorf("%w: unknown reprovision policy %q", ErrInvalidInput, s)
}

// Outcome says what a provisioning call did.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeReplaced Outcome = "replaced"
	OutcomeMerged   Outcome = "merged"
)

// ProvisionRequest describes a tenant to create. Only Name and Email are
// required.
type ProvisionRequest struct {
	Name  string
	Email string

	Enterprise     bool
	Prime          bool
	ParentTenantID *uuid.UUID

	StripeCustomerID     string
	StripeSubscriptionID string
}

// ProvisionResult carries the only copy of the raw key. It is never stored
// or logged.
type ProvisionResult struct {
	Tenant  *model.Tenant
	RawKey  string
	Outcome Outcome
}

type ProvisioningConfig struct {
	KeyPrefix string
	Policy    Policy
	Locker    Locker
}

// ProvisioningService creates tenants and issues their API keys.
type ProvisioningService struct {
	repo   *store.TenantRepository
	hasher *crypto.Hasher
	prefix string
	policy Policy
	locker Locker
}

// NewProvisioningService creates a new ProvisioningService
func NewProvisioningService(repo *store.TenantRepository, hasher *crypto.Hasher, cfg ProvisioningConfig) *ProvisioningService {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = crypto.DefaultKeyPrefix
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReplace
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	return &ProvisioningService{
		repo:   repo,
		hasher: hasher,
		prefix: cfg.KeyPrefix,
		policy: cfg.Policy,
		locker: cfg.Locker,
	}
}

// Policy is the re-provisioning policy in effect.
func (ps *ProvisioningService) Policy() Policy {
	return ps.policy
}

// Provision registers a tenant under req.Email and returns a freshly issued
// raw API key. Calls for the same email are serialized.
func (ps *ProvisioningService) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	start := time.Now()
	defer func() {
		monitoring.ProvisioningDuration.Observe(time.Since(start).Seconds())
	}()

	name, email, err := validateProvisionRequest(req)
	if err != nil {
		monitoring.TenantsProvisioned.WithLabelValues("rejected").Inc()
		return nil, err
	}

	unlock, err := ps.locker.Lock(ctx, "provision:"+email)
	if err != nil {
		monitoring.TenantsProvisioned.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("serialize provisioning: %w", err)
	}
	defer unlock()

	rawKey, err := crypto.GenerateAPIKey(ps.prefix)
	if err != nil {
		monitoring.TenantsProvisioned.WithLabelValues("failed").Inc()
		return nil, err
	}
	keyRecord := &model.APIKeyRecord{
		KeyFingerprint: crypto.Fingerprint(rawKey, ps.prefix),
		KeyHash:        ps.hasher.Hash(rawKey),
	}

	var (
		tenant  *model.Tenant
		outcome Outcome
		removed []uuid.UUID
	)
	err = ps.repo.WithTx(ctx, func(tx *store.TenantRepository) error {
		existing, err := tx.GetTenantByEmail(ctx, email)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		switch {
		case existing == nil:
			outcome = OutcomeCreated
		case ps.policy == PolicyReject:
			return fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		case ps.policy == PolicyMerge:
			outcome = OutcomeMerged
			tenant = existing
			mergeInto(tenant, name, req)
			if err := tx.UpdateTenant(ctx, tenant); err != nil {
				return err
			}
		default:
			outcome = OutcomeReplaced
			if removed, err = tx.DeleteTenantByEmail(ctx, email); err != nil {
				return err
			}
		}

		if tenant == nil {
			tenant = newTenant(name, email, req)
			if err := tx.CreateTenant(ctx, tenant); err != nil {
				return err
			}
		}

		keyRecord.TenantID = tenant.ID
		return tx.AddAPIKey(ctx, keyRecord)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			monitoring.TenantsProvisioned.WithLabelValues("rejected").Inc()
			log.Warn().Str("email", email).Msg("Provisioning rejected, email already registered")
		} else {
			monitoring.TenantsProvisioned.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("email", email).Msg("Provisioning failed")
		}
		return nil, err
	}

	monitoring.TenantsProvisioned.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeReplaced {
		prior := make([]string, len(removed))
		for i, id := range removed {
			prior[i] = id.String()
		}
		log.Warn().
			Str("email", email).
			Strs("replaced_tenant_ids", prior).
			Str("tenant_id", tenant.ID.String()).
			Msg("Existing tenant replaced, its keys no longer authenticate")
		monitoring.Alert("tenant_replaced", "tenant re-provisioned under an existing email", map[string]string{
			"email":     email,
			"tenant_id": tenant.ID.String(),
		})
	}

	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("email", email).
		Str("outcome", string(outcome)).
		Str("key_fingerprint", keyRecord.KeyFingerprint).
		Dur("took", time.Since(start)).
		Msg("Tenant provisioned")

	return &ProvisionResult{Tenant: tenant, RawKey: rawKey, Outcome: outcome}, nil
}

// IssueKey adds a key to an existing tenant. With rotate set every previous
// key of the tenant is removed in the same transaction.
func (ps *ProvisioningService) IssueKey(ctx context.Context, tenantID uuid.UUID, rotate bool) (string, error) {
	rawKey, err := crypto.GenerateAPIKey(ps.prefix)
	if err != nil {
		return "", err
	}
	rec := &model.APIKeyRecord{
		TenantID:       tenantID,
		KeyFingerprint: crypto.Fingerprint(rawKey, ps.prefix),
		KeyHash:        ps.hasher.Hash(rawKey),
	}

	var revoked int64
	err = ps.repo.WithTx(ctx, func(tx *store.TenantRepository) error {
		if _, err := tx.GetTenant(ctx, tenantID); err != nil {
			return err
		}
		if rotate {
			if revoked, err = tx.DeleteAPIKeys(ctx, tenantID); err != nil {
				return err
			}
		}
		return tx.AddAPIKey(ctx, rec)
	})
	if err != nil {
		return "", err
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Str("key_fingerprint", rec.KeyFingerprint).
		Int64("revoked", revoked).
		Msg("API key issued")
	return rawKey, nil
}

func validateProvisionRequest(req ProvisionRequest) (name, email string, err error) {
	name = strings.TrimSpace(req.Name)
	if name == "" {
		return "", "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	email, err = NormalizeEmail(req.Email)
	if err != nil {
		return "", "", err
	}
	return name, email, nil
}

// NormalizeEmail trims and lower-cases an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return email, nil
}

func newTenant(name, email string, req ProvisionRequest) *model.Tenant {
	color := "#FF0080"
	return &model.Tenant{
		Name:                 name,
		Email:                email,
		Active:               true,
		Predictive:           true,
		Enterprise:           req.Enterprise,
		Prime:                req.Prime,
		ParentTenantID:       req.ParentTenantID,
		PrimaryColor:         &color,
		StripeCustomerID:     optional(req.StripeCustomerID),
		StripeSubscriptionID: optional(req.StripeSubscriptionID),
	}
}

func mergeInto(t *model.Tenant, name string, req ProvisionRequest) {
	t.Name = name
	t.Active = true
	t.Enterprise = t.Enterprise || req.Enterprise
	t.Prime = t.Prime || req.Prime
	if req.ParentTenantID != nil {
		t.ParentTenantID = req.ParentTenantID
	}
	if req.StripeCustomerID != "" {
		t.StripeCustomerID = optional(req.StripeCustomerID)
	}
	if req.StripeSubscriptionID != "" {
		t.StripeSubscriptionID = optional(req.StripeSubscriptionID)
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

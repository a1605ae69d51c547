package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

// TenantService holds the administrative operations on existing tenants.
type TenantService struct {
	repo *store.TenantRepository
}

func NewTenantService(repo *store.TenantRepository) *TenantService {
	return &TenantService{repo: repo}
}

// GetTenant retrieves a tenant by ID
func (s *TenantService) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

func (s *TenantService) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// ListKeys returns the key records of a tenant. Hashes are not exposed by
// the JSON form of the records.
func (s *TenantService) ListKeys(ctx context.Context, id uuid.UUID) ([]model.APIKeyRecord, error) {
	if _, err := s.repo.GetTenant(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAPIKeys(ctx, id)
}

// SetActive enables or disables a tenant. Disabled tenants fail
// authentication from the next request on.
func (s *TenantService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	log.Info().Str("tenant_id", id.String()).Bool("active", active).Msg("Tenant activation changed")
	return nil
}

func (s *TenantService) SetFlag(ctx context.Context, id uuid.UUID, flag model.Flag, value bool) error {
	if !flag.Valid() {
		return fmt.Errorf("%w: unknown flag %q", ErrInvalidInput, flag)
	}
	if err := s.repo.SetFlag(ctx, id, flag, value); err != nil {
		return err
	}
	log.Info().Str("tenant_id", id.String()).Str("flag", string(flag)).Bool("value", value).Msg("Tenant flag changed")
	return nil
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Branding is the white-label look of a tenant. Nil fields are left alone,
// empty strings clear the value.
type Branding struct {
	LogoURL      *string `json:"logo_url"`
	PrimaryColor *string `json:"primary_color"`
}

func (s *TenantService) SetBranding(ctx context.Context, id uuid.UUID, b Branding) (*model.Tenant, error) {
	if b.PrimaryColor != nil && *b.PrimaryColor != "" && !colorPattern.MatchString(*b.PrimaryColor) {
		return nil, fmt.Errorf("%w: primary_color must look like #RRGGBB", ErrInvalidInput)
	}
	if b.LogoURL != nil && *b.LogoURL != "" {
		u, err := url.Parse(*b.LogoURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, fmt.Errorf("%w: logo_url must be an http(s) URL", ErrInvalidInput)
		}
	}

	var tenant *model.Tenant
	err := s.repo.WithTx(ctx, func(tx *store.TenantRepository) error {
		t, err := tx.GetTenant(ctx, id)
		if err != nil {
			return err
		}
		if b.LogoURL != nil {
			t.LogoURL = optional(*b.LogoURL)
		}
		if b.PrimaryColor != nil {
			t.PrimaryColor = optional(strings.ToUpper(*b.PrimaryColor))
		}
		tenant = t
		return tx.UpdateTenant(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("tenant_id", id.String()).Msg("Tenant branding updated")
	return tenant, nil
}

// SetParent links a client tenant to the partner that resells it. A nil
// parent removes the link.
func (s *TenantService) SetParent(ctx context.Context, id uuid.UUID, parent *uuid.UUID) error {
	if parent != nil && *parent == id {
		return fmt.Errorf("%w: a tenant cannot be its own parent", ErrInvalidInput)
	}
	return s.repo.WithTx(ctx, func(tx *store.TenantRepository) error {
		t, err := tx.GetTenant(ctx, id)
		if err != nil {
			return err
		}
		if parent != nil {
			if _, err := tx.GetTenant(ctx, *parent); err != nil {
				return fmt.Errorf("parent: %w", err)
			}
		}
		t.ParentTenantID = parent
		return tx.UpdateTenant(ctx, t)
	})
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

type BootstrapConfig struct {
	SuperAdminEmail string
	SuperAdminName  string

	// The demo tenant and its user are only seeded when both are set.
	DemoEmail      string
	DemoPassword   string
	DemoTenantName string
}

// Bootstrap seeds the super admin tenant and the optional demo account.
// Existing rows are left untouched, so it is safe on every start.
func Bootstrap(ctx context.Context, tenants *store.TenantRepository, users *UserService, cfg BootstrapConfig) error {
	if cfg.SuperAdminEmail != "" {
		created, err := ensureTenant(ctx, tenants, &model.Tenant{
			Name:       cfg.SuperAdminName,
			Email:      cfg.SuperAdminEmail,
			Active:     true,
			Predictive: true,
			Enterprise: true,
			Prime:      true,
		})
		if err != nil {
			return fmt.Errorf("seed super admin tenant: %w", err)
		}
		if created {
			log.Info().Str("email", cfg.SuperAdminEmail).Msg("Super admin tenant created")
		}
	}

	if cfg.DemoEmail == "" || cfg.DemoPassword == "" {
		return nil
	}

	color := "#0048FF"
	demo := &model.Tenant{
		Name:         cfg.DemoTenantName,
		Email:        cfg.DemoEmail,
		Active:       true,
		Predictive:   true,
		Enterprise:   true,
		Prime:        true,
		PrimaryColor: &color,
	}
	created, err := ensureTenant(ctx, tenants, demo)
	if err != nil {
		return fmt.Errorf("seed demo tenant: %w", err)
	}
	if !created {
		return nil
	}

	if _, err := users.CreateUser(ctx, demo.ID, cfg.DemoEmail, "Demo Comercial", model.RoleDemo, cfg.DemoPassword); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil
		}
		return fmt.Errorf("seed demo user: %w", err)
	}
	log.Info().Str("email", cfg.DemoEmail).Msg("Demo tenant and user created")
	return nil
}

// ensureTenant creates t unless a tenant with its email exists, in which case
// t is filled from the stored row.
func ensureTenant(ctx context.Context, tenants *store.TenantRepository, t *model.Tenant) (bool, error) {
	email, err := NormalizeEmail(t.Email)
	if err != nil {
		return false, err
	}
	t.Email = email

	existing, err := tenants.GetTenantByEmail(ctx, email)
	if err == nil {
		*t = *existing
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if err := tenants.CreateTenant(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

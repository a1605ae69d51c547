package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

// Principal is who a cockpit session acts as.
type Principal struct {
	User   *model.User // nil for master-key logins
	Tenant *model.Tenant
	Role   model.Role
}

type UserServiceConfig struct {
	SuperAdminKey   string
	SuperAdminEmail string
	BcryptCost      int
}

// UserService authenticates cockpit users by password or master key.
type UserService struct {
	users   *store.UserRepository
	tenants *store.TenantRepository
	cfg     UserServiceConfig

	// compared against when the user does not exist so both paths cost a
	// bcrypt round
	dummyHash []byte
}

func NewUserService(users *store.UserRepository, tenants *store.TenantRepository, cfg UserServiceConfig) *UserService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cfg.BcryptCost)
	return &UserService{users: users, tenants: tenants, cfg: cfg, dummyHash: dummy}
}

// Login checks an email and password pair.
func (s *UserService) Login(ctx context.Context, email, password string) (*Principal, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, rejectLogin("unknown_user", email)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, rejectLogin("bad_password", email)
	}
	if !user.IsActive {
		return nil, rejectLogin("user_inactive", email)
	}

	tenant, err := s.tenants.GetTenant(ctx, user.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rejectLogin("tenant_missing", email)
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if !tenant.Active {
		return nil, rejectLogin("tenant_inactive", email)
	}

	log.Info().Str("user_id", user.ID.String()).Str("tenant_id", tenant.ID.String()).Str("role", string(user.Role)).Msg("User logged in")
	return &Principal{User: user, Tenant: tenant, Role: user.Role}, nil
}

// SuperAdminLogin checks the master key. An unset key disables this path.
func (s *UserService) SuperAdminLogin(ctx context.Context, key string) (*Principal, error) {
	if s.cfg.SuperAdminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.SuperAdminKey)) != 1 {
		return nil, rejectLogin("bad_master_key", "")
	}

	p := &Principal{Role: model.RoleSuperAdmin}
	if s.cfg.SuperAdminEmail != "" {
		tenant, err := s.tenants.GetTenantByEmail(ctx, s.cfg.SuperAdminEmail)
		switch {
		case err == nil:
			p.Tenant = tenant
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("super admin login: %w", err)
		}
	}

	log.Info().Msg("Super admin logged in")
	return p, nil
}

// Impersonate lets a super admin act inside a tenant.
func (s *UserService) Impersonate(ctx context.Context, actor *Principal, tenantID uuid.UUID) (*Principal, error) {
	if actor == nil || actor.Role != model.RoleSuperAdmin {
		return nil, ErrForbidden
	}
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	log.Warn().Str("tenant_id", tenantID.String()).Msg("Super admin impersonating tenant")
	return &Principal{Tenant: tenant, Role: model.RoleImpersonated}, nil
}

// CreateUser adds a password user to a tenant.
func (s *UserService) CreateUser(ctx context.Context, tenantID uuid.UUID, email, name string, role model.Role, password string) (*model.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must have at least 8 characters", ErrInvalidInput)
	}
	if _, err := s.tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		TenantID:     tenantID,
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         role,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	log.Info().Str("user_id", user.ID.String()).Str("tenant_id", tenantID.String()).Str("role", string(role)).Msg("User created")
	return user, nil
}

// ResetPassword sets a new password for the user registered under email.
func (s *UserService) ResetPassword(ctx context.Context, email, password string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must have at least 8 characters", ErrInvalidInput)
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	log.Warn().Str("user_id", user.ID.String()).Msg("User password reset")
	return nil
}

func rejectLogin(reason, email string) error {
	log.Info().Str("reason", reason).Str("email", email).Msg("Login rejected")
	return ErrInvalidCredentials
}

package service

import (
	"testing"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store/storetest"
)

type testEnv struct {
	db      *store.DB
	repo    *store.TenantRepository
	hasher  *crypto.Hasher
	prov    *ProvisioningService
	auth    *Authenticator
	tenants *TenantService
}

func setupTestEnv(t *testing.T, policy Policy) *testEnv {
	t.Helper()
	db := storetest.NewSQLite(t)
	repo := store.NewTenantRepository(db)
	hasher := crypto.NewHasher("test-pepper")

	return &testEnv{
		db:      db,
		repo:    repo,
		hasher:  hasher,
		prov:    NewProvisioningService(repo, hasher, ProvisioningConfig{Policy: policy}),
		auth:    NewAuthenticator(repo, hasher, crypto.DefaultKeyPrefix),
		tenants: NewTenantService(repo),
	}
}

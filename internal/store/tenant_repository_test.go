package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store/storetest"
)

func setupTestRepo(t *testing.T) *store.TenantRepository {
	return store.NewTenantRepository(storetest.NewSQLite(t))
}

func newTenant(name, email string) *model.Tenant {
	return &model.Tenant{Name: name, Email: email, Active: true, Predictive: true}
}

func TestTenantRepository_CreateAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	customer := "cus_123"
	tenant := newTenant("Acme Corp", "admin@acme.test")
	tenant.Enterprise = true
	tenant.StripeCustomerID = &customer

	err := repo.CreateTenant(ctx, tenant)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tenant.ID)

	fetched, err := repo.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, fetched.ID)
	assert.Equal(t, "Acme Corp", fetched.Name)
	assert.Equal(t, "admin@acme.test", fetched.Email)
	assert.True(t, fetched.Active)
	assert.True(t, fetched.Predictive)
	assert.True(t, fetched.Enterprise)
	assert.False(t, fetched.Prime)
	require.NotNil(t, fetched.StripeCustomerID)
	assert.Equal(t, "cus_123", *fetched.StripeCustomerID)
	assert.Nil(t, fetched.StripeSubscriptionID)
	assert.Nil(t, fetched.ParentTenantID)
	assert.WithinDuration(t, tenant.CreatedAt, fetched.CreatedAt, time.Second)

	byEmail, err := repo.GetTenantByEmail(ctx, "admin@acme.test")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, byEmail.ID)
}

func TestTenantRepository_NotFound(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetTenant(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.GetTenantByEmail(ctx, "nobody@example.test")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, repo.SetActive(ctx, uuid.New(), false), store.ErrNotFound)
	assert.ErrorIs(t, repo.SetFlag(ctx, uuid.New(), model.FlagPrime, true), store.ErrNotFound)
}

func TestTenantRepository_DuplicateEmail(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateTenant(ctx, newTenant("First", "dup@example.test")))
	err := repo.CreateTenant(ctx, newTenant("Second", "dup@example.test"))
	assert.ErrorIs(t, err, store.ErrDuplicateEmail)
}

func TestTenantRepository_ParentAndBranding(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	parent := newTenant("Partner", "partner@example.test")
	require.NoError(t, repo.CreateTenant(ctx, parent))

	child := newTenant("Client", "client@example.test")
	child.ParentTenantID = &parent.ID
	require.NoError(t, repo.CreateTenant(ctx, child))

	logo := "https://cdn.example.test/logo.png"
	color := "#00FF88"
	child.LogoURL = &logo
	child.PrimaryColor = &color
	require.NoError(t, repo.UpdateTenant(ctx, child))

	fetched, err := repo.GetTenant(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.ParentTenantID)
	assert.Equal(t, parent.ID, *fetched.ParentTenantID)
	assert.Equal(t, logo, *fetched.LogoURL)
	assert.Equal(t, color, *fetched.PrimaryColor)

	// parent rows are not owned by children
	_, err = repo.DeleteTenantByEmail(ctx, "partner@example.test")
	require.NoError(t, err)
	_, err = repo.GetTenant(ctx, child.ID)
	assert.NoError(t, err)
}

func TestTenantRepository_SetActiveAndFlags(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	tenant := newTenant("Flags", "flags@example.test")
	require.NoError(t, repo.CreateTenant(ctx, tenant))

	require.NoError(t, repo.SetActive(ctx, tenant.ID, false))
	require.NoError(t, repo.SetFlag(ctx, tenant.ID, model.FlagPrime, true))
	require.NoError(t, repo.SetFlag(ctx, tenant.ID, model.FlagPredictive, false))

	fetched, err := repo.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, fetched.Active)
	assert.True(t, fetched.Prime)
	assert.False(t, fetched.Predictive)
	assert.Equal(t, "PRIME", fetched.Plan())

	err = repo.SetFlag(ctx, tenant.ID, model.Flag("active; DROP TABLE tenants"), true)
	assert.ErrorIs(t, err, store.ErrUnknownFlag)
}

func TestTenantRepository_FindByFingerprint(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	a := newTenant("A", "a@example.test")
	b := newTenant("B", "b@example.test")
	require.NoError(t, repo.CreateTenant(ctx, a))
	require.NoError(t, repo.CreateTenant(ctx, b))

	require.NoError(t, repo.AddAPIKey(ctx, &model.APIKeyRecord{TenantID: a.ID, KeyFingerprint: "sk_ellit_abcdefgh", KeyHash: "hash-a"}))
	require.NoError(t, repo.AddAPIKey(ctx, &model.APIKeyRecord{TenantID: b.ID, KeyFingerprint: "sk_ellit_abcdefgh", KeyHash: "hash-b"}))
	require.NoError(t, repo.AddAPIKey(ctx, &model.APIKeyRecord{TenantID: b.ID, KeyFingerprint: "sk_ellit_zzzzzzzz", KeyHash: "hash-c"}))

	candidates, err := repo.FindByFingerprint(ctx, "sk_ellit_abcdefgh")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	hashes := map[string]uuid.UUID{}
	for _, c := range candidates {
		hashes[c.KeyHash] = c.Tenant.ID
	}
	assert.Equal(t, a.ID, hashes["hash-a"])
	assert.Equal(t, b.ID, hashes["hash-b"])

	none, err := repo.FindByFingerprint(ctx, "sk_ellit_missing0")
	require.NoError(t, err)
	assert.Empty(t, none)

	keys, err := repo.ListAPIKeys(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestTenantRepository_DeleteTenantByEmail(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	tenant := newTenant("Gone", "gone@example.test")
	require.NoError(t, repo.CreateTenant(ctx, tenant))
	require.NoError(t, repo.AddAPIKey(ctx, &model.APIKeyRecord{TenantID: tenant.ID, KeyFingerprint: "sk_ellit_goneaaaa", KeyHash: "h"}))

	removed, err := repo.DeleteTenantByEmail(ctx, "gone@example.test")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tenant.ID}, removed)

	candidates, err := repo.FindByFingerprint(ctx, "sk_ellit_goneaaaa")
	require.NoError(t, err)
	assert.Empty(t, candidates)

	removed, err = repo.DeleteTenantByEmail(ctx, "gone@example.test")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestTenantRepository_WithTxRollsBack(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx *store.TenantRepository) error {
		tenant := newTenant("Half", "half@example.test")
		if err := tx.CreateTenant(ctx, tenant); err != nil {
			return err
		}
		if err := tx.AddAPIKey(ctx, &model.APIKeyRecord{TenantID: tenant.ID, KeyFingerprint: "sk_ellit_halfhalf", KeyHash: "h"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.GetTenantByEmail(ctx, "half@example.test")
	assert.ErrorIs(t, err, store.ErrNotFound)
	candidates, err := repo.FindByFingerprint(ctx, "sk_ellit_halfhalf")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestTenantRepository_StorageUnavailable(t *testing.T) {
	db := storetest.NewSQLite(t)
	repo := store.NewTenantRepository(db)
	require.NoError(t, db.Close())

	_, err := repo.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)

	_, err = repo.FindByFingerprint(context.Background(), "sk_ellit_whatever")
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}

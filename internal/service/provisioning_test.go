package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
)

func TestProvisioningService_ProvisionThenAuthenticate(t *testing.T) {
	env := setupTestEnv(t, PolicyReplace)
	ctx := context.Background()

	res, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Acme Corp", Email: "admin@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.True(t, strings.HasPrefix(res.RawKey, crypto.DefaultKeyPrefix))

	// only the fingerprint and digest are stored
	keys, err := env.repo.ListAPIKeys(ctx, res.Tenant.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, crypto.Fingerprint(res.RawKey, crypto.DefaultKeyPrefix), keys[0].KeyFingerprint)
	assert.NotEqual(t, res.RawKey, keys[0].KeyHash)
	assert.NotContains(t, keys[0].KeyHash, res.RawKey)

	id, err := env.auth.Authenticate(ctx, res.RawKey)
	require.NoError(t, err)
	assert.Equal(t, res.Tenant.ID, id.TenantID)
	assert.Equal(t, "Acme Corp", id.Name)
	assert.True(t, id.Active)
	assert.True(t, id.Predictive)
	assert.False(t, id.Enterprise)
	assert.False(t, id.Prime)
	assert.Equal(t, "PRO", id.Plan)
}

func TestProvisioningService_Validation(t *testing.T) {
	env := setupTestEnv(t, PolicyReplace)
	ctx := context.Background()

	_, err := env.prov.Provision(ctx, ProvisionRequest{Name: "  ", Email: "a@example.test"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.prov.Provision(ctx, ProvisionRequest{Name: "No Email"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.prov.Provision(ctx, ProvisionRequest{Name: "Bad", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	tenants, err := env.repo.ListTenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenants)
}

func TestProvisioningService_ReplaceInvalidatesPriorKey(t *testing.T) {
	env := setupTestEnv(t, PolicyReplace)
	ctx := context.Background()

	first, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Acme", Email: "admin@acme.test"})
	require.NoError(t, err)
	second, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Acme Again", Email: "Admin@Acme.test"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplaced, second.Outcome)
	assert.NotEqual(t, first.Tenant.ID, second.Tenant.ID)

	_, err = env.auth.Authenticate(ctx, first.RawKey)
	assert.ErrorIs(t, err, ErrAuthenticationRejected)

	id, err := env.auth.Authenticate(ctx, second.RawKey)
	require.NoError(t, err)
	assert.Equal(t, second.Tenant.ID, id.TenantID)
	assert.Equal(t, "Acme Again", id.Name)

	_, err = env.repo.GetTenant(ctx, first.Tenant.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProvisioningService_RejectPolicy(t *testing.T) {
	env := setupTestEnv(t, PolicyReject)
	ctx := context.Background()
	assert.Equal(t, PolicyReject, env.prov.Policy())

	first, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Acme", Email: "admin@acme.test"})
	require.NoError(t, err)

	_, err = env.prov.Provision(ctx, ProvisionRequest{Name: "Acme", Email: "admin@acme.test"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	// nothing changed
	id, err := env.auth.Authenticate(ctx, first.RawKey)
	require.NoError(t, err)
	assert.Equal(t, first.Tenant.ID, id.TenantID)
	keys, err := env.repo.ListAPIKeys(ctx, first.Tenant.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestProvisioningService_MergePolicy(t *testing.T) {
	env := setupTestEnv(t, PolicyMerge)
	ctx := context.Background()

	first, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Acme", Email: "admin@acme.test"})
	require.NoError(t, err)
	require.NoError(t, env.repo.SetActive(ctx, first.Tenant.ID, false))
	require.NoError(t, env.repo.SetFlag(ctx, first.Tenant.ID, model.FlagEnterprise, true))

	second, err := env.prov.Provision(ctx, ProvisionRequest{
		Name:             "Acme Renamed",
		Email:            "admin@acme.test",
		StripeCustomerID: "cus_42",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, second.Outcome)
	assert.Equal(t, first.Tenant.ID, second.Tenant.ID)

	for _, key := range []string{first.RawKey, second.RawKey} {
		id, err := env.auth.Authenticate(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, first.Tenant.ID, id.TenantID)
		assert.True(t, id.Enterprise, "flags survive a merge")
	}

	tenant, err := env.repo.GetTenant(ctx, first.Tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", tenant.Name)
	assert.True(t, tenant.Active)
	require.NotNil(t, tenant.StripeCustomerID)
	assert.Equal(t, "cus_42", *tenant.StripeCustomerID)
}

func TestProvisioningService_ConcurrentSameEmail(t *testing.T) {
	env := setupTestEnv(t, PolicyReplace)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Race", Email: "race@example.test"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tenants, err := env.repo.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)

	keys, err := env.repo.ListAPIKeys(ctx, tenants[0].ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestProvisioningService_IssueKey(t *testing.T) {
	env := setupTestEnv(t, PolicyReplace)
	ctx := context.Background()

	res, err := env.prov.Provision(ctx, ProvisionRequest{Name: "Keys", Email: "keys@example.test"})
	require.NoError(t, err)

	extra, err := env.prov.IssueKey(ctx, res.Tenant.ID, false)
	require.NoError(t, err)
	for _, key := range []string{res.RawKey, extra} {
		_, err := env.auth.Authenticate(ctx, key)
		assert.NoError(t, err)
	}

	rotated, err := env.prov.IssueKey(ctx, res.Tenant.ID, true)
	require.NoError(t, err)
	_, err = env.auth.Authenticate(ctx, res.RawKey)
	assert.ErrorIs(t, err, ErrAuthenticationRejected)
	_, err = env.auth.Authenticate(ctx, extra)
	assert.ErrorIs(t, err, ErrAuthenticationRejected)
	_, err = env.auth.Authenticate(ctx, rotated)
	assert.NoError(t, err)

	_, err = env.prov.IssueKey(ctx, res.Tenant.ID, false)
	assert.NoError(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("MERGE")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReplace, p)

	_, err = ParsePolicy("overwrite")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewProvisioningService_DefaultPolicy(t *testing.T) {
	ps := NewProvisioningService(nil, nil, ProvisioningConfig{})
	assert.Equal(t, PolicyReplace, ps.Policy())
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/analysis"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store/storetest"
)

const adminKey = "test-admin-key"

type fakeAnalyzer struct {
	got []analysis.Request
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{Engine: req.Engine, Text: "briefing"}, nil
}

type testAPI struct {
	handler  http.Handler
	analyzer *fakeAnalyzer
}

func newTestAPI(t *testing.T, mutate ...func(*Deps)) *testAPI {
	t.Helper()
	db := storetest.NewSQLite(t)
	tenants := store.NewTenantRepository(db)
	users := store.NewUserRepository(db)
	hasher := crypto.NewHasher("test-pepper")
	issuer, err := session.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	fa := &fakeAnalyzer{}
	d := Deps{
		Provisioning: service.NewProvisioningService(tenants, hasher, service.ProvisioningConfig{}),
		Auth:         service.NewAuthenticator(tenants, hasher, crypto.DefaultKeyPrefix),
		Tenants:      service.NewTenantService(tenants),
		Users: service.NewUserService(users, tenants, service.UserServiceConfig{
			SuperAdminKey: "master-key",
			BcryptCost:    4,
		}),
		Sessions:  issuer,
		Analysis:  fa,
		AdminKey:  adminKey,
		RateLimit: 100,
		RateBurst: 100,
	}
	for _, m := range mutate {
		m(&d)
	}
	return &testAPI{handler: NewRouter(d), analyzer: fa}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return a.do(t, method, path, body, map[string]string{"X-Admin-Key": adminKey})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) provision(t *testing.T, name, email string) provisionResponse {
	t.Helper()
	rec := a.admin(t, http.MethodPost, "/v1/admin/tenants", map[string]any{"name": name, "email": email})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[provisionResponse](t, rec)
}

func TestProvisionAndVerifyKey(t *testing.T) {
	api := newTestAPI(t)

	res := api.provision(t, "Acme", "Admin@Acme.com")
	assert.Equal(t, service.OutcomeCreated, res.Outcome)
	assert.Equal(t, "admin@acme.com", res.Tenant.Email)
	require.NotEmpty(t, res.APIKey)

	rec := api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": res.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	identity := decode[model.Identity](t, rec)
	assert.Equal(t, res.Tenant.ID, identity.TenantID)
	assert.Equal(t, "PRO", identity.Plan)

	// disabling the tenant revokes access on the next request
	rec = api.admin(t, http.MethodPut, "/v1/admin/tenants/"+res.Tenant.ID.String()+"/active", map[string]bool{"active": false})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": res.APIKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyKey_UniformRejection(t *testing.T) {
	api := newTestAPI(t)
	res := api.provision(t, "Acme", "admin@acme.com")

	bodies := map[string]string{}
	for name, key := range map[string]string{
		"missing":  "",
		"unknown":  "sk_ellit_doesnotexist",
		"mismatch": res.APIKey[:len(res.APIKey)-2] + "zz",
	} {
		rec := api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": key})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		bodies[name] = decode[apiError](t, rec).Error
	}
	assert.Equal(t, bodies["missing"], bodies["unknown"])
	assert.Equal(t, bodies["unknown"], bodies["mismatch"])
}

func TestAdminRoutesRequireKey(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/admin/tenants", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/v1/admin/tenants", nil, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	closed := newTestAPI(t, func(d *Deps) { d.AdminKey = "" })
	rec = closed.do(t, http.MethodGet, "/v1/admin/tenants", nil, map[string]string{"X-Admin-Key": ""})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminTenantManagement(t *testing.T) {
	api := newTestAPI(t)
	partner := api.provision(t, "Partner", "partner@example.com")
	client := api.provision(t, "Client", "client@example.com")
	base := "/v1/admin/tenants/" + client.Tenant.ID.String()

	rec := api.admin(t, http.MethodGet, "/v1/admin/tenants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Tenant](t, rec), 2)

	rec = api.admin(t, http.MethodPut, base+"/flags/enterprise", map[string]bool{"value": true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.admin(t, http.MethodPut, base+"/flags/superpowers", map[string]bool{"value": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.admin(t, http.MethodPut, base+"/branding", map[string]string{"primary_color": "#00ff00", "logo_url": "https://cdn.example.com/logo.png"})
	require.Equal(t, http.StatusOK, rec.Code)
	branded := decode[model.Tenant](t, rec)
	require.NotNil(t, branded.PrimaryColor)
	assert.Equal(t, "#00FF00", *branded.PrimaryColor)

	rec = api.admin(t, http.MethodPut, base+"/branding", map[string]string{"primary_color": "green"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.admin(t, http.MethodPut, base+"/parent", map[string]string{"parent_tenant_id": partner.Tenant.ID.String()})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.admin(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Tenant](t, rec)
	assert.True(t, got.Enterprise)
	require.NotNil(t, got.ParentTenantID)
	assert.Equal(t, partner.Tenant.ID, *got.ParentTenantID)

	rec = api.admin(t, http.MethodGet, "/v1/admin/tenants/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.admin(t, http.MethodGet, "/v1/admin/tenants/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminIssueKey_Rotate(t *testing.T) {
	api := newTestAPI(t)
	res := api.provision(t, "Acme", "admin@acme.com")
	base := "/v1/admin/tenants/" + res.Tenant.ID.String()

	rec := api.admin(t, http.MethodPost, base+"/keys", map[string]bool{"rotate": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	newKey := decode[map[string]string](t, rec)["api_key"]

	rec = api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": res.APIKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": newKey})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.admin(t, http.MethodGet, base+"/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "key_hash")
	assert.Len(t, decode[[]model.APIKeyRecord](t, rec), 1)
}

func TestAdminProvision_InvalidInput(t *testing.T) {
	api := newTestAPI(t)

	rec := api.admin(t, http.MethodPost, "/v1/admin/tenants", map[string]string{"name": "Acme", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/tenants", bytes.NewBufferString("{broken"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", adminKey)
	out := httptest.NewRecorder()
	api.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	assert.Equal(t, "invalid_json", decode[apiError](t, out).Error)
}

func login(t *testing.T, api *testAPI, path string, body any) sessionResponse {
	t.Helper()
	rec := api.do(t, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[sessionResponse](t, rec)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestLoginSessionAndLicenseGuards(t *testing.T) {
	api := newTestAPI(t)
	res := api.provision(t, "Acme", "admin@acme.com")
	base := "/v1/admin/tenants/" + res.Tenant.ID.String()

	rec := api.admin(t, http.MethodPost, base+"/users", map[string]string{
		"email": "ciso@acme.com", "name": "CISO", "role": "client", "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cret-pass")

	rec = api.do(t, http.MethodPost, "/v1/login", map[string]string{"email": "ciso@acme.com", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := login(t, api, "/v1/login", map[string]string{"email": "ciso@acme.com", "password": "s3cret-pass"})
	assert.Equal(t, model.RoleClient, sess.Claims.Role)
	assert.False(t, sess.Claims.Enterprise)

	rec = api.do(t, http.MethodGet, "/v1/session", nil, bearer(sess.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.Tenant.ID.String(), decode[session.Claims](t, rec).TenantID)

	rec = api.do(t, http.MethodGet, "/v1/session", nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/analysis/radar", map[string]any{"context": map[string]any{"sector": "retail"}}, bearer(sess.Token))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// standard predictive needs only a session
	rec = api.do(t, http.MethodPost, "/v1/analysis/predictive", map[string]string{"query": "q"}, bearer(sess.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/v1/analysis/predictive", map[string]string{"query": "q", "tier": "prime"}, bearer(sess.Token))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.admin(t, http.MethodPut, base+"/flags/enterprise", map[string]bool{"value": true})
	require.Equal(t, http.StatusNoContent, rec.Code)
	sess = login(t, api, "/v1/login", map[string]string{"email": "ciso@acme.com", "password": "s3cret-pass"})

	rec = api.do(t, http.MethodPost, "/v1/analysis/radar", map[string]any{"context": map[string]any{"sector": "retail"}}, bearer(sess.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, api.analyzer.got, 2)
	assert.Equal(t, analysis.EngineRadar, api.analyzer.got[1].Engine)
	assert.Equal(t, "retail", api.analyzer.got[1].Context["sector"])
}

func TestSuperAdminAndImpersonation(t *testing.T) {
	api := newTestAPI(t)
	res := api.provision(t, "Acme", "admin@acme.com")

	rec := api.do(t, http.MethodPost, "/v1/login/superadmin", map[string]string{"key": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := login(t, api, "/v1/login/superadmin", map[string]string{"key": "master-key"})
	assert.Equal(t, model.RoleSuperAdmin, admin.Claims.Role)

	// operators see every module
	rec = api.do(t, http.MethodPost, "/v1/analysis/predictive", map[string]string{"query": "q", "tier": "prime"}, bearer(admin.Token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.admin(t, http.MethodPost, "/v1/admin/tenants/"+res.Tenant.ID.String()+"/impersonate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	imp := decode[sessionResponse](t, rec)
	assert.Equal(t, model.RoleImpersonated, imp.Claims.Role)
	assert.Equal(t, res.Tenant.ID.String(), imp.Claims.TenantID)
	assert.Equal(t, "Acme", imp.Claims.TenantName)
}

func TestAnalysisErrors(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "/v1/login/superadmin", map[string]string{"key": "master-key"})

	api.analyzer.err = &analysis.Error{Kind: analysis.KindTimeout}
	rec := api.do(t, http.MethodPost, "/v1/analysis/predictive", map[string]string{"query": "q"}, bearer(admin.Token))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	api.analyzer.err = &analysis.Error{Kind: analysis.KindAuth, Status: 401}
	rec = api.do(t, http.MethodPost, "/v1/analysis/predictive", map[string]string{"query": "q"}, bearer(admin.Token))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	unconfigured := newTestAPI(t, func(d *Deps) { d.Analysis = nil })
	admin = login(t, unconfigured, "/v1/login/superadmin", map[string]string{"key": "master-key"})
	rec = unconfigured.do(t, http.MethodPost, "/v1/analysis/predictive", map[string]string{"query": "q"}, bearer(admin.Token))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	api := newTestAPI(t, func(d *Deps) {
		d.RateLimit = 0.001
		d.RateBurst = 2
	})

	for i := 0; i < 2; i++ {
		rec := api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": "sk_ellit_x"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := api.do(t, http.MethodPost, "/v1/auth/verify", nil, map[string]string{"X-API-Key": "sk_ellit_x"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// another address has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/verify", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	out := httptest.NewRecorder()
	api.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestWebhookMounted(t *testing.T) {
	called := false
	api := newTestAPI(t, func(d *Deps) {
		d.Webhook = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})
	})
	rec := api.do(t, http.MethodPost, "/webhooks/stripe", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	rec = newTestAPI(t).do(t, http.MethodPost, "/webhooks/stripe", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

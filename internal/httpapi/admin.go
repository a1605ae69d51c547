package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/notify"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
)

type provisionRequest struct {
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Enterprise     bool       `json:"enterprise"`
	Prime          bool       `json:"prime"`
	ParentTenantID *uuid.UUID `json:"parent_tenant_id"`
	SendKey        bool       `json:"send_key"`
}

// provisionResponse carries the raw key. It is shown once and never again.
type provisionResponse struct {
	Tenant  *model.Tenant   `json:"tenant"`
	APIKey  string          `json:"api_key"`
	Outcome service.Outcome `json:"outcome"`
}

func (h *handler) provisionTenant(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !readJSON(w, r, &req) {
		return
	}
	res, err := h.Provisioning.Provision(r.Context(), service.ProvisionRequest{
		Name:           req.Name,
		Email:          req.Email,
		Enterprise:     req.Enterprise,
		Prime:          req.Prime,
		ParentTenantID: req.ParentTenantID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.SendKey {
		h.deliverKey(r, res.Tenant, res.RawKey)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, provisionResponse{Tenant: res.Tenant, APIKey: res.RawKey, Outcome: res.Outcome})
}

func (h *handler) deliverKey(r *http.Request, t *model.Tenant, rawKey string) {
	if h.Delivery == nil {
		return
	}
	err := h.Delivery.Deliver(r.Context(), notify.KeyNotice{
		TenantID:   t.ID,
		TenantName: t.Name,
		Email:      t.Email,
		RawKey:     rawKey,
	})
	if err != nil {
		log.Error().Err(err).Str("tenant_id", t.ID.String()).Msg("Failed to queue key delivery")
	}
}

func (h *handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Tenants.ListTenants(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []*model.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (h *handler) getTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	t, err := h.Tenants.GetTenant(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeServiceError(w, r, fmt.Errorf("%w: active is required", service.ErrInvalidInput))
		return
	}
	if err := h.Tenants.SetActive(r.Context(), id, *req.Active); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req struct {
		Value *bool `json:"value"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeServiceError(w, r, fmt.Errorf("%w: value is required", service.ErrInvalidInput))
		return
	}
	flag := model.Flag(chi.URLParam(r, "flag"))
	if err := h.Tenants.SetFlag(r.Context(), id, flag, *req.Value); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setBranding(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req service.Branding
	if !readJSON(w, r, &req) {
		return
	}
	t, err := h.Tenants.SetBranding(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) setParent(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req struct {
		ParentTenantID *uuid.UUID `json:"parent_tenant_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.Tenants.SetParent(r.Context(), id, req.ParentTenantID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	keys, err := h.Tenants.ListKeys(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if keys == nil {
		keys = []model.APIKeyRecord{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *handler) issueKey(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req struct {
		Rotate  bool `json:"rotate"`
		SendKey bool `json:"send_key"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	rawKey, err := h.Provisioning.IssueKey(r.Context(), id, req.Rotate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.SendKey {
		if t, err := h.Tenants.GetTenant(r.Context(), id); err == nil {
			h.deliverKey(r, t, rawKey)
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, map[string]string{"api_key": rawKey})
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req struct {
		Email    string     `json:"email"`
		Name     string     `json:"name"`
		Role     model.Role `json:"role"`
		Password string     `json:"password"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	user, err := h.Users.CreateUser(r.Context(), id, req.Email, req.Name, req.Role, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// impersonate opens a session inside the tenant for the operator holding
// the admin key.
func (h *handler) impersonate(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	operator := &service.Principal{Role: model.RoleSuperAdmin}
	p, err := h.Users.Impersonate(r.Context(), operator, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

func tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "tenant id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

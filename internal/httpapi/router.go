// Package httpapi exposes the identity service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/analysis"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/notify"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
)

// Analyzer runs Cognitive Core analyses.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Provisioning *service.ProvisioningService
	Auth         *service.Authenticator
	Tenants      *service.TenantService
	Users        *service.UserService
	Sessions     *session.Issuer
	Analysis     Analyzer
	// Webhook receives Stripe deliveries. Nil leaves the route unmounted.
	Webhook http.Handler
	// Delivery mails keys issued from the admin API. Nil only returns them.
	Delivery notify.KeyDelivery

	AdminKey  string
	RateLimit float64
	RateBurst int
}

type handler struct {
	Deps
}

// NewRouter builds the public HTTP API.
func NewRouter(d Deps) http.Handler {
	h := &handler{Deps: d}
	limiter := newIPLimiter(d.RateLimit, d.RateBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	if d.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/stripe", d.Webhook)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware)
			r.Post("/auth/verify", h.verifyKey)
			r.Post("/login", h.login)
			r.Post("/login/superadmin", h.superAdminLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireSession(d.Sessions))
			r.Get("/session", h.currentSession)
			r.Post("/analysis/radar", h.radar)
			r.Post("/analysis/predictive", h.predictive)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdminKey(d.AdminKey))
			r.Post("/tenants", h.provisionTenant)
			r.Get("/tenants", h.listTenants)
			r.Route("/tenants/{id}", func(r chi.Router) {
				r.Get("/", h.getTenant)
				r.Put("/active", h.setActive)
				r.Put("/flags/{flag}", h.setFlag)
				r.Put("/branding", h.setBranding)
				r.Put("/parent", h.setParent)
				r.Get("/keys", h.listKeys)
				r.Post("/keys", h.issueKey)
				r.Post("/users", h.createUser)
				r.Post("/impersonate", h.impersonate)
			})
		})
	})

	return r
}

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	TenantsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_tenants_provisioned_total",
			Help: "Total number of provisioning requests by outcome",
		},
		[]string{"outcome"}, // created, replaced, merged, rejected, failed
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shield_tenant_provisioning_duration_seconds",
			Help:    "Duration of tenant provisioning in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_auth_attempts_total",
			Help: "API key authentication attempts by result",
		},
		[]string{"result"}, // accepted, rejected, error
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_webhook_events_total",
			Help: "Stripe webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
	SchemaColumns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_schema_evolution_columns_total",
			Help: "Columns handled by schema evolution by result",
		},
		[]string{"result"}, // added, present, failed
	)
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_alerts_total",
			Help: "Operator alerts raised",
		},
		[]string{"alert"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shield_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func InitMetrics() {
	InitMetricsWith(prometheus.DefaultRegisterer)
}

// InitMetricsWith registers every collector on reg. Collectors that are
// already registered are logged and skipped.
func InitMetricsWith(reg prometheus.Registerer) {
	collectors := map[string]prometheus.Collector{
		"TenantsProvisioned":   TenantsProvisioned,
		"ProvisioningDuration": ProvisioningDuration,
		"AuthAttempts":         AuthAttempts,
		"WebhookEvents":        WebhookEvents,
		"SchemaColumns":        SchemaColumns,
		"Alerts":               Alerts,
		"HTTPRequests":         HTTPRequests,
		"HTTPDuration":         HTTPDuration,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Error().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
}

package monitoring

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitMetricsWith(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitMetricsWith(reg)

	TenantsProvisioned.WithLabelValues("created").Inc()
	count, err := testutil.GatherAndCount(reg, "shield_tenants_provisioned_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	// registering twice only logs
	InitMetricsWith(reg)
}

func TestAlert(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	before := testutil.ToFloat64(Alerts.WithLabelValues("reprovision_replace"))
	Alert("reprovision_replace", "tenant replaced", map[string]string{"email": "a@example.test"})

	assert.Equal(t, before+1, testutil.ToFloat64(Alerts.WithLabelValues("reprovision_replace")))
	assert.Contains(t, buf.String(), `"alert":"reprovision_replace"`)
	assert.Contains(t, buf.String(), `"email":"a@example.test"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestSetupLoggerTo(t *testing.T) {
	prevLevel := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prevLevel)
	prev := log.Logger
	defer func() { log.Logger = prev }()

	var buf bytes.Buffer
	SetupLoggerTo(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	buf.Reset()
	SetupLoggerTo(&buf, "bogus", "console")
	log.Info().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

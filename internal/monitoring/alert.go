package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert raises an operator alert. Alerts are logged at error level and
// counted; paging is left to whatever scrapes the logs and metrics.
func Alert(name, message string, labels map[string]string) {
	Alerts.WithLabelValues(name).Inc()

	fields := make(map[string]any, len(labels))
	for k, v := range labels {
		fields[k] = v
	}
	log.Error().
		Str("alert", name).
		Fields(fields).
		Msg("ALERT: " + message)
}

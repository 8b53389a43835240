package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	tokensGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinq_rate_limit_tokens",
			Help: "Remaining tokens in the outbound request bucket",
		},
	)
	blockedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinq_rate_limit_blocked_total",
			Help: "Requests blocked before reaching the API",
		},
		[]string{"reason"},
	)
	retryAfterGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinq_rate_limit_retry_after_seconds",
			Help: "Cooldown applied after the last 429 response",
		},
	)
	lastStatusGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinq_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the throttle wrapper",
		},
	)
)

// MetricsCollectors exposes shared throttle collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		tokensGauge,
		blockedCounter,
		retryAfterGauge,
		lastStatusGauge,
	}
}

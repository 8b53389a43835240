package session

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thinq_session_refresh_success_total",
			Help: "Successful access token refreshes",
		},
	)
	refreshFailure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thinq_session_refresh_failure_total",
			Help: "Failed access token refreshes",
		},
	)
	tokenValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinq_session_token_valid",
			Help: "Access token validity (1=valid, 0=invalid)",
		},
	)
	remotePersistOK = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thinq_session_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
	)
	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinq_session_auth_failure_total",
			Help: "Terminal authentication failures by reason",
		},
		[]string{"reason"},
	)
)

// MetricsCollectors returns collectors for the session module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenValid,
		remotePersistOK,
		authFailures,
	}
}

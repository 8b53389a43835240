package poller

import "github.com/prometheus/client_golang/prometheus"

var (
	pollSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinq_poll_success_total",
			Help: "Successful poll cycles per device",
		},
		[]string{"device"},
	)
	pollFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinq_poll_failure_total",
			Help: "Failed poll cycles per device",
		},
		[]string{"device"},
	)
	decodeUnknownCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thinq_decode_unknown_code_total",
			Help: "Snapshot values carrying an undeclared enum code",
		},
		[]string{"device"},
	)
	deviceOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thinq_device_online",
			Help: "Device connectivity as of the last poll (1=online, 0=offline)",
		},
		[]string{"device"},
	)
)

// MetricsCollectors returns collectors for the poller module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		pollSuccess,
		pollFailure,
		decodeUnknownCodes,
		deviceOnline,
	}
}

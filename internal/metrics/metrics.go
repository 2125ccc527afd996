// internal/metrics/metrics.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DeviceChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_checks_total",
			Help: "Device checks by resolved status.",
		},
		[]string{"status"},
	)

	CertificatesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certificates_issued_total",
			Help: "Purchase certificates issued, by origin.",
		},
		[]string{"origin"},
	)

	ReportsFiledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reports_filed_total",
			Help: "Theft reports filed.",
		},
	)

	ReportTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_transitions_total",
			Help: "Theft report status changes, by target status.",
		},
		[]string{"status"},
	)

	IssuanceRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificate_issuance_retries_total",
			Help: "Issuance attempts retried after a certificate number collision.",
		},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_events_total",
			Help: "Lifecycle events by delivery outcome (bus, outbox, dropped).",
		},
		[]string{"outcome"},
	)
)

// MustRegister registers every collector with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		DeviceChecksTotal,
		CertificatesIssuedTotal,
		ReportsFiledTotal,
		ReportTransitionsTotal,
		IssuanceRetriesTotal,
		EventsPublishedTotal,
	)
}

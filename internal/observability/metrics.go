package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "musterctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"device", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "musterctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "method", "path", "status"},
	)
	scanEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "musterctl",
			Subsystem: "session",
			Name:      "scans_total",
			Help:      "Scan events by match result.",
		},
		[]string{"device", "unit", "result"},
	)
	storePushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "musterctl",
			Subsystem: "store",
			Name:      "pushes_total",
			Help:      "Remote document pushes by outcome.",
		},
		[]string{"device", "doc", "outcome"},
	)
	forcedCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "musterctl",
			Subsystem: "session",
			Name:      "forced_closes_total",
			Help:      "Sessions closed by remote state rather than the operator.",
		},
		[]string{"device", "unit", "reason"},
	)
	reconcileApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "musterctl",
			Subsystem: "fleet",
			Name:      "reconcile_total",
			Help:      "Inbound fleet snapshot applications by decision.",
		},
		[]string{"device", "decision"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			scanEvents,
			storePushes,
			forcedCloses,
			reconcileApplied,
		)
	})
}

func RecordHTTPRequest(device, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(device, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(device, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordScan(device, unit, result string) {
	RegisterMetrics()
	scanEvents.WithLabelValues(device, unit, result).Inc()
}

func RecordStorePush(device, doc string, err error) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storePushes.WithLabelValues(device, doc, outcome).Inc()
}

func RecordForcedClose(device, unit, reason string) {
	RegisterMetrics()
	forcedCloses.WithLabelValues(device, unit, reason).Inc()
}

func RecordReconcile(device, decision string) {
	RegisterMetrics()
	reconcileApplied.WithLabelValues(device, decision).Inc()
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeOK      = "ok"
	OutcomeRemote  = "remote_error"
	OutcomeClosed  = "closed"
	OutcomeAborted = "abandoned"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total sidecar HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fusion",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Sidecar HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	messengerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "messenger",
			Name:      "frames_total",
			Help:      "Frames read from or written to the scene-graph connection.",
		},
		[]string{"direction", "type"},
	)
	messengerPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fusion",
			Subsystem: "messenger",
			Name:      "pending_calls",
			Help:      "Method calls awaiting a response.",
		},
	)
	messengerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fusion",
			Subsystem: "messenger",
			Name:      "call_duration_seconds",
			Help:      "Remote method call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)
	messengerDispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "messenger",
			Name:      "dispatch_errors_total",
			Help:      "Inbound frames that could not be routed or decoded.",
		},
		[]string{"kind"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			messengerFrames,
			messengerPending,
			messengerCallDuration,
			messengerDispatchErrors,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(direction string, messageType uint32) {
	RegisterMetrics()
	messengerFrames.WithLabelValues(direction, frameTypeLabel(messageType)).Inc()
}

func SetPendingCalls(n int) {
	RegisterMetrics()
	messengerPending.Set(float64(n))
}

func RecordCall(method, outcome string, duration time.Duration) {
	RegisterMetrics()
	messengerCallDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func RecordDispatchError(kind string) {
	RegisterMetrics()
	messengerDispatchErrors.WithLabelValues(kind).Inc()
}

func frameTypeLabel(messageType uint32) string {
	switch messageType {
	case 1:
		return "signal"
	case 2:
		return "method_call"
	case 3:
		return "method_return"
	default:
		return "unknown"
	}
}

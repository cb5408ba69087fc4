package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "protocol",
			Name:      "messages_total",
			Help:      "Protocol messages by direction and command.",
		},
		[]string{"direction", "cmd"},
	)
	messageBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "protocol",
			Name:      "message_bytes_total",
			Help:      "Protocol frame bytes by direction and command.",
		},
		[]string{"direction", "cmd"},
	)
	sessionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Session errors by kind.",
		},
		[]string{"kind"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tracectl",
			Subsystem: "session",
			Name:      "active",
			Help:      "Open session handles by role.",
		},
		[]string{"role"},
	)
	cpuIntakeBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "collector",
			Name:      "cpu_bytes_total",
			Help:      "Raw trace bytes taken in per CPU data socket.",
		},
		[]string{"cpu"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"component", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tracectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesTotal, messageBytes,
			sessionErrors, sessionsActive,
			cpuIntakeBytes,
			httpRequests, httpDuration,
		)
	})
}

func RecordMessageSent(cmd string, bytes int) {
	RegisterMetrics()
	messagesTotal.WithLabelValues("sent", cmd).Inc()
	messageBytes.WithLabelValues("sent", cmd).Add(float64(bytes))
}

func RecordMessageReceived(cmd string, bytes int) {
	RegisterMetrics()
	messagesTotal.WithLabelValues("received", cmd).Inc()
	messageBytes.WithLabelValues("received", cmd).Add(float64(bytes))
}

func RecordSessionError(kind string) {
	RegisterMetrics()
	sessionErrors.WithLabelValues(kind).Inc()
}

func SessionOpened(role string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(role).Inc()
}

func SessionClosed(role string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(role).Dec()
}

func RecordCPUIntake(cpu int, bytes int64) {
	RegisterMetrics()
	cpuIntakeBytes.WithLabelValues(strconv.Itoa(cpu)).Add(float64(bytes))
}

func RecordHTTPRequest(component, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(component, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(component, method, path, statusLabel).Observe(duration.Seconds())
}

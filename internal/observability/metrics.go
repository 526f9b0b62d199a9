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
			Namespace: "chatwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "arq",
			Name:      "frames_sent_total",
			Help:      "Frames written to the transport, including retransmissions.",
		},
		[]string{"type"},
	)
	retransmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "arq",
			Name:      "retransmissions_total",
			Help:      "Frames retransmitted after an ack timeout.",
		},
		[]string{"type"},
	)
	deliveryResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "arq",
			Name:      "deliveries_total",
			Help:      "Terminal results of reliable sends.",
		},
		[]string{"type", "result"},
	)
	ackLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatwire",
			Subsystem: "arq",
			Name:      "ack_latency_seconds",
			Help:      "Time from first transmission to matching ack.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"type"},
	)
	inboundDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "session",
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages dropped before dispatch.",
		},
		[]string{"reason"},
	)
	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Username registration attempts by result.",
		},
		[]string{"result"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatwire",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently open sessions.",
		},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatwire",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Closed sessions by reason.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesSent,
			retransmissions,
			deliveryResults,
			ackLatency,
			inboundDrops,
			registrations,
			sessionsActive,
			sessionsClosed,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameSent(msgType string) {
	RegisterMetrics()
	framesSent.WithLabelValues(msgType).Inc()
}

func RecordRetransmission(msgType string) {
	RegisterMetrics()
	retransmissions.WithLabelValues(msgType).Inc()
}

// RecordDelivery records the terminal result of one reliable send.
// result is one of "acked", "rejected", "failed", "closed".
func RecordDelivery(msgType, result string, elapsed time.Duration) {
	RegisterMetrics()
	deliveryResults.WithLabelValues(msgType, result).Inc()
	if result == "acked" {
		ackLatency.WithLabelValues(msgType).Observe(elapsed.Seconds())
	}
}

func RecordInboundDrop(reason string) {
	RegisterMetrics()
	inboundDrops.WithLabelValues(reason).Inc()
}

func RecordRegistration(result string) {
	RegisterMetrics()
	registrations.WithLabelValues(result).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionClosed(reason string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionsClosed.WithLabelValues(reason).Inc()
}

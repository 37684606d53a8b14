package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message routing outcomes used as the "result" label of MessagesTotal
const (
	ResultDelivered      = "delivered"
	ResultDroppedOffline = "dropped_offline"
	ResultDroppedStalled = "dropped_stalled"
	ResultRejected       = "rejected"
)

// Identify outcomes used as the "result" label of IdentifyTotal
const (
	IdentifyBound    = "bound"
	IdentifyRejected = "rejected"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec

	// Connection lifecycle
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	IdentifyTotal     *prometheus.CounterVec
	DirectorySize     prometheus.Gauge

	// Routing
	MessagesTotal  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec

	// Presence mirror
	MirrorUpdatesDropped prometheus.Counter
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),
			HTTPActiveRequests: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "http_active_requests",
					Help: "Number of HTTP requests currently being served",
				},
				[]string{"method", "path"},
			),

			ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "relay_connections_active",
				Help: "Number of open relay connections",
			}),
			ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "relay_connections_total",
				Help: "Total number of accepted relay connections",
			}),
			IdentifyTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_identify_total",
					Help: "Identify events by outcome",
				},
				[]string{"result"},
			),
			DirectorySize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "relay_directory_size",
				Help: "Number of identities currently bound to a connection",
			}),

			MessagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_messages_total",
					Help: "Chat messages handled by the router, by outcome",
				},
				[]string{"result"},
			),
			EventsRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_events_rejected_total",
					Help: "Inbound events ignored by the relay, by reason",
				},
				[]string{"reason"},
			),

			MirrorUpdatesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "relay_presence_mirror_dropped_total",
				Help: "Presence mirror updates dropped because the queue was full",
			}),
		}
	})
	return instance
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Initialize()
}

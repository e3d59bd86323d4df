// Package metrics exposes the server's prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livesync"

// Metrics holds the collectors of one server.
type Metrics struct {
	registry *prometheus.Registry

	connections     *prometheus.GaugeVec
	eventsDelivered *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	requests        *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	syncErrors      prometheus.Counter
	cachedIssues    prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open realtime connections by transport.",
		}, []string{"transport"}),
		eventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Notifications written to client send buffers by channel.",
		}, []string{"channel"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Notifications dropped because a buffer was full.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_requests_total",
			Help:      "Socket requests by action and status code.",
		}, []string{"action", "code"}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "GitHub webhook deliveries by event and outcome.",
		}, []string{"event", "outcome"}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_sync_duration_seconds",
			Help:      "Duration of full upstream ticket loads.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		syncErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_sync_errors_total",
			Help:      "Failed upstream ticket loads.",
		}),
		cachedIssues: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_issues",
			Help:      "Issues held in the ticket cache.",
		}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetConnections records the number of open connections of a transport.
func (m *Metrics) SetConnections(transport string, n int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Set(float64(n))
}

// EventDelivered counts one notification queued for a client.
func (m *Metrics) EventDelivered(channel string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(channel).Inc()
}

// EventDropped counts one dropped notification.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// Request counts one socket request.
func (m *Metrics) Request(action string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, http.StatusText(code)).Inc()
}

// Webhook counts one webhook delivery.
func (m *Metrics) Webhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

// ObserveSync records a full upstream load.
func (m *Metrics) ObserveSync(seconds float64, err error) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(seconds)
	if err != nil {
		m.syncErrors.Inc()
	}
}

// SetCachedIssues records the ticket cache size.
func (m *Metrics) SetCachedIssues(n int) {
	if m == nil {
		return
	}
	m.cachedIssues.Set(float64(n))
}

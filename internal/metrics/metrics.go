// Package metrics holds the proxy's Prometheus collectors. All recording
// methods are safe to call on a nil *Metrics, which is what the rest of the
// program receives when metrics are disabled.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "eventhub_proxy"

// otherLabel replaces any label value outside a bounded set.
const otherLabel = "other"

// latencyBuckets run from 5ms to roughly 20s: JSON calls land at the low end,
// media transfers through the static mount at the high end.
var latencyBuckets = prometheus.ExponentialBuckets(0.005, 2.5, 10)

var boundedMethods = map[string]bool{
	"GET": true, "HEAD": true, "OPTIONS": true,
	"POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Metrics records inbound traffic per mount and the outcome of every
// upstream call.
type Metrics struct {
	Registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	inFlight       prometheus.Gauge

	upstreamLatency   *prometheus.HistogramVec
	upstreamResponses *prometheus.CounterVec
	upstreamFailures  *prometheus.CounterVec

	mounts []string
}

// New registers every collector on a fresh registry. mounts are the route
// prefixes that may appear as the "mount" label; other paths are "other".
// Empty and root prefixes are ignored.
func New(mounts ...string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound requests by method, response status and mount.",
		}, []string{"method", "status_code", "mount"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time from receiving a request to finishing its response.",
			Buckets:   latencyBuckets,
		}, []string{"method", "status_code", "mount"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Inbound requests currently being served.",
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Time until the upstream answered with headers or failed.",
			Buckets:   latencyBuckets,
		}, []string{"method"}),
		upstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "responses_total",
			Help:      "Upstream responses by method and status code.",
		}, []string{"method", "status_code"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Upstream calls that produced no response, by failure reason.",
		}, []string{"method", "reason"}),
	}

	for _, p := range mounts {
		if p != "" && p != "/" {
			m.mounts = append(m.mounts, p)
		}
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestLatency,
		m.inFlight,
		m.upstreamLatency,
		m.upstreamResponses,
		m.upstreamFailures,
	)

	return m
}

// TrackRequest marks an inbound request as in flight. The returned func must
// be called once with the final response status.
func (m *Metrics) TrackRequest(method, path string) func(status int) {
	if m == nil {
		return func(int) {}
	}

	m.inFlight.Inc()
	start := time.Now()
	method, mount := methodLabel(method), m.Mount(path)

	return func(status int) {
		m.inFlight.Dec()
		code := strconv.Itoa(status)
		m.requests.WithLabelValues(method, code, mount).Inc()
		m.requestLatency.WithLabelValues(method, code, mount).Observe(time.Since(start).Seconds())
	}
}

// ObserveUpstream records an upstream call that returned a response.
func (m *Metrics) ObserveUpstream(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	method = methodLabel(method)
	m.upstreamLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	m.upstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveUpstreamFailure records an upstream call that produced no response.
func (m *Metrics) ObserveUpstreamFailure(method, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	method = methodLabel(method)
	m.upstreamLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	m.upstreamFailures.WithLabelValues(method, reason).Inc()
}

// Mount returns the configured prefix path falls under, or "other".
// A prefix matches only on a segment boundary: /api/proxyX is not under /api/proxy.
func (m *Metrics) Mount(path string) string {
	for _, prefix := range m.mounts {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return prefix
		}
	}
	return otherLabel
}

func methodLabel(method string) string {
	if boundedMethods[method] {
		return method
	}
	return otherLabel
}

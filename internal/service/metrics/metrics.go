// Package metrics exposes handshake counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"vpn_handshake/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpnhs"

type Metrics struct {
	registry *prometheus.Registry

	handshakes *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	tunnels    prometheus.Gauge
	payloads   *prometheus.CounterVec
}

// New registers the handshake metrics on a fresh registry, so several
// instances can coexist in tests.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Finished handshake attempts by role and result.",
		}, []string{"role", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from first frame to outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"role"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handshakes_in_flight",
			Help:      "Handshake attempts currently running.",
		}),
		tunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tunnels_open",
			Help:      "Established tunnels not yet closed.",
		}),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_payloads_total",
			Help:      "Tunnel payloads by direction.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(m.handshakes, m.duration, m.inFlight, m.tunnels, m.payloads)
	return m
}

// Started marks one attempt as running. The returned func records its end;
// pass "established" or a rejection kind.
func (m *Metrics) Started(role model.Role) func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.handshakes.WithLabelValues(role.String(), result).Inc()
		m.duration.WithLabelValues(role.String()).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) TunnelOpened() {
	if m != nil {
		m.tunnels.Inc()
	}
}

func (m *Metrics) TunnelClosed() {
	if m != nil {
		m.tunnels.Dec()
	}
}

func (m *Metrics) Payload(direction string) {
	if m != nil {
		m.payloads.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

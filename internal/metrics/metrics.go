// Package metrics exposes Prometheus collectors for the mock registry.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "registry_mock"

// Callback outcomes counted by CallbackOutcome.
const (
	OutcomeScheduled = "scheduled"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Metrics is nil-safe: every recording method on a nil *Metrics is a
// no-op, so components can run without a registry.
type Metrics struct {
	mu sync.Mutex

	requestsTotal   *prometheus.CounterVec
	responsesTotal  *prometheus.CounterVec
	callbacksTotal  *prometheus.CounterVec
	callbackLatency prometheus.Histogram
	recordings      prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:     registerer,
		requestsTotal:  newCounterVec("requests_total", "Registry requests received, by endpoint and schema validity", []string{"endpoint", "valid"}),
		responsesTotal: newCounterVec("responses_total", "Registry responses written, by endpoint and HTTP status", []string{"endpoint", "status"}),
		callbacksTotal: newCounterVec("callbacks_total", "Callback dispatch outcomes", []string{"outcome"}),
		callbackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_delivery_seconds",
			Help:      "Duration of callback POSTs",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		recordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings",
			Help:      "Requests currently held by the recorder",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.responsesTotal,
		m.callbacksTotal,
		m.callbackLatency,
		m.recordings,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) Request(endpoint string, valid bool) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) Response(endpoint string, status int) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Metrics) CallbackOutcome(outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CallbackDelivery(d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.callbackLatency.Observe(d.Seconds())
	if success {
		m.CallbackOutcome(OutcomeDelivered)
	} else {
		m.CallbackOutcome(OutcomeFailed)
	}
}

func (m *Metrics) Recordings(n int) {
	if m == nil {
		return
	}
	m.recordings.Set(float64(n))
}

// Handler serves the Prometheus exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Package metrics exposes turn pipeline counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/falaja/tutor-bot/pkg/circuitbreaker"
)

const namespace = "tutor_bot"

// Recorder implements session.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	received      prometheus.Counter
	duplicates    prometheus.Counter
	turns         *prometheus.CounterVec
	notices       *prometheus.CounterVec
	persistFailed *prometheus.CounterVec
	readFailed    prometheus.Counter
	collaborators *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// NewRecorder registers every collector on a fresh registry. Process and Go
// runtime collectors are included.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages handed to the orchestrator.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_duplicate_total",
			Help:      "Redelivered messages dropped by the dedupe guard.",
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paywall_decisions_total",
			Help:      "Paywall stops by notice kind.",
		}, []string{"kind"}),
		persistFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Durable writes that failed and were swallowed.",
		}, []string{"op"}),
		readFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_read_failures_total",
			Help:      "Durable reads that failed and fell back to the cache.",
		}),
		collaborators: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Outbound collaborator failures by collaborator.",
		}, []string{"collaborator"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.received,
		r.duplicates,
		r.turns,
		r.notices,
		r.persistFailed,
		r.readFailed,
		r.collaborators,
		r.breakerState,
	)
	return r
}

func (r *Recorder) MessageReceived() {
	r.received.Inc()
}

func (r *Recorder) DuplicateDropped() {
	r.duplicates.Inc()
}

func (r *Recorder) DurableReadFailed() {
	r.readFailed.Inc()
}

func (r *Recorder) TurnCompleted(outcome string) {
	r.turns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) PaywallNotice(kind string) {
	r.notices.WithLabelValues(kind).Inc()
}

func (r *Recorder) PersistFailed(op string) {
	r.persistFailed.WithLabelValues(op).Inc()
}

func (r *Recorder) CollaboratorFailed(name string) {
	r.collaborators.WithLabelValues(name).Inc()
}

// BreakerChanged records a circuit breaker transition. Its signature matches
// circuitbreaker.WithOnStateChange.
func (r *Recorder) BreakerChanged(name string, _, to circuitbreaker.State) {
	r.breakerState.WithLabelValues(name).Set(float64(to))
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

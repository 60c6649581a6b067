package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry engine.
// Every method is safe on a nil receiver so services can run without metrics.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	Conflicts          *prometheus.CounterVec
	AnchorDuration     prometheus.Histogram
	AnchorOutcomes     *prometheus.CounterVec
	PendingAnchors     prometheus.Gauge
	CreditsIssued      prometheus.Counter
	CreditsRetired     prometheus.Counter
	CreditsTransferred prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers the registry metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ogcr_transitions_total",
			Help: "Committed lifecycle transitions by document kind and event",
		}, []string{"kind", "event"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ogcr_conflicts_total",
			Help: "Submissions rejected by the conflict detector",
		}, []string{"type"}),
		AnchorDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ogcr_anchor_duration_seconds",
			Help:    "Duration of ledger anchor calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		AnchorOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ogcr_anchor_outcomes_total",
			Help: "Ledger anchor results (anchored, pending, failed)",
		}, []string{"outcome"}),
		PendingAnchors: f.NewGauge(prometheus.GaugeOpts{
			Name: "ogcr_pending_anchors",
			Help: "Versions waiting for ledger confirmation at the last reconciliation",
		}),
		CreditsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "ogcr_credits_issued_total",
			Help: "Carbon removal units minted",
		}),
		CreditsRetired: f.NewCounter(prometheus.CounterOpts{
			Name: "ogcr_credits_retired_total",
			Help: "Carbon removal units retired",
		}),
		CreditsTransferred: f.NewCounter(prometheus.CounterOpts{
			Name: "ogcr_credits_transferred_total",
			Help: "Carbon removal unit ownership changes",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ogcr_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ogcr_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// IncTransition records a committed lifecycle transition.
func (m *Metrics) IncTransition(kind, event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, event).Inc()
}

// IncConflict records a spatial or temporal conflict rejection.
func (m *Metrics) IncConflict(kind string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(kind).Inc()
}

// ObserveAnchor records the duration and outcome of one anchor attempt.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAnchor(start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.AnchorDuration.Observe(time.Since(start).Seconds())
	m.AnchorOutcomes.WithLabelValues(outcome).Inc()
}

// IncAnchorOutcome counts a transition outcome that has no single ledger call behind it.
func (m *Metrics) IncAnchorOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AnchorOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPendingAnchors(n int) {
	if m == nil {
		return
	}
	m.PendingAnchors.Set(float64(n))
}

func (m *Metrics) AddIssued(n int) {
	if m == nil {
		return
	}
	m.CreditsIssued.Add(float64(n))
}

func (m *Metrics) AddRetired(n int) {
	if m == nil {
		return
	}
	m.CreditsRetired.Add(float64(n))
}

func (m *Metrics) AddTransferred(n int) {
	if m == nil {
		return
	}
	m.CreditsTransferred.Add(float64(n))
}

// ObserveRequest records one served HTTP request. route is the matched route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}

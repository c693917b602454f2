package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AssignmentMetrics records outcomes of the order assignment pipeline.
type AssignmentMetrics struct {
	offersDispatched *prometheus.CounterVec
	commits          *prometheus.CounterVec
	escalations      prometheus.Counter
	unassignable     prometheus.Counter
	candidatesFound  prometheus.Histogram
}

// NewAssignmentMetrics registers the assignment metrics on the provided registerer.
func NewAssignmentMetrics(reg prometheus.Registerer) *AssignmentMetrics {
	if reg == nil {
		return &AssignmentMetrics{}
	}
	offersDispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_offers_dispatched_total",
		Help: "Offers pushed to agents, labelled by order priority.",
	}, []string{"priority"})
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_commits_total",
		Help: "Accept attempts by outcome (won, lost, conflict).",
	}, []string{"outcome"})
	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_escalations_total",
		Help: "Search retries after an offer round produced no assignment.",
	})
	unassignable := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "assignment_unassignable_total",
		Help: "Orders that exhausted every escalation attempt.",
	})
	candidatesFound := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assignment_candidates_found",
		Help:    "Eligible candidates discovered per search.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
	reg.MustRegister(offersDispatched, commits, escalations, unassignable, candidatesFound)
	return &AssignmentMetrics{
		offersDispatched: offersDispatched,
		commits:          commits,
		escalations:      escalations,
		unassignable:     unassignable,
		candidatesFound:  candidatesFound,
	}
}

// IncOffersDispatched adds dispatched offers for the given priority.
func (m *AssignmentMetrics) IncOffersDispatched(priority string, count int) {
	if m == nil || m.offersDispatched == nil {
		return
	}
	m.offersDispatched.WithLabelValues(normalizeLabel(priority)).Add(float64(count))
}

// IncCommit increments the accept outcome counter.
func (m *AssignmentMetrics) IncCommit(outcome string) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncEscalation counts a widened-radius retry.
func (m *AssignmentMetrics) IncEscalation() {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.Inc()
}

// IncUnassignable counts an order that ran out of attempts.
func (m *AssignmentMetrics) IncUnassignable() {
	if m == nil || m.unassignable == nil {
		return
	}
	m.unassignable.Inc()
}

// ObserveCandidates records how many eligible candidates a search produced.
func (m *AssignmentMetrics) ObserveCandidates(count int) {
	if m == nil || m.candidatesFound == nil {
		return
	}
	m.candidatesFound.Observe(float64(count))
}

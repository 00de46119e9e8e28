package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus collectors
type Metrics struct {
	// groups counts processed stage groups.
	// Labels: stage, outcome (success, degraded, manual-required)
	groups *prometheus.CounterVec

	// nodes counts enriched nodes.
	// Labels: stage, status (completed, manual-required)
	nodes *prometheus.CounterVec

	// extractions counts which extractor recovered a group's results.
	// Labels: extractor (json, pattern)
	extractions *prometheus.CounterVec

	// groupDuration measures one group from prompt to merge
	groupDuration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		groups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonfill",
			Subsystem: "enrich",
			Name:      "groups_total",
			Help:      "Stage groups processed by outcome",
		}, []string{"stage", "outcome"}),
		nodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonfill",
			Subsystem: "enrich",
			Name:      "nodes_total",
			Help:      "Nodes enriched by completion status",
		}, []string{"stage", "status"}),
		extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonfill",
			Subsystem: "enrich",
			Name:      "extractions_total",
			Help:      "Groups whose results were recovered by each extractor",
		}, []string{"extractor"}),
		groupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carbonfill",
			Subsystem: "enrich",
			Name:      "group_duration_seconds",
			Help:      "Time to enrich one stage group",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
	}
}

func (m *Metrics) observeGroup(report GroupReport, members []Member, seconds float64) {
	if m == nil {
		return
	}
	stage := string(report.Stage)
	m.groups.WithLabelValues(stage, string(report.Outcome)).Inc()
	m.groupDuration.WithLabelValues(stage).Observe(seconds)
	if report.Extractor != "" {
		m.extractions.WithLabelValues(report.Extractor).Inc()
	}
	for _, mem := range members {
		m.nodes.WithLabelValues(stage, mem.Node.Common().CompletionStatus).Inc()
	}
}

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation names used as metric labels and log fields.
const (
	opCast           = "cast"
	opSwitch         = "switch"
	opCancel         = "cancel"
	opCreateProject  = "create_project"
	opPublish        = "publish"
	opProposeProject = "propose_project"
	opProposeItem    = "propose_item"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	leaderChanges *prometheus.CounterVec
	sinkFailures  prometheus.Counter
	cacheLookups  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tallyberry",
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome kind.",
		}, []string{"op", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tallyberry",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger write transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		leaderChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tallyberry",
			Name:      "leader_changes_total",
			Help:      "Committed leadership transitions by kind.",
		}, []string{"transition"}),
		sinkFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tallyberry",
			Name:      "sink_failures_total",
			Help:      "Post-commit event deliveries that failed.",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tallyberry",
			Name:      "leader_cache_lookups_total",
			Help:      "Leader cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) leaderChanged(t *transition) {
	if m == nil {
		return
	}
	label := "replaced"
	switch {
	case t.from == nil:
		label = "elected"
	case t.to == nil:
		label = "vacated"
	}
	m.leaderChanges.WithLabelValues(label).Inc()
}

func (m *Metrics) sinkFailed() {
	if m == nil {
		return
	}
	m.sinkFailures.Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

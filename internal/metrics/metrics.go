package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/chiprank/pkg/types"
)

const namespace = "chiprank"

// Filter stage labels.
const (
	StageIncompatible  = "incompatible"
	StageInauthentic   = "inauthentic"
	StageBelowMinScore = "below_min_score"
	StageBland         = "bland"
	StageDiversity     = "diversity"
	StageTruncated     = "truncated"
)

// Metrics exposes Prometheus collectors for retrieval and indexing. All
// methods are safe on a nil receiver, which disables collection.
type Metrics struct {
	queries       *prometheus.CounterVec
	filtered      *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	results       prometheus.Histogram
	indexed       *prometheus.CounterVec
}

// New registers the chiprank collectors with reg. A collector that is
// already registered is reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Ranked retrieval queries by resolved mode and intent.",
		}, []string{"mode", "intent"}),
		filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "filtered_total",
			Help:      "Candidates removed by each ranking stage.",
		}, []string{"stage"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent embedding the query and searching for candidates.",
			Buckets:   prometheus.DefBuckets,
		}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of ranked results returned per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		}),
		indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chips_total",
			Help:      "Chips processed by the indexer by outcome.",
		}, []string{"status"}),
	}

	var err error
	if m.queries, err = register(reg, m.queries); err != nil {
		return nil, err
	}
	if m.filtered, err = register(reg, m.filtered); err != nil {
		return nil, err
	}
	if m.fetchDuration, err = register(reg, m.fetchDuration); err != nil {
		return nil, err
	}
	if m.results, err = register(reg, m.results); err != nil {
		return nil, err
	}
	if m.indexed, err = register(reg, m.indexed); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is like New but panics on a registration error.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveQuery records one completed retrieval.
func (m *Metrics) ObserveQuery(mode types.Mode, intent types.Category, stats types.FilterStats) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(string(mode), string(intent)).Inc()
	m.filtered.WithLabelValues(StageIncompatible).Add(float64(stats.Incompatible))
	m.filtered.WithLabelValues(StageInauthentic).Add(float64(stats.Inauthentic))
	m.filtered.WithLabelValues(StageBelowMinScore).Add(float64(stats.BelowMinScore))
	m.filtered.WithLabelValues(StageBland).Add(float64(stats.Bland))
	m.filtered.WithLabelValues(StageDiversity).Add(float64(stats.Diversity))
	m.filtered.WithLabelValues(StageTruncated).Add(float64(stats.Truncated))
	m.results.Observe(float64(stats.Returned))
}

// ObserveFetch records the latency of the embed-and-search step.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// ObserveIndex records indexer outcomes.
func (m *Metrics) ObserveIndex(indexed, skipped, failed int) {
	if m == nil {
		return
	}
	m.indexed.WithLabelValues("indexed").Add(float64(indexed))
	m.indexed.WithLabelValues("skipped").Add(float64(skipped))
	m.indexed.WithLabelValues("failed").Add(float64(failed))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

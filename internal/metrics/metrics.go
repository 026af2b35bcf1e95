// Package metrics exposes Prometheus instruments for clustering runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
)

const namespace = "hiercluster"

// Run outcomes used as the status label.
const (
	StatusOK       = "ok"
	StatusCanceled = "canceled"
	StatusFailed   = "failed"
)

// Metrics records clustering work. A nil *Metrics ignores every call.
type Metrics struct {
	runs                 *prometheus.CounterVec
	duration             *prometheus.HistogramVec
	rows                 prometheus.Histogram
	merges               prometheus.Counter
	distanceComputations prometheus.Counter
	cacheHits            prometheus.Counter
	fallbacks            prometheus.Counter
}

// New registers the instruments with reg. It returns nil if reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	return &Metrics{
		runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of clustering runs by linkage and outcome",
		}, []string{"linkage", "status"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished clustering runs",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"linkage"}),
		rows: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_rows",
			Help:      "Number of input rows per finished run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		merges: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Total number of cluster merges",
		}),
		distanceComputations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_computations_total",
			Help:      "Total number of row-to-row distance evaluations",
		}),
		cacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distance_cache_hits_total",
			Help:      "Total number of distances served from the cache",
		}),
		fallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_count_fallbacks_total",
			Help:      "Runs whose requested cluster count exceeded the number of rows",
		}),
	}
}

// ObserveResult records a finished run.
func (m *Metrics) ObserveResult(res *cluster.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	linkage := res.Plan.Linkage.String()
	m.runs.WithLabelValues(linkage, StatusOK).Inc()
	m.duration.WithLabelValues(linkage).Observe(elapsed.Seconds())
	m.rows.Observe(float64(res.Table.Len()))
	m.merges.Add(float64(res.Stats.Merges))
	m.distanceComputations.Add(float64(res.Stats.DistanceComputations))
	m.cacheHits.Add(float64(res.Stats.CacheHits))
	if res.Fallback {
		m.fallbacks.Inc()
	}
}

// ObserveFailure records a run that did not produce a result.
func (m *Metrics) ObserveFailure(linkage, status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(linkage, status).Inc()
}

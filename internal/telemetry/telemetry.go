package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters exposed on /metrics. All counters are
// registered on a private registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	ItemsFetched     *prometheus.CounterVec
	ItemsSaved       prometheus.Counter
	ItemsDuplicate   prometheus.Counter
	Clusters         prometheus.Counter
	Batches          prometheus.Counter
	Candidates       prometheus.Counter
	StoriesPersisted prometheus.Counter
	ProviderErrors   *prometheus.CounterVec
	RunDuration      prometheus.Histogram
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ItemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "items_fetched_total",
			Help:      "Raw items fetched from upstream feeds.",
		}, []string{"category"}),
		ItemsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "items_saved_total",
			Help:      "Raw items newly persisted.",
		}),
		ItemsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "items_duplicate_total",
			Help:      "Raw items skipped because the link was already stored.",
		}),
		Clusters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "clusters_total",
			Help:      "Clusters produced by the grouping stage.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "batches_total",
			Help:      "Synthesis batches sent to the language model.",
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "candidates_total",
			Help:      "Story candidates decoded from model responses.",
		}),
		StoriesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "stories_persisted_total",
			Help:      "Consolidated stories written to storage.",
		}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbuffet",
			Name:      "provider_errors_total",
			Help:      "Failed language model calls by provider.",
		}, []string{"provider"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedbuffet",
			Name:      "run_duration_seconds",
			Help:      "Wall time of full pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ItemsFetched, m.ItemsSaved, m.ItemsDuplicate,
		m.Clusters, m.Batches, m.Candidates, m.StoriesPersisted,
		m.ProviderErrors, m.RunDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

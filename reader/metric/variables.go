package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RenderedQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartql_rendered_queries_count",
		Help: "The total number of chart configs compiled, by outcome",
	}, []string{"outcome"})
	RenderTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chartql_render_time_ms",
		Help:    "Chart config compilation time in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	})
	MetadataCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartql_metadata_cache_hits_count",
		Help: "The total number of metadata lookups served from cache",
	})
	MetadataCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartql_metadata_cache_misses_count",
		Help: "The total number of metadata lookups not found in cache",
	})
	MetadataFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartql_metadata_fetches_count",
		Help: "The total number of metadata fetches issued to the database, by outcome",
	}, []string{"outcome"})
	OptimizerCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartql_optimizer_candidates_count",
		Help: "The total number of materialized view candidates evaluated, by outcome",
	}, []string{"outcome"})
	EstimateTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chartql_explain_estimate_time_ms",
		Help:    "EXPLAIN ESTIMATE round trip time in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 5000},
	})
	ResponseCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartql_response_cache_count",
		Help: "Render response cache lookups, by result",
	}, []string{"result"})
)

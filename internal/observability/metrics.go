package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks operational metrics for the pipeline on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal    *prometheus.CounterVec // outcome: ok, retry, failed, blocked
	FetchDuration   prometheus.Histogram
	ResponsesByCode *prometheus.CounterVec // class: 2xx, 3xx, 4xx, 5xx
	BreakerOpens    prometheus.Counter
	BytesDownloaded prometheus.Counter

	ExtractionsTotal *prometheus.CounterVec // method or failure reason
	EntriesProcessed prometheus.Counter
	EntriesFailed    *prometheus.CounterVec // reason
	DuplicatesTotal  *prometheus.CounterVec // kind: exact, near

	EmbeddingsTotal   prometheus.Counter
	ClustersCreated   prometheus.Counter
	SummariesTotal    *prometheus.CounterVec // source: oracle, premium, fallback, local
	OracleCallsTotal  *prometheus.CounterVec // outcome: ok, retry, failed
	AlertsDispatched  prometheus.Counter
	StageDuration     *prometheus.HistogramVec // stage
	ActiveFetches     prometheus.Gauge
	ProcessQueueDepth prometheus.Gauge

	logger *slog.Logger
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(logger *slog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_fetches_total",
			Help: "Fetch attempts by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashpipe_fetch_duration_seconds",
			Help:    "Wall time of successful fetches.",
			Buckets: prometheus.DefBuckets,
		}),
		ResponsesByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_responses_total",
			Help: "HTTP responses by status class.",
		}, []string{"class"}),
		BreakerOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashpipe_breaker_opens_total",
			Help: "Per-host circuit breaker open transitions.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashpipe_bytes_downloaded_total",
			Help: "Total decompressed bytes fetched.",
		}),
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_extractions_total",
			Help: "Extraction outcomes by winning method or failure reason.",
		}, []string{"result"}),
		EntriesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashpipe_entries_processed_total",
			Help: "Entries with enrichment written back.",
		}),
		EntriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_entries_failed_total",
			Help: "Entries failed by reason.",
		}, []string{"reason"}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_duplicates_total",
			Help: "Duplicates detected by kind.",
		}, []string{"kind"}),
		EmbeddingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashpipe_embeddings_total",
			Help: "Vectors written.",
		}),
		ClustersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashpipe_clusters_created_total",
			Help: "Clusters written to the output table.",
		}),
		SummariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_summaries_total",
			Help: "Cluster summaries by source.",
		}, []string{"source"}),
		OracleCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flashpipe_oracle_calls_total",
			Help: "Oracle requests by outcome.",
		}, []string{"outcome"}),
		AlertsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flashpipe_alerts_dispatched_total",
			Help: "Hotspot alerts handed to the dispatcher.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flashpipe_stage_duration_seconds",
			Help:    "Run stage durations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"stage"}),
		ActiveFetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashpipe_active_fetches",
			Help: "In-flight fetches.",
		}),
		ProcessQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashpipe_process_queue_depth",
			Help: "Pages waiting for the processing workers.",
		}),
		logger: logger.With("component", "metrics"),
	}

	reg.MustRegister(
		m.FetchesTotal, m.FetchDuration, m.ResponsesByCode, m.BreakerOpens,
		m.BytesDownloaded, m.ExtractionsTotal, m.EntriesProcessed,
		m.EntriesFailed, m.DuplicatesTotal, m.EmbeddingsTotal,
		m.ClustersCreated, m.SummariesTotal, m.OracleCallsTotal,
		m.AlertsDispatched, m.StageDuration, m.ActiveFetches,
		m.ProcessQueueDepth,
	)
	return m
}

// ObserveResponse records a response status code in its class bucket.
func (m *Metrics) ObserveResponse(statusCode int) {
	switch {
	case statusCode >= 500:
		m.ResponsesByCode.WithLabelValues("5xx").Inc()
	case statusCode >= 400:
		m.ResponsesByCode.WithLabelValues("4xx").Inc()
	case statusCode >= 300:
		m.ResponsesByCode.WithLabelValues("3xx").Inc()
	case statusCode >= 200:
		m.ResponsesByCode.WithLabelValues("2xx").Inc()
	}
}

// Handler returns the exposition handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on addr.
func (m *Metrics) StartServer(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Package metrics encapsulates Prometheus metrics for the extraction
// pipeline and the optional HTTP endpoint that exposes them while a run
// is in flight.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's Prometheus collectors on a private
// registry. A nil *Metrics is valid: every recording method is a no-op,
// so components never need to guard their instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// ConversationsTotal counts processed conversations by outcome:
	// cleaned, empty, failed.
	ConversationsTotal *prometheus.CounterVec

	// CacheOps counts cache lookups by kind (result, segmentation) and
	// result (hit, miss).
	CacheOps *prometheus.CounterVec

	// ExtractionRequests counts completion calls issued for extraction.
	ExtractionRequests prometheus.Counter

	// ExtractionFailures counts chunks whose output stayed unparseable
	// after every repair stage.
	ExtractionFailures prometheus.Counter

	// RepairSuccess counts parses rescued by a repair stage, by stage.
	RepairSuccess *prometheus.CounterVec

	// SchemaDowngrades counts one-way downgrades from schema-constrained
	// to unconstrained decoding. At most one per extractor lifetime.
	SchemaDowngrades prometheus.Counter

	// BackendDuration observes completion call latency by backend.
	BackendDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with a custom registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		ConversationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclean_conversations_total",
				Help: "Total number of conversations processed by outcome",
			},
			[]string{"outcome"},
		),
		CacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclean_cache_lookups_total",
				Help: "Total number of cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
		ExtractionRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclean_extraction_requests_total",
				Help: "Total number of completion requests issued for extraction",
			},
		),
		ExtractionFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclean_extraction_failures_total",
				Help: "Total number of chunks unparseable after all repair stages",
			},
		),
		RepairSuccess: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatclean_repair_success_total",
				Help: "Total number of parses rescued by a repair stage",
			},
			[]string{"stage"},
		),
		SchemaDowngrades: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatclean_schema_downgrades_total",
				Help: "Total number of schema-constrained decoding downgrades",
			},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatclean_backend_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the underlying registry so collaborators (e.g. the
// circuit breaker) can register their own collectors. Nil-safe.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncConversation records a conversation outcome: "cleaned", "empty", "failed".
func (m *Metrics) IncConversation(outcome string) {
	if m == nil {
		return
	}
	m.ConversationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCache records a cache lookup for the given kind.
func (m *Metrics) ObserveCache(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheOps.WithLabelValues(kind, result).Inc()
}

// IncExtractionRequest records one completion call issued for extraction.
func (m *Metrics) IncExtractionRequest() {
	if m == nil {
		return
	}
	m.ExtractionRequests.Inc()
}

// IncExtractionFailure records a chunk that defeated every repair stage.
func (m *Metrics) IncExtractionFailure() {
	if m == nil {
		return
	}
	m.ExtractionFailures.Inc()
}

// IncRepairSuccess records a parse rescued by the named repair stage.
func (m *Metrics) IncRepairSuccess(stage string) {
	if m == nil {
		return
	}
	m.RepairSuccess.WithLabelValues(stage).Inc()
}

// IncSchemaDowngrade records the one-way constrained-decoding downgrade.
func (m *Metrics) IncSchemaDowngrade() {
	if m == nil {
		return
	}
	m.SchemaDowngrades.Inc()
}

// ObserveBackend records the duration of one completion call.
func (m *Metrics) ObserveBackend(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

// Serve starts an HTTP listener exposing /metrics and /healthz and returns
// the server so the caller can shut it down when the run finishes.
func (m *Metrics) Serve(addr string, logger *zap.Logger) *http.Server {
	router := chi.NewRouter()
	router.Handle("/metrics", m.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics endpoint failed", zap.Error(err))
		}
	}()
	return srv
}

// Shutdown stops a server returned by Serve.
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

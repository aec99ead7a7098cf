// Package metrics holds the Prometheus collectors and the HTTP middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcomes
const (
	OutcomeCreated       = "created"
	OutcomeDuplicate     = "duplicate"
	OutcomeRaceDuplicate = "race_duplicate"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

// Assistant stream outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epubshelf_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epubshelf_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// IngestTotal counts upload outcomes.
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epubshelf_ingest_total",
			Help: "Book uploads by outcome",
		},
		[]string{"outcome"},
	)

	// CompensationFailures counts rollback steps that failed and may have left orphaned state.
	CompensationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epubshelf_compensation_failures_total",
			Help: "Failed rollback steps during ingestion",
		},
		[]string{"step"},
	)

	// IntegrityMismatches counts served files whose bytes no longer match the recorded fingerprint.
	IntegrityMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epubshelf_integrity_mismatches_total",
			Help: "Served book files that did not match their fingerprint",
		},
	)

	// AssistantStreams counts assistant responses by outcome.
	AssistantStreams = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epubshelf_assistant_streams_total",
			Help: "Assistant responses by outcome",
		},
		[]string{"outcome"},
	)
)

// Middleware records request count and duration, labelled by the matched
// route template so book ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := routeTemplate(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

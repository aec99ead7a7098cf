package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handlers groups the route handlers
type Handlers struct {
	Upload    *UploadHandler
	Library   *LibraryHandler
	File      *FileHandler
	Read      *ReadHandler
	Assistant *AssistantHandler
}

// NewRouter registers all routes. Every route sees the authenticated user in
// its context; handlers decide what anonymous callers get.
func NewRouter(authn *auth.Authenticator, h Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.Middleware, authn.Middleware)

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	traced := func(path, method string, handler http.Handler) {
		router.Handle(path, otelhttp.NewHandler(handler, method+" "+path)).Methods(method)
	}
	traced("/api/books", http.MethodPost, h.Upload)
	traced("/api/books", http.MethodGet, h.Library)
	traced("/api/books/{book_id}/file", http.MethodGet, h.File)
	traced("/api/books/{book_id}/assistant", http.MethodPost, h.Assistant)
	traced("/read/{book_id}", http.MethodGet, h.Read)

	return router
}

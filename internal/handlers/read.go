package handlers

import (
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/reader"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var pages = template.Must(template.New("reader").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main id="reader"
  data-book-id="{{.BookID}}"
  data-title="{{.Title}}"
  data-manifest-path="{{.ManifestPath}}"
  data-manifest-url="{{.ManifestURL}}"
  data-file-url="/api/books/{{.BookID}}/file"
  data-assistant-url="/api/books/{{.BookID}}/assistant"></main>
</body>
</html>
{{define "no_manifest"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<section class="error-panel">
  <h1>Manifest not found</h1>
  <p>{{if .Title}}"{{.Title}}" has{{else}}This book has{{end}} no reader manifest configured yet.</p>
  <a href="{{.LibraryPath}}">Back to library</a>
</section>
</body>
</html>
{{end}}`))

type pageData struct {
	*reader.Session
	LibraryPath string
}

// ReadHandler bootstraps a reading session
type ReadHandler struct {
	reader      *reader.Service
	loginPath   string
	libraryPath string
	log         *logger.Logger
}

// NewReadHandler creates a new read handler
func NewReadHandler(svc *reader.Service, loginPath, libraryPath string, log *logger.Logger) *ReadHandler {
	return &ReadHandler{
		reader:      svc,
		loginPath:   loginPath,
		libraryPath: libraryPath,
		log:         log.With("handler", "read"),
	}
}

// ServeHTTP handles GET /read/{book_id}
func (rh *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_page",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	bookID := mux.Vars(r)["book_id"]
	span.SetAttributes(attribute.String("book_id", bookID))

	session, err := rh.reader.Bootstrap(ctx, auth.UserID(ctx), bookID)
	if err != nil {
		// The page never shows backend errors.
		span.RecordError(err)
		rh.log.Error("reading session bootstrap failed", "book_id", bookID, "error", err)
		http.Redirect(w, r, rh.libraryPath, http.StatusFound)
		return
	}

	switch session.Outcome {
	case reader.OutcomeLogin:
		http.Redirect(w, r, rh.loginPath, http.StatusFound)
	case reader.OutcomeLibrary:
		http.Redirect(w, r, rh.libraryPath, http.StatusFound)
	case reader.OutcomeNoManifest:
		rh.render(w, http.StatusNotFound, "no_manifest", session)
	default:
		rh.render(w, http.StatusOK, "reader", session)
	}
}

func (rh *ReadHandler) render(w http.ResponseWriter, status int, name string, session *reader.Session) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, pageData{Session: session, LibraryPath: rh.libraryPath}); err != nil {
		rh.log.Error("failed to render page", "template", name, "error", err)
	}
}

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/ingest"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/reader"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LibraryBook is one entry of the library listing
type LibraryBook struct {
	BookID  string    `json:"book_id"`
	Title   string    `json:"title"`
	Size    int64     `json:"size"`
	AddedAt time.Time `json:"added_at"`
	ReadURL string    `json:"read_url"`
}

// LibraryResponse is the body of GET /api/books
type LibraryResponse struct {
	Books []LibraryBook `json:"books"`
}

// LibraryHandler lists the caller's books
type LibraryHandler struct {
	reader *reader.Service
	log    *logger.Logger
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(svc *reader.Service, log *logger.Logger) *LibraryHandler {
	return &LibraryHandler{reader: svc, log: log.With("handler", "library")}
}

// ServeHTTP handles GET /api/books
func (lh *LibraryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list_library",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	entries, err := lh.reader.Library(ctx, auth.UserID(ctx))
	if err != nil {
		span.RecordError(err)
		writeError(w, lh.log, err)
		return
	}

	resp := LibraryResponse{Books: make([]LibraryBook, 0, len(entries))}
	for _, e := range entries {
		resp.Books = append(resp.Books, LibraryBook{
			BookID:  e.Book.ID,
			Title:   e.Book.Title,
			Size:    e.Book.Size,
			AddedAt: e.AddedAt,
			ReadURL: "/read/" + e.Book.ID,
		})
	}
	span.SetAttributes(attribute.Int("book_count", len(resp.Books)))
	writeJSON(w, http.StatusOK, resp)
}

// FileHandler streams a stored EPUB to its owner
type FileHandler struct {
	reader *reader.Service
	log    *logger.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(svc *reader.Service, log *logger.Logger) *FileHandler {
	return &FileHandler{reader: svc, log: log.With("handler", "file")}
}

// ServeHTTP handles GET /api/books/{book_id}/file
func (fh *FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "serve_book_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	bookID := mux.Vars(r)["book_id"]
	span.SetAttributes(attribute.String("book_id", bookID))

	f, err := fh.reader.OpenFile(ctx, auth.UserID(ctx), bookID)
	if err != nil {
		span.RecordError(err)
		writeError(w, fh.log, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", ingest.EPUBContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	if f.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", f.Filename))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, f)
	if err != nil {
		// Headers are gone; all we can do is record it.
		span.RecordError(err)
		fh.log.Warn("book stream interrupted", "book_id", bookID, "written", written, "error", err)
		return
	}
	span.SetAttributes(attribute.Int64("bytes_written", written))
}

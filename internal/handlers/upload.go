package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/ingest"
	"github.com/maneesh/epubshelf/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("epubshelf-handlers")

// uploadField is the multipart field carrying the book
const uploadField = "file"

const defaultFormMemory = 32 << 20

// UploadHandler handles book uploads
type UploadHandler struct {
	ingest     *ingest.Service
	maxBytes   int64
	formMemory int64
	log        *logger.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(svc *ingest.Service, maxBytes int64, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		ingest:     svc,
		maxBytes:   maxBytes,
		formMemory: defaultFormMemory,
		log:        log.With("handler", "upload"),
	}
}

// ServeHTTP handles POST /api/books
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload_book",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	userID := auth.UserID(ctx)
	if userID == "" {
		writeError(w, uh.log, apperr.Unauthorized("unauthorized"))
		return
	}

	upload, err := uh.readUpload(w, r)
	if err != nil {
		span.RecordError(err)
		writeError(w, uh.log, err)
		return
	}
	upload.UserID = userID
	span.SetAttributes(
		attribute.String("file_name", upload.Filename),
		attribute.Int("file_size", len(upload.Data)),
	)

	result, err := uh.ingest.Ingest(ctx, upload)
	if err != nil {
		writeError(w, uh.log, err)
		return
	}

	uh.log.Info("upload completed", "user_id", userID, "book_id", result.BookID, "duplicate", result.Duplicate)
	writeJSON(w, http.StatusOK, result)
}

func (uh *UploadHandler) readUpload(w http.ResponseWriter, r *http.Request) (*ingest.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, uh.maxBytes)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(uh.formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, apperr.BadRequest("file too large")
		case errors.Is(err, http.ErrNotMultipart):
			return nil, apperr.BadRequest("no file")
		default:
			return nil, apperr.BadRequest("invalid multipart form")
		}
	}
	// Parts above formMemory are spooled to temp files
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return nil, apperr.BadRequest("no file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.Internal("failed to read upload", err)
	}
	if len(data) == 0 {
		return nil, apperr.BadRequest("no file")
	}

	return &ingest.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

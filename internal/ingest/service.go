// Package ingest implements the upload workflow: validation, fingerprinting,
// duplicate resolution, record creation, binary storage and ownership linking,
// with compensating rollback when a later step fails.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/fingerprint"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/metrics"
	"github.com/maneesh/epubshelf/internal/models"
	"github.com/maneesh/epubshelf/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("epubshelf-ingest")

// EPUBContentType is the registered media type for EPUB files.
const EPUBContentType = "application/epub+zip"

const (
	MessageCreated   = "Book uploaded successfully"
	MessageDuplicate = "Book already exists in the library and has been added to your collection"
)

// BookStore is the relational side of ingestion.
type BookStore interface {
	// GetBookByFingerprint returns storage.ErrNotFound when nothing matches.
	GetBookByFingerprint(ctx context.Context, fp string) (*models.Book, error)
	// CreateBook returns storage.ErrDuplicateFingerprint when the fingerprint is taken.
	CreateBook(ctx context.Context, book *models.Book) error
	// DeleteBook must be a no-op for missing rows.
	DeleteBook(ctx context.Context, bookID string) error
	// LinkOwner reports whether a new link was created; an existing link is not an error.
	LinkOwner(ctx context.Context, userID, bookID string) (bool, error)
}

// ObjectStore is the binary side of ingestion.
type ObjectStore interface {
	// PutObject must not overwrite; storage.ErrObjectExists when the key is taken.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	// DeleteObject must be a no-op for missing objects.
	DeleteObject(ctx context.Context, key string) error
}

// Upload is one file submitted by an authenticated user.
type Upload struct {
	UserID      string
	Filename    string
	ContentType string
	Data        []byte
}

// Result is what the caller reports back to the uploader.
type Result struct {
	BookID    string `json:"book_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message"`
}

// Service runs the ingestion workflow.
type Service struct {
	books   BookStore
	objects ObjectStore
	log     *logger.Logger

	newID func() string
	now   func() time.Time
}

// NewService creates the ingestion service
func NewService(books BookStore, objects ObjectStore, log *logger.Logger) *Service {
	return &Service{
		books:   books,
		objects: objects,
		log:     log.With("component", "ingest"),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ValidateUpload checks authentication, presence and type, in that order.
func ValidateUpload(u *Upload) error {
	if u == nil || u.UserID == "" {
		return apperr.Unauthorized("unauthorized")
	}
	if u.Filename == "" || u.Data == nil {
		return apperr.BadRequest("no file")
	}
	if !isEPUBType(u.ContentType) && !strings.HasSuffix(strings.ToLower(u.Filename), ".epub") {
		return apperr.BadRequest("invalid type")
	}
	return nil
}

func isEPUBType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), EPUBContentType)
}

// DeriveTitle strips a trailing .epub (any case) from the filename. A name
// that is nothing but the extension is kept as is.
func DeriveTitle(filename string) string {
	if len(filename) > len(".epub") && strings.HasSuffix(strings.ToLower(filename), ".epub") {
		return filename[:len(filename)-len(".epub")]
	}
	return filename
}

// StoragePath is the object key for a book uploaded by userID.
func StoragePath(userID, bookID string) string {
	return fmt.Sprintf("books/%s/%s.epub", userID, bookID)
}

// Resolve finds an existing book with the given fingerprint. It returns
// (nil, nil) when there is none.
func (s *Service) Resolve(ctx context.Context, fp string) (*models.Book, error) {
	ctx, span := tracer.Start(ctx, "resolve_duplicate")
	defer span.End()

	book, err := s.books.GetBookByFingerprint(ctx, fp)
	if errors.Is(err, storage.ErrNotFound) {
		span.SetAttributes(attribute.Bool("duplicate", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("duplicate", true), attribute.String("book_id", book.ID))
	return book, nil
}

// EnsureOwnership links userID to bookID. Already being linked counts as success.
func (s *Service) EnsureOwnership(ctx context.Context, userID, bookID string) error {
	ctx, span := tracer.Start(ctx, "ensure_ownership",
		trace.WithAttributes(attribute.String("book_id", bookID)),
	)
	defer span.End()

	created, err := s.books.LinkOwner(ctx, userID, bookID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Bool("created", created))
	return nil
}

// Ingest runs the full workflow for one upload.
func (s *Service) Ingest(ctx context.Context, u *Upload) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest_book")
	defer span.End()

	if err := ValidateUpload(u); err != nil {
		metrics.IngestTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("file_name", u.Filename),
		attribute.Int("file_size", len(u.Data)),
	)
	log := s.log.With("user_id", u.UserID, "file_name", u.Filename)

	// Step 1: fingerprint the complete buffer
	fp := fingerprint.Compute(u.Data)
	span.SetAttributes(attribute.String("fingerprint", fp))

	// Step 2: resolve duplicate
	existing, err := s.Resolve(ctx, fp)
	if err != nil {
		return nil, s.fail(span, internalError("failed to check for duplicate book", err))
	}

	// Step 3: duplicate path, link only
	if existing != nil {
		log.Info("duplicate upload", "book_id", existing.ID)
		return s.linkExisting(ctx, span, u.UserID, existing, metrics.OutcomeDuplicate)
	}

	// Step 4: create the record
	book := &models.Book{
		ID:               s.newID(),
		Title:            DeriveTitle(u.Filename),
		Size:             int64(len(u.Data)),
		Fingerprint:      fp,
		UploadedBy:       u.UserID,
		OriginalFilename: u.Filename,
		CreatedAt:        s.now(),
	}
	book.StoragePath = StoragePath(u.UserID, book.ID)
	span.SetAttributes(attribute.String("book_id", book.ID))

	if err := s.books.CreateBook(ctx, book); err != nil {
		// Step 5: a concurrent upload of the same bytes won the insert
		if errors.Is(err, storage.ErrDuplicateFingerprint) {
			log.Info("lost fingerprint race, falling back to duplicate path")
			winner, rerr := s.Resolve(ctx, fp)
			if rerr != nil {
				return nil, s.fail(span, internalError("failed to resolve duplicate book", rerr))
			}
			if winner == nil {
				return nil, s.fail(span, apperr.Internal("failed to resolve duplicate book", err))
			}
			return s.linkExisting(ctx, span, u.UserID, winner, metrics.OutcomeRaceDuplicate)
		}
		return nil, s.fail(span, internalError("failed to create book record", err))
	}

	// Step 6: store the binary
	if err := s.objects.PutObject(ctx, book.StoragePath, u.Data, EPUBContentType); err != nil {
		s.compensate(ctx, "delete_record", book, func(ctx context.Context) error {
			return s.books.DeleteBook(ctx, book.ID)
		})
		return nil, s.fail(span, apperr.Internal("failed to store book file", err))
	}

	// Step 7: link ownership
	if err := s.EnsureOwnership(ctx, u.UserID, book.ID); err != nil {
		s.compensate(ctx, "delete_record", book, func(ctx context.Context) error {
			return s.books.DeleteBook(ctx, book.ID)
		})
		s.compensate(ctx, "delete_object", book, func(ctx context.Context) error {
			return s.objects.DeleteObject(ctx, book.StoragePath)
		})
		return nil, s.fail(span, internalError("failed to link book to user", err))
	}

	// Step 8
	metrics.IngestTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
	log.Info("book ingested", "book_id", book.ID, "size", book.Size)
	return &Result{BookID: book.ID, Message: MessageCreated}, nil
}

func (s *Service) linkExisting(ctx context.Context, span trace.Span, userID string, book *models.Book, outcome string) (*Result, error) {
	if err := s.EnsureOwnership(ctx, userID, book.ID); err != nil {
		return nil, s.fail(span, internalError("failed to link book to user", err))
	}
	metrics.IngestTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Bool("duplicate", true), attribute.String("book_id", book.ID))
	return &Result{BookID: book.ID, Duplicate: true, Message: MessageDuplicate}, nil
}

// compensate runs one rollback step detached from request cancellation.
// Failures are logged and counted only; the caller still reports the
// original error.
func (s *Service) compensate(ctx context.Context, step string, book *models.Book, undo func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ctx, span := tracer.Start(ctx, "compensate_"+step)
	defer span.End()

	if err := undo(ctx); err != nil {
		span.RecordError(err)
		metrics.CompensationFailures.WithLabelValues(step).Inc()
		s.log.Error("compensation failed, state may be orphaned",
			"step", step,
			"book_id", book.ID,
			"storage_path", book.StoragePath,
			"error", err,
		)
		return
	}
	s.log.Warn("compensation applied", "step", step, "book_id", book.ID)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	metrics.IngestTotal.WithLabelValues(metrics.OutcomeError).Inc()
	s.log.Error("ingestion failed", "error", err)
	return err
}

func internalError(message string, err error) *apperr.Error {
	return apperr.Internal(message, err).WithDiagnostics(storage.DiagnosticsOf(err))
}

// Package reader authorizes reading sessions and serves the stored book file
// to its owners. Nothing here mutates state.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"

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

var tracer = otel.Tracer("epubshelf-reader")

// Catalog is the read side of the book store
type Catalog interface {
	GetBook(ctx context.Context, bookID string) (*models.Book, error)
	IsOwner(ctx context.Context, userID, bookID string) (bool, error)
	ListLibrary(ctx context.Context, userID string) ([]*models.LibraryEntry, error)
}

// Objects is the read side of the object store
type Objects interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// Outcome tells the page layer what to render
type Outcome int

const (
	// OutcomeLogin: the user is not authenticated
	OutcomeLogin Outcome = iota
	// OutcomeLibrary: the book is missing or not owned by the user
	OutcomeLibrary
	// OutcomeNoManifest: the book has no reader manifest configured
	OutcomeNoManifest
	// OutcomeReady: hand off to the renderer
	OutcomeReady
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLogin:
		return "login"
	case OutcomeLibrary:
		return "library"
	case OutcomeNoManifest:
		return "no_manifest"
	default:
		return "ready"
	}
}

// Session is the renderer hand-off data
type Session struct {
	Outcome      Outcome
	BookID       string
	Title        string
	ManifestPath string
	ManifestURL  string
}

// Service bootstraps reading sessions
type Service struct {
	catalog Catalog
	objects Objects
	log     *logger.Logger
}

// NewService creates the reader service
func NewService(catalog Catalog, objects Objects, log *logger.Logger) *Service {
	return &Service{
		catalog: catalog,
		objects: objects,
		log:     log.With("component", "reader"),
	}
}

// authorize returns the book when userID owns it. A missing book and a
// missing link both come back as (nil, nil).
func (s *Service) authorize(ctx context.Context, userID, bookID string) (*models.Book, error) {
	book, err := s.catalog.GetBook(ctx, bookID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	owned, err := s.catalog.IsOwner(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, nil
	}
	return book, nil
}

// Bootstrap resolves what the reading page should do for userID and bookID.
// Backend failures are returned as errors; every authorization or lookup miss
// is an Outcome instead.
func (s *Service) Bootstrap(ctx context.Context, userID, bookID string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "bootstrap_reading_session",
		trace.WithAttributes(attribute.String("book_id", bookID)),
	)
	defer span.End()

	if userID == "" {
		span.SetAttributes(attribute.String("outcome", OutcomeLogin.String()))
		return &Session{Outcome: OutcomeLogin, BookID: bookID}, nil
	}

	book, err := s.authorize(ctx, userID, bookID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to authorize reading session: %w", err)
	}
	if book == nil {
		s.log.Info("reading session denied", "user_id", userID, "book_id", bookID)
		span.SetAttributes(attribute.String("outcome", OutcomeLibrary.String()))
		return &Session{Outcome: OutcomeLibrary, BookID: bookID}, nil
	}

	session := &Session{
		Outcome:      OutcomeReady,
		BookID:       book.ID,
		Title:        book.Title,
		ManifestPath: book.ManifestPath,
	}
	if book.ManifestPath == "" {
		session.Outcome = OutcomeNoManifest
		span.SetAttributes(attribute.String("outcome", session.Outcome.String()))
		return session, nil
	}

	url, err := s.objects.PresignGet(ctx, book.ManifestPath)
	if err != nil {
		// The renderer can still resolve the manifest path on its own.
		s.log.Warn("failed to presign manifest", "book_id", book.ID, "error", err)
	} else {
		session.ManifestURL = url
	}

	span.SetAttributes(attribute.String("outcome", session.Outcome.String()))
	return session, nil
}

// File is an open stored EPUB
type File struct {
	io.ReadCloser
	Size     int64
	Filename string
}

// OpenFile opens the stored EPUB for an owner. Non-owners get NotFound so the
// existence of other users' books is not revealed.
func (s *Service) OpenFile(ctx context.Context, userID, bookID string) (*File, error) {
	ctx, span := tracer.Start(ctx, "open_book_file",
		trace.WithAttributes(attribute.String("book_id", bookID)),
	)
	defer span.End()

	if userID == "" {
		return nil, apperr.Unauthorized("unauthorized")
	}

	book, err := s.authorize(ctx, userID, bookID)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal("failed to look up book", err)
	}
	if book == nil {
		return nil, apperr.NotFound("book not found")
	}

	rc, size, err := s.objects.GetObject(ctx, book.StoragePath)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Error("book file missing from storage", "book_id", book.ID, "storage_path", book.StoragePath)
		return nil, apperr.NotFound("book file not found")
	} else if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal("failed to open book file", err)
	}
	if size != book.Size {
		s.log.Warn("stored size differs from record", "book_id", book.ID, "stored", size, "recorded", book.Size)
	}

	body := &verifiedBody{
		Reader:   fingerprint.NewReader(rc),
		closer:   rc,
		size:     size,
		expected: book.Fingerprint,
		bookID:   book.ID,
		log:      s.log,
	}
	return &File{ReadCloser: body, Size: size, Filename: book.OriginalFilename}, nil
}

// verifiedBody checks a fully read file against its fingerprint on Close.
// Partial reads are not checked.
type verifiedBody struct {
	*fingerprint.Reader
	closer   io.Closer
	size     int64
	expected string
	bookID   string
	log      *logger.Logger
}

func (b *verifiedBody) Close() error {
	if b.N() == b.size && b.Sum() != b.expected {
		metrics.IntegrityMismatches.Inc()
		b.log.Error("stored file does not match fingerprint", "book_id", b.bookID, "expected", b.expected, "actual", b.Sum())
	}
	return b.closer.Close()
}

// Library lists the user's books
func (s *Service) Library(ctx context.Context, userID string) ([]*models.LibraryEntry, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("unauthorized")
	}
	entries, err := s.catalog.ListLibrary(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list library", err)
	}
	if entries == nil {
		entries = []*models.LibraryEntry{}
	}
	return entries, nil
}

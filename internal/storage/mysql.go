package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/maneesh/epubshelf/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var schemaSQL string

// MySQLClient wraps MySQL operations with tracing
type MySQLClient struct {
	db *sql.DB
}

// NewMySQLClient initializes a new MySQL client
func NewMySQLClient(dsn string) (*MySQLClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &MySQLClient{db: db}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// EnsureSchema creates the tables if they do not exist yet
func (mc *MySQLClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := mc.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const bookColumns = `id, title, size, fingerprint, uploaded_by, storage_path, original_filename, manifest_path, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	var (
		book     models.Book
		manifest sql.NullString
	)
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Size,
		&book.Fingerprint,
		&book.UploadedBy,
		&book.StoragePath,
		&book.OriginalFilename,
		&manifest,
		&book.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	book.ManifestPath = manifest.String
	return &book, nil
}

// GetBookByFingerprint looks a book up by its content fingerprint.
// Returns ErrNotFound when no book has that fingerprint.
func (mc *MySQLClient) GetBookByFingerprint(ctx context.Context, fp string) (*models.Book, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_book_by_fingerprint",
		trace.WithAttributes(
			attribute.String("fingerprint", fp),
		),
	)
	defer span.End()

	row := mc.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE fingerprint = ?`, fp)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query book by fingerprint: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true), attribute.String("book_id", book.ID))
	return book, nil
}

// GetBook retrieves a book by ID. Returns ErrNotFound when it does not exist.
func (mc *MySQLClient) GetBook(ctx context.Context, bookID string) (*models.Book, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_book",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
		),
	)
	defer span.End()

	row := mc.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, bookID)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, ErrNotFound
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query book: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return book, nil
}

// CreateBook inserts a book. A fingerprint collision returns ErrDuplicateFingerprint.
func (mc *MySQLClient) CreateBook(ctx context.Context, book *models.Book) error {
	ctx, span := tracer.Start(ctx, "mysql.create_book",
		trace.WithAttributes(
			attribute.String("book_id", book.ID),
			attribute.String("title", book.Title),
			attribute.Int64("size", book.Size),
		),
	)
	defer span.End()

	query := `INSERT INTO books (` + bookColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	manifest := sql.NullString{String: book.ManifestPath, Valid: book.ManifestPath != ""}
	_, err := mc.db.ExecContext(ctx, query,
		book.ID, book.Title, book.Size, book.Fingerprint, book.UploadedBy,
		book.StoragePath, book.OriginalFilename, manifest, book.CreatedAt,
	)
	if err != nil {
		err = classifyInsertError(err)
		if errors.Is(err, ErrDuplicateFingerprint) {
			span.SetAttributes(attribute.Bool("duplicate_fingerprint", true))
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to insert book: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// DeleteBook removes a book row. Deleting a missing book is a no-op.
func (mc *MySQLClient) DeleteBook(ctx context.Context, bookID string) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_book",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
		),
	)
	defer span.End()

	res, err := mc.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		span.SetAttributes(attribute.Int64("rows_affected", n))
	}
	return nil
}

// LinkOwner grants userID access to bookID. It reports whether a new link was
// created; an existing link is not an error.
func (mc *MySQLClient) LinkOwner(ctx context.Context, userID, bookID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "mysql.link_owner",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
		),
	)
	defer span.End()

	_, err := mc.db.ExecContext(ctx,
		`INSERT INTO book_owners (user_id, book_id, created_at) VALUES (?, ?, UTC_TIMESTAMP(6))`,
		userID, bookID,
	)
	if err != nil {
		if errors.Is(classifyInsertError(err), ErrDuplicateOwnership) {
			span.SetAttributes(attribute.Bool("already_linked", true))
			return false, nil
		}
		span.RecordError(err)
		return false, fmt.Errorf("failed to insert ownership: %w", err)
	}

	span.SetAttributes(attribute.Bool("already_linked", false))
	return true, nil
}

// IsOwner reports whether userID has an ownership link to bookID
func (mc *MySQLClient) IsOwner(ctx context.Context, userID, bookID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "mysql.is_owner",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
		),
	)
	defer span.End()

	var one int
	err := mc.db.QueryRowContext(ctx,
		`SELECT 1 FROM book_owners WHERE user_id = ? AND book_id = ? LIMIT 1`,
		userID, bookID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("owner", false))
		return false, nil
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to query ownership: %w", err)
	}

	span.SetAttributes(attribute.Bool("owner", true))
	return true, nil
}

// ListLibrary returns the books linked to userID, most recently added first
func (mc *MySQLClient) ListLibrary(ctx context.Context, userID string) ([]*models.LibraryEntry, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_library")
	defer span.End()

	query := `SELECT b.id, b.title, b.size, b.fingerprint, b.uploaded_by, b.storage_path,
			         b.original_filename, b.manifest_path, b.created_at, o.created_at
			  FROM book_owners o
			  JOIN books b ON b.id = o.book_id
			  WHERE o.user_id = ?
			  ORDER BY o.created_at DESC`

	rows, err := mc.db.QueryContext(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query library: %w", err)
	}
	defer rows.Close()

	var entries []*models.LibraryEntry
	for rows.Next() {
		var (
			entry    models.LibraryEntry
			manifest sql.NullString
		)
		err := rows.Scan(
			&entry.Book.ID,
			&entry.Book.Title,
			&entry.Book.Size,
			&entry.Book.Fingerprint,
			&entry.Book.UploadedBy,
			&entry.Book.StoragePath,
			&entry.Book.OriginalFilename,
			&manifest,
			&entry.Book.CreatedAt,
			&entry.AddedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan library entry: %w", err)
		}
		entry.Book.ManifestPath = manifest.String
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating library: %w", err)
	}

	span.SetAttributes(attribute.Int("book_count", len(entries)))
	return entries, nil
}

// GetSummaries returns the book level summary plus every chapter and
// subchapter summary whose range overlaps [fromIndex, toIndex]. Within a level,
// narrower ranges come first.
func (mc *MySQLClient) GetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_summaries",
		trace.WithAttributes(
			attribute.String("book_id", bookID),
			attribute.Int("from_index", fromIndex),
			attribute.Int("to_index", toIndex),
		),
	)
	defer span.End()

	query := `SELECT book_id, level, title, content, start_index, end_index
			  FROM summaries
			  WHERE book_id = ?
			    AND (level = 'book' OR (start_index <= ? AND end_index >= ?))
			  ORDER BY FIELD(level, 'book', 'chapter', 'subchapter'), (end_index - start_index) ASC, start_index ASC`

	rows, err := mc.db.QueryContext(ctx, query, bookID, toIndex, fromIndex)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*models.Summary
	for rows.Next() {
		var s models.Summary
		if err := rows.Scan(&s.BookID, &s.Level, &s.Title, &s.Content, &s.StartIndex, &s.EndIndex); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, &s)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}

	span.SetAttributes(attribute.Int("summary_count", len(summaries)))
	return summaries, nil
}

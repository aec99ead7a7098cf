package storage

import (
	"context"

	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/models"
)

// Store is the durable catalog, implemented by MySQLClient
type Store interface {
	GetBookByFingerprint(ctx context.Context, fp string) (*models.Book, error)
	GetBook(ctx context.Context, bookID string) (*models.Book, error)
	CreateBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, bookID string) error
	LinkOwner(ctx context.Context, userID, bookID string) (bool, error)
	IsOwner(ctx context.Context, userID, bookID string) (bool, error)
	ListLibrary(ctx context.Context, userID string) ([]*models.LibraryEntry, error)
	GetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, error)
}

// BookCache holds read-path copies, implemented by RedisClient. GetBook
// returns nil on a miss.
type BookCache interface {
	GetBook(ctx context.Context, bookID string) (*models.Book, error)
	SetBook(ctx context.Context, book *models.Book) error
	InvalidateBook(ctx context.Context, bookID string) error
	GetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, bool, error)
	SetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int, summaries []*models.Summary) error
}

// Catalog is the store with a cache in front of the read paths used per
// page view (book metadata and summaries). Cache failures are logged and
// fall through to the store.
//
// Books without a manifest and empty summary ranges are never cached: both
// are filled in later by the preparation pipeline and would otherwise be
// served stale until the TTL expires.
type Catalog struct {
	Store
	cache BookCache
	log   *logger.Logger
}

// NewCatalog composes the store and cache
func NewCatalog(db Store, cache BookCache, log *logger.Logger) *Catalog {
	return &Catalog{
		Store: db,
		cache: cache,
		log:   log.With("component", "catalog"),
	}
}

// GetBook reads through the cache
func (c *Catalog) GetBook(ctx context.Context, bookID string) (*models.Book, error) {
	book, err := c.cache.GetBook(ctx, bookID)
	if err != nil {
		c.log.Warn("book cache lookup failed", "book_id", bookID, "error", err)
	}
	if book != nil {
		c.log.Debug("book cache hit", "book_id", bookID)
		return book, nil
	}

	book, err = c.Store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.ManifestPath == "" {
		return book, nil
	}

	if err := c.cache.SetBook(ctx, book); err != nil {
		c.log.Warn("failed to update book cache", "book_id", bookID, "error", err)
	}
	return book, nil
}

// DeleteBook deletes the row and drops any cached copy
func (c *Catalog) DeleteBook(ctx context.Context, bookID string) error {
	if err := c.Store.DeleteBook(ctx, bookID); err != nil {
		return err
	}
	if err := c.cache.InvalidateBook(ctx, bookID); err != nil {
		c.log.Warn("failed to invalidate book cache", "book_id", bookID, "error", err)
	}
	return nil
}

// GetSummaries reads through the cache
func (c *Catalog) GetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, error) {
	summaries, hit, err := c.cache.GetSummaries(ctx, bookID, fromIndex, toIndex)
	if err != nil {
		c.log.Warn("summary cache lookup failed", "book_id", bookID, "error", err)
	}
	if hit && len(summaries) > 0 {
		return summaries, nil
	}

	summaries, err = c.Store.GetSummaries(ctx, bookID, fromIndex, toIndex)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	if err := c.cache.SetSummaries(ctx, bookID, fromIndex, toIndex, summaries); err != nil {
		c.log.Warn("failed to update summary cache", "book_id", bookID, "error", err)
	}
	return summaries, nil
}

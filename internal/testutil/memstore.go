// Package testutil provides in-memory stand-ins for the MySQL catalog and the
// object store. They enforce the same unique constraints as the schema so the
// workflows can be exercised without infrastructure.
package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/epubshelf/internal/models"
	"github.com/maneesh/epubshelf/internal/storage"
)

type ownerKey struct {
	userID string
	bookID string
}

// Catalog is an in-memory books/book_owners/summaries store.
type Catalog struct {
	mu        sync.Mutex
	books     map[string]*models.Book
	byFP      map[string]string
	owners    map[ownerKey]time.Time
	summaries []*models.Summary

	// OnResolveMiss runs after a fingerprint lookup finds nothing, outside the lock.
	OnResolveMiss func(fp string)

	FailResolve error
	FailCreate  error
	FailLink    error
	FailDelete  error
	FailGet     error
	FailSummary error
}

// NewCatalog returns an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		books:  make(map[string]*models.Book),
		byFP:   make(map[string]string),
		owners: make(map[ownerKey]time.Time),
	}
}

func (c *Catalog) GetBookByFingerprint(_ context.Context, fp string) (*models.Book, error) {
	c.mu.Lock()
	if c.FailResolve != nil {
		c.mu.Unlock()
		return nil, c.FailResolve
	}
	id, ok := c.byFP[fp]
	var book *models.Book
	if ok {
		copied := *c.books[id]
		book = &copied
	}
	hook := c.OnResolveMiss
	c.mu.Unlock()

	if !ok {
		if hook != nil {
			hook(fp)
		}
		return nil, storage.ErrNotFound
	}
	return book, nil
}

func (c *Catalog) GetBook(_ context.Context, bookID string) (*models.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailGet != nil {
		return nil, c.FailGet
	}
	book, ok := c.books[bookID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *book
	return &copied, nil
}

func (c *Catalog) CreateBook(_ context.Context, book *models.Book) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCreate != nil {
		return c.FailCreate
	}
	if _, ok := c.byFP[book.Fingerprint]; ok {
		return storage.ErrDuplicateFingerprint
	}
	copied := *book
	c.books[book.ID] = &copied
	c.byFP[book.Fingerprint] = book.ID
	return nil
}

func (c *Catalog) DeleteBook(_ context.Context, bookID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailDelete != nil {
		return c.FailDelete
	}
	if book, ok := c.books[bookID]; ok {
		delete(c.byFP, book.Fingerprint)
		delete(c.books, bookID)
	}
	return nil
}

func (c *Catalog) LinkOwner(_ context.Context, userID, bookID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailLink != nil {
		return false, c.FailLink
	}
	key := ownerKey{userID: userID, bookID: bookID}
	if _, ok := c.owners[key]; ok {
		return false, nil
	}
	c.owners[key] = time.Now()
	return true, nil
}

func (c *Catalog) IsOwner(_ context.Context, userID, bookID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owners[ownerKey{userID: userID, bookID: bookID}]
	return ok, nil
}

func (c *Catalog) ListLibrary(_ context.Context, userID string) ([]*models.LibraryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []*models.LibraryEntry
	for key, addedAt := range c.owners {
		if key.userID != userID {
			continue
		}
		if book, ok := c.books[key.bookID]; ok {
			entries = append(entries, &models.LibraryEntry{Book: *book, AddedAt: addedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AddedAt.After(entries[j].AddedAt)
	})
	return entries, nil
}

var levelOrder = map[models.SummaryLevel]int{
	models.SummaryBook:       0,
	models.SummaryChapter:    1,
	models.SummarySubchapter: 2,
}

func (c *Catalog) GetSummaries(_ context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSummary != nil {
		return nil, c.FailSummary
	}
	var out []*models.Summary
	for _, s := range c.summaries {
		if s.BookID != bookID {
			continue
		}
		if s.Level == models.SummaryBook || (s.StartIndex <= toIndex && s.EndIndex >= fromIndex) {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if levelOrder[out[i].Level] != levelOrder[out[j].Level] {
			return levelOrder[out[i].Level] < levelOrder[out[j].Level]
		}
		wi, wj := out[i].EndIndex-out[i].StartIndex, out[j].EndIndex-out[j].StartIndex
		if wi != wj {
			return wi < wj
		}
		return out[i].StartIndex < out[j].StartIndex
	})
	return out, nil
}

// PutBook inserts a book directly, bypassing failure injection.
func (c *Catalog) PutBook(book *models.Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *book
	c.books[book.ID] = &copied
	c.byFP[book.Fingerprint] = book.ID
}

// AddSummary stores a summary
func (c *Catalog) AddSummary(s *models.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s)
}

// BookCount returns the number of book rows
func (c *Catalog) BookCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.books)
}

// OwnerCount returns the number of links to bookID
func (c *Catalog) OwnerCount(bookID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.owners {
		if key.bookID == bookID {
			n++
		}
	}
	return n
}

// Objects is an in-memory object store.
type Objects struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailPut    error
	FailDelete error
}

// NewObjects returns an empty object store
func NewObjects() *Objects {
	return &Objects{objects: make(map[string][]byte)}
}

func (o *Objects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailPut != nil {
		return o.FailPut
	}
	if _, ok := o.objects[key]; ok {
		return storage.ErrObjectExists
	}
	o.objects[key] = append([]byte(nil), data...)
	return nil
}

func (o *Objects) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, 0, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (o *Objects) DeleteObject(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.FailDelete != nil {
		return o.FailDelete
	}
	delete(o.objects, key)
	return nil
}

func (o *Objects) PresignGet(_ context.Context, key string) (string, error) {
	return "memory://" + key, nil
}

// Has reports whether key is stored
func (o *Objects) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

// Len returns the number of stored objects
func (o *Objects) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

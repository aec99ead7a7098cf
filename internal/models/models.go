package models

import "time"

// Book is the content record for one uniquely fingerprinted upload
type Book struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Size             int64     `json:"size"`
	Fingerprint      string    `json:"fingerprint"`
	UploadedBy       string    `json:"uploaded_by"`
	StoragePath      string    `json:"storage_path"`
	OriginalFilename string    `json:"original_filename"`
	ManifestPath     string    `json:"manifest_path,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Ownership grants one user access to one book
type Ownership struct {
	UserID    string    `json:"user_id"`
	BookID    string    `json:"book_id"`
	CreatedAt time.Time `json:"created_at"`
}

// LibraryEntry is a book as seen from one owner's library
type LibraryEntry struct {
	Book    Book      `json:"book"`
	AddedAt time.Time `json:"added_at"`
}

// SummaryLevel is the granularity of a precomputed summary
type SummaryLevel string

const (
	SummaryBook       SummaryLevel = "book"
	SummaryChapter    SummaryLevel = "chapter"
	SummarySubchapter SummaryLevel = "subchapter"
)

// Summary is a precomputed summary covering [StartIndex, EndIndex] of a book's
// reading order (or page range for fixed-layout books). Book level summaries
// cover the whole work and ignore the range.
type Summary struct {
	BookID     string       `json:"book_id"`
	Level      SummaryLevel `json:"level"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	StartIndex int          `json:"start_index"`
	EndIndex   int          `json:"end_index"`
}

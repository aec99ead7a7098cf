package assistant

import (
	"fmt"
	"strings"

	"github.com/maneesh/epubshelf/internal/models"
)

// DocumentKind distinguishes reflowable EPUB text from fixed-layout pages
type DocumentKind string

const (
	KindReflowable DocumentKind = "reflowable"
	KindPaged      DocumentKind = "paged"
)

// Selection is the passage the user asked about
type Selection struct {
	Kind  DocumentKind `json:"kind"`
	Text  string       `json:"text"`
	Start string       `json:"start"`
	End   string       `json:"end"`
	// Window is text surrounding the selection, only sent for paged documents.
	Window string `json:"window,omitempty"`
}

// Range returns the reading-order (or page) span covered by the selection.
func (s Selection) Range() (from, to int, err error) {
	start, err := ParseLocator(s.Start)
	if err != nil {
		return 0, 0, err
	}
	end := start
	if s.End != "" {
		if end, err = ParseLocator(s.End); err != nil {
			return 0, 0, err
		}
	}
	from, to = start.Index, end.Index
	if from > to {
		from, to = to, from
	}
	return from, to, nil
}

// Context is the summary material layered into a prompt
type Context struct {
	Book       *models.Summary
	Chapter    *models.Summary
	Subchapter *models.Summary
}

// PickContext keeps the first summary of each level. The store returns the
// narrowest overlapping range first within a level.
func PickContext(summaries []*models.Summary) Context {
	var c Context
	for _, s := range summaries {
		switch s.Level {
		case models.SummaryBook:
			if c.Book == nil {
				c.Book = s
			}
		case models.SummaryChapter:
			if c.Chapter == nil {
				c.Chapter = s
			}
		case models.SummarySubchapter:
			if c.Subchapter == nil {
				c.Subchapter = s
			}
		}
	}
	return c
}

const promptPreamble = "You are a reading companion. Explain the selected passage clearly and concisely, " +
	"using the surrounding context where it helps. Do not reveal events beyond what the context covers."

func writeSection(sb *strings.Builder, heading string, s *models.Summary) {
	if s == nil || strings.TrimSpace(s.Content) == "" {
		return
	}
	if s.Title != "" {
		fmt.Fprintf(sb, "\n\n%s (%s):\n", heading, s.Title)
	} else {
		fmt.Fprintf(sb, "\n\n%s:\n", heading)
	}
	sb.WriteString(strings.TrimSpace(s.Content))
}

// BuildPrompt layers the book, chapter and subchapter summaries, the local
// text window for paged documents, and finally the selected text.
func BuildPrompt(c Context, sel Selection) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)

	writeSection(&sb, "Book summary", c.Book)
	writeSection(&sb, "Chapter summary", c.Chapter)
	writeSection(&sb, "Section summary", c.Subchapter)

	if sel.Kind == KindPaged && strings.TrimSpace(sel.Window) != "" {
		sb.WriteString("\n\nText around the selection:\n")
		sb.WriteString(strings.TrimSpace(sel.Window))
	}

	sb.WriteString("\n\nSelected passage:\n\"\"\"\n")
	sb.WriteString(sel.Text)
	sb.WriteString("\n\"\"\"")
	return sb.String()
}

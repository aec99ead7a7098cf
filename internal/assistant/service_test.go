package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/models"
	"github.com/maneesh/epubshelf/internal/testutil"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	fragments []string
	err       error
	got       []Message
}

func (f *fakeCompleter) Stream(_ context.Context, messages []Message, onFragment func(string)) error {
	f.got = messages
	for _, frag := range f.fragments {
		onFragment(frag)
	}
	return f.err
}

func newCatalog(t *testing.T) *testutil.Catalog {
	t.Helper()
	catalog := testutil.NewCatalog()
	catalog.PutBook(&models.Book{ID: "b1", Title: "Moby-Dick", Fingerprint: "fp"})
	_, err := catalog.LinkOwner(context.Background(), "u1", "b1")
	require.NoError(t, err)

	catalog.AddSummary(&models.Summary{BookID: "b1", Level: models.SummaryBook, Content: "BOOK-SUMMARY"})
	catalog.AddSummary(&models.Summary{BookID: "b1", Level: models.SummaryChapter, Title: "Loomings", Content: "CH1", StartIndex: 0, EndIndex: 2})
	catalog.AddSummary(&models.Summary{BookID: "b1", Level: models.SummaryChapter, Title: "The Carpet-Bag", Content: "CH2", StartIndex: 3, EndIndex: 5})
	catalog.AddSummary(&models.Summary{BookID: "b1", Level: models.SummarySubchapter, Content: "SUB4", StartIndex: 4, EndIndex: 4})
	return catalog
}

func TestExplain_StreamsScopedPrompt(t *testing.T) {
	// given
	catalog := newCatalog(t)
	completer := &fakeCompleter{fragments: []string{"It ", "means ", "this."}}
	svc := NewService(catalog, completer, logger.NewNop())

	req := Request{
		Messages: []Message{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "reply"}},
		Selection: Selection{
			Kind:  KindReflowable,
			Text:  "a damp, drizzly November",
			Start: "4/OEBPS/ch2.xhtml/10",
			End:   "4/OEBPS/ch2.xhtml/40",
		},
	}

	// when
	var relayed strings.Builder
	reply, err := svc.Explain(context.Background(), "u1", "b1", req, func(s string) { relayed.WriteString(s) })

	// then
	require.NoError(t, err)
	require.Equal(t, "It means this.", reply.Text())
	require.Equal(t, "It means this.", relayed.String())
	require.False(t, reply.Conversation().Loading())

	require.Len(t, completer.got, 3)
	prompt := completer.got[2].Content
	require.Equal(t, RoleUser, completer.got[2].Role)
	require.Contains(t, prompt, "BOOK-SUMMARY")
	require.Contains(t, prompt, "Chapter summary (The Carpet-Bag):\nCH2")
	require.Contains(t, prompt, "SUB4")
	require.NotContains(t, prompt, "CH1")
	require.Contains(t, prompt, "a damp, drizzly November")

	entries := reply.Conversation().Entries()
	require.Len(t, entries, 4)
	require.Equal(t, "a damp, drizzly November", entries[2].Content)
	require.Equal(t, "The Carpet-Bag", entries[2].PositionTitle)
	require.Equal(t, "4·OEBPS·ch2.xhtml·10 – 4·OEBPS·ch2.xhtml·40", entries[2].PositionLabel)
}

func TestExplain_TransportFailureAppendsFallback(t *testing.T) {
	catalog := newCatalog(t)
	completer := &fakeCompleter{fragments: []string{"Partial"}, err: errors.New("connection reset")}
	svc := NewService(catalog, completer, logger.NewNop())

	var relayed strings.Builder
	reply, err := svc.Explain(context.Background(), "u1", "b1",
		Request{Selection: Selection{Text: "x", Start: "1/a.xhtml/0"}},
		func(s string) { relayed.WriteString(s) })

	require.NoError(t, err)
	require.True(t, reply.Failed())
	require.Equal(t, "Partial\n\n"+FallbackMessage, reply.Text())
	require.Equal(t, reply.Text(), relayed.String())
	require.False(t, reply.Conversation().Loading())
}

func TestExplain_CancelledIsNotAFailure(t *testing.T) {
	catalog := newCatalog(t)
	completer := &fakeCompleter{err: context.Canceled}
	svc := NewService(catalog, completer, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply, err := svc.Explain(ctx, "u1", "b1", Request{Selection: Selection{Text: "x"}}, func(string) {})

	require.NoError(t, err)
	require.False(t, reply.Failed())
	require.Empty(t, reply.Text())
}

func TestExplain_Rejections(t *testing.T) {
	catalog := newCatalog(t)
	svc := NewService(catalog, &fakeCompleter{}, logger.NewNop())
	ctx := context.Background()
	sel := Selection{Text: "x", Start: "1/a.xhtml/0"}

	tests := []struct {
		name   string
		userID string
		bookID string
		sel    Selection
		kind   apperr.Kind
	}{
		{name: "anonymous", userID: "", bookID: "b1", sel: sel, kind: apperr.KindUnauthorized},
		{name: "empty selection", userID: "u1", bookID: "b1", sel: Selection{Text: "  "}, kind: apperr.KindBadRequest},
		{name: "unknown kind", userID: "u1", bookID: "b1", sel: Selection{Text: "x", Kind: "audio"}, kind: apperr.KindBadRequest},
		{name: "not owner", userID: "u2", bookID: "b1", sel: sel, kind: apperr.KindNotFound},
		{name: "missing book", userID: "u1", bookID: "nope", sel: sel, kind: apperr.KindNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			_, err := svc.Explain(ctx, tc.userID, tc.bookID, Request{Selection: tc.sel}, func(string) { called = true })
			require.Equal(t, tc.kind, apperr.KindOf(err))
			require.False(t, called)
		})
	}
}

func TestExplain_DegradesWithoutSummaries(t *testing.T) {
	catalog := newCatalog(t)
	catalog.FailSummary = errors.New("timeout")
	completer := &fakeCompleter{fragments: []string{"ok"}}
	svc := NewService(catalog, completer, logger.NewNop())

	reply, err := svc.Explain(context.Background(), "u1", "b1",
		Request{Selection: Selection{Kind: KindPaged, Text: "x", Start: "2/0/0", Window: "nearby"}}, func(string) {})

	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text())
	prompt := completer.got[len(completer.got)-1].Content
	require.NotContains(t, prompt, "BOOK-SUMMARY")
	require.Contains(t, prompt, "nearby")
}

func TestExplain_UnparseableLocatorKeepsBookSummary(t *testing.T) {
	catalog := newCatalog(t)
	completer := &fakeCompleter{}
	svc := NewService(catalog, completer, logger.NewNop())

	_, err := svc.Explain(context.Background(), "u1", "b1",
		Request{Selection: Selection{Text: "x", Start: "epubcfi(/6/4)"}}, func(string) {})

	require.NoError(t, err)
	prompt := completer.got[0].Content
	require.Contains(t, prompt, "BOOK-SUMMARY")
	require.NotContains(t, prompt, "CH1")
	require.NotContains(t, prompt, "CH2")
}

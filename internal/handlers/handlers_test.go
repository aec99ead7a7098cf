package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/assistant"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/ingest"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/models"
	"github.com/maneesh/epubshelf/internal/reader"
	"github.com/maneesh/epubshelf/internal/testutil"
	"github.com/stretchr/testify/require"
)

type harness struct {
	router  http.Handler
	authn   *auth.Authenticator
	catalog *testutil.Catalog
	objects *testutil.Objects
}

func newHarness(t *testing.T, completionURL string) *harness {
	t.Helper()
	log := logger.NewNop()
	catalog := testutil.NewCatalog()
	objects := testutil.NewObjects()
	authn := auth.NewAuthenticator("test-secret", "session", log)

	readerSvc := reader.NewService(catalog, objects, log)
	assistantSvc := assistant.NewService(catalog, assistant.NewClient(completionURL, "", 5*time.Second), log)

	router := NewRouter(authn, Handlers{
		Upload:    NewUploadHandler(ingest.NewService(catalog, objects, log), 1<<20, log),
		Library:   NewLibraryHandler(readerSvc, log),
		File:      NewFileHandler(readerSvc, log),
		Read:      NewReadHandler(readerSvc, "/login", "/library", log),
		Assistant: NewAssistantHandler(assistantSvc, log),
	})
	return &harness{router: router, authn: authn, catalog: catalog, objects: objects}
}

func (h *harness) do(t *testing.T, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		token, err := h.authn.Issue(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/books", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		details string
	}{
		{name: "unauthorized", err: apperr.Unauthorized("unauthorized"), status: http.StatusUnauthorized},
		{name: "bad request", err: apperr.BadRequest("no file"), status: http.StatusBadRequest},
		{name: "not found", err: apperr.NotFound("book not found"), status: http.StatusNotFound},
		{name: "conflict", err: &apperr.Error{Kind: apperr.KindConflict, Message: "already linked"}, status: http.StatusConflict},
		{name: "internal", err: apperr.Internal("failed to store book", errors.New("disk full")), status: http.StatusInternalServerError, details: "disk full"},
		{name: "untyped", err: errors.New("boom"), status: http.StatusInternalServerError, details: "boom"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, logger.NewNop(), tc.err)

			require.Equal(t, tc.status, rec.Code)
			body := decode[ErrorResponse](t, rec)
			require.NotEmpty(t, body.Error)
			require.Equal(t, tc.details, body.Details)
		})
	}
}

func TestUpload(t *testing.T) {
	epub := []byte("PK\x03\x04 pretend epub")

	t.Run("unauthenticated", func(t *testing.T) {
		h := newHarness(t, "")
		rec := h.do(t, uploadRequest(t, "a.epub", ingest.EPUBContentType, epub), "")

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Error)
	})

	t.Run("same user twice", func(t *testing.T) {
		// given
		h := newHarness(t, "")

		// when
		first := h.do(t, uploadRequest(t, "Walden.EPUB", ingest.EPUBContentType, epub), "u1")
		second := h.do(t, uploadRequest(t, "copy.epub", "application/octet-stream", epub), "u1")

		// then
		require.Equal(t, http.StatusOK, first.Code)
		require.Equal(t, http.StatusOK, second.Code)
		created := decode[map[string]any](t, first)
		require.NotContains(t, created, "duplicate")
		require.Equal(t, ingest.MessageCreated, created["message"])

		dup := decode[ingest.Result](t, second)
		require.True(t, dup.Duplicate)
		require.Equal(t, created["book_id"], dup.BookID)
		require.Equal(t, 1, h.catalog.BookCount())
		require.Equal(t, 1, h.catalog.OwnerCount(dup.BookID))
		require.Equal(t, 1, h.objects.Len())
	})

	t.Run("second user", func(t *testing.T) {
		h := newHarness(t, "")
		first := decode[ingest.Result](t, h.do(t, uploadRequest(t, "a.epub", ingest.EPUBContentType, epub), "u1"))
		second := decode[ingest.Result](t, h.do(t, uploadRequest(t, "a.epub", ingest.EPUBContentType, epub), "u2"))

		require.True(t, second.Duplicate)
		require.Equal(t, first.BookID, second.BookID)
		require.Equal(t, 1, h.catalog.BookCount())
		require.Equal(t, 2, h.catalog.OwnerCount(first.BookID))
	})

	t.Run("not an epub", func(t *testing.T) {
		h := newHarness(t, "")
		rec := h.do(t, uploadRequest(t, "notes.txt", "text/plain", []byte("hello")), "u1")

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		require.Zero(t, h.catalog.BookCount())
		require.Zero(t, h.objects.Len())
	})

	t.Run("missing file field", func(t *testing.T) {
		h := newHarness(t, "")
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("title", "x"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/api/books", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rec := h.do(t, req, "u1")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "no file", decode[ErrorResponse](t, rec).Error)
	})

	t.Run("too large", func(t *testing.T) {
		h := newHarness(t, "")
		rec := h.do(t, uploadRequest(t, "big.epub", ingest.EPUBContentType, bytes.Repeat([]byte("x"), 2<<20)), "u1")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("datastore failure", func(t *testing.T) {
		h := newHarness(t, "")
		h.catalog.FailCreate = errors.New("disk full")

		rec := h.do(t, uploadRequest(t, "a.epub", ingest.EPUBContentType, epub), "u1")

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode[ErrorResponse](t, rec)
		require.NotEmpty(t, body.Error)
		require.Equal(t, "disk full", body.Details)
		require.Zero(t, h.objects.Len())
	})
}

func TestUpload_RemovesSpooledParts(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	log := logger.NewNop()
	handler := NewUploadHandler(ingest.NewService(testutil.NewCatalog(), testutil.NewObjects(), log), 1<<20, log)
	// Force every file part to disk
	handler.formMemory = 1

	tests := []struct {
		name        string
		filename    string
		contentType string
		status      int
	}{
		{name: "stored", filename: "a.epub", contentType: ingest.EPUBContentType, status: http.StatusOK},
		{name: "rejected", filename: "a.txt", contentType: "text/plain", status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := uploadRequest(t, tc.filename, tc.contentType, bytes.Repeat([]byte(tc.name), 4096))
			req = req.WithContext(auth.WithUserID(req.Context(), "u1"))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			leftovers, err := os.ReadDir(tmp)
			require.NoError(t, err)
			require.Empty(t, leftovers)
		})
	}
}

func seedBook(t *testing.T, h *harness, manifest string) {
	t.Helper()
	h.catalog.PutBook(&models.Book{
		ID:               "b1",
		Title:            "Moby-Dick",
		Fingerprint:      "fp",
		StoragePath:      "books/u1/b1.epub",
		OriginalFilename: "moby.epub",
		ManifestPath:     manifest,
		Size:             5,
	})
	_, err := h.catalog.LinkOwner(context.Background(), "u1", "b1")
	require.NoError(t, err)
	require.NoError(t, h.objects.PutObject(context.Background(), "books/u1/b1.epub", []byte("bytes"), ingest.EPUBContentType))
}

func TestLibraryAndFile(t *testing.T) {
	h := newHarness(t, "")
	seedBook(t, h, "")

	t.Run("library lists owned books", func(t *testing.T) {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/books", nil), "u1")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[LibraryResponse](t, rec)
		require.Len(t, resp.Books, 1)
		require.Equal(t, "/read/b1", resp.Books[0].ReadURL)
	})

	t.Run("empty library is an empty list", func(t *testing.T) {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/books", nil), "u2")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"books":[]}`, rec.Body.String())
	})

	t.Run("library requires a session", func(t *testing.T) {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/books", nil), "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("owner downloads the file", func(t *testing.T) {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/books/b1/file", nil), "u1")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, ingest.EPUBContentType, rec.Header().Get("Content-Type"))
		require.Equal(t, "5", rec.Header().Get("Content-Length"))
		require.Equal(t, "bytes", rec.Body.String())
	})

	t.Run("non owner gets 404", func(t *testing.T) {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/books/b1/file", nil), "u2")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReadPage(t *testing.T) {
	t.Run("anonymous redirects to login", func(t *testing.T) {
		h := newHarness(t, "")
		seedBook(t, h, "manifests/b1.json")
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/read/b1", nil), "")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("session cookie is accepted", func(t *testing.T) {
		h := newHarness(t, "")
		seedBook(t, h, "manifests/b1.json")
		token, err := h.authn.Issue("u1", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/read/b1", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: token})

		rec := h.do(t, req, "")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non owner and unknown book redirect to library", func(t *testing.T) {
		h := newHarness(t, "")
		seedBook(t, h, "manifests/b1.json")
		for _, tc := range []struct{ user, book string }{{"u2", "b1"}, {"u1", "missing"}} {
			rec := h.do(t, httptest.NewRequest(http.MethodGet, "/read/"+tc.book, nil), tc.user)
			require.Equal(t, http.StatusFound, rec.Code)
			require.Equal(t, "/library", rec.Header().Get("Location"))
		}
	})

	t.Run("backend failure redirects to library", func(t *testing.T) {
		h := newHarness(t, "")
		h.catalog.FailGet = errors.New("down")
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/read/b1", nil), "u1")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/library", rec.Header().Get("Location"))
	})

	t.Run("missing manifest renders the panel", func(t *testing.T) {
		h := newHarness(t, "")
		seedBook(t, h, "")
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/read/b1", nil), "u1")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "Manifest not found")
		require.Contains(t, rec.Body.String(), "Moby-Dick")
	})

	t.Run("ready hands off to the renderer", func(t *testing.T) {
		h := newHarness(t, "")
		seedBook(t, h, "manifests/b1.json")
		rec := h.do(t, httptest.NewRequest(http.MethodGet, "/read/b1", nil), "u1")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		require.Contains(t, body, `data-book-id="b1"`)
		require.Contains(t, body, `data-manifest-path="manifests/b1.json"`)
		require.Contains(t, body, `data-title="Moby-Dick"`)
	})
}

func assistantRequest(t *testing.T, text string) *http.Request {
	t.Helper()
	body, err := json.Marshal(assistant.Request{
		Selection: assistant.Selection{Kind: assistant.KindReflowable, Text: text, Start: "1/ch1.xhtml/0"},
	})
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/api/books/b1/assistant", bytes.NewReader(body))
}

// relayedText reconstructs the reply the browser would see.
func relayedText(t *testing.T, body string) (string, bool) {
	t.Helper()
	var sb strings.Builder
	var d assistant.Decoder
	done, err := d.Feed([]byte(body), func(s string) { sb.WriteString(s) })
	require.NoError(t, err)
	return sb.String(), done
}

func TestAssistant(t *testing.T) {
	completion := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"content\":\"Whales \"}\ndata: {\"content\":\"are big.\"}\ndata: [DONE]\n"))
	}))
	defer completion.Close()

	t.Run("relays fragments and terminator", func(t *testing.T) {
		h := newHarness(t, completion.URL)
		seedBook(t, h, "")

		rec := h.do(t, assistantRequest(t, "Call me Ishmael."), "u1")

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		text, done := relayedText(t, rec.Body.String())
		require.True(t, done)
		require.Equal(t, "Whales are big.", text)
		require.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
	})

	t.Run("completion failure becomes the fallback message", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer broken.Close()
		h := newHarness(t, broken.URL)
		seedBook(t, h, "")

		rec := h.do(t, assistantRequest(t, "x"), "u1")

		require.Equal(t, http.StatusOK, rec.Code)
		text, done := relayedText(t, rec.Body.String())
		require.True(t, done)
		require.Equal(t, assistant.FallbackMessage, text)
	})

	t.Run("rejections are plain JSON errors", func(t *testing.T) {
		h := newHarness(t, completion.URL)
		seedBook(t, h, "")

		rec := h.do(t, assistantRequest(t, "x"), "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = h.do(t, assistantRequest(t, "x"), "u2")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		rec = h.do(t, assistantRequest(t, ""), "u1")
		require.Equal(t, http.StatusBadRequest, rec.Code)

		req := httptest.NewRequest(http.MethodPost, "/api/books/b1/assistant", strings.NewReader("{"))
		rec = h.do(t, req, "u1")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, "")

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "epubshelf_http_requests_total")
}

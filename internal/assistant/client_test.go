package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Stream(t *testing.T) {
	var got completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		// Split a record across two flushes
		w.Write([]byte("data: {\"content\":\"Hel"))
		flusher.Flush()
		w.Write([]byte("lo\"}\ndata: {\"content\":\" world\"}\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", 5*time.Second)
	var sb strings.Builder
	err := client.Stream(context.Background(), []Message{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "prompt"},
	}, func(s string) { sb.WriteString(s) })

	require.NoError(t, err)
	require.Equal(t, "Hello world", sb.String())
	require.Len(t, got.Messages, 3)
	require.Equal(t, "prompt", got.Messages[2].Content)
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	err := client.Stream(context.Background(), nil, func(string) {})
	require.ErrorContains(t, err, "503")
	require.ErrorContains(t, err, "overloaded")
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewClient(url, "", time.Second).Stream(context.Background(), nil, func(string) {})
	require.Error(t, err)
}

func TestClient_StreamOutlivesHeaderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range []string{"a", "b", "c", "d"} {
			w.Write([]byte("data: {\"content\":\"" + word + "\"}\n"))
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer server.Close()

	// The whole body takes longer than the timeout
	client := NewClient(server.URL, "", 100*time.Millisecond)
	var sb strings.Builder
	err := client.Stream(context.Background(), nil, func(s string) { sb.WriteString(s) })

	require.NoError(t, err)
	require.Equal(t, "abcd", sb.String())
}

func TestClient_SlowHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	err := NewClient(server.URL, "", 100*time.Millisecond).Stream(context.Background(), nil, func(string) {})

	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestClient_ContextCancelsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"content\":\"x\"}\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var sb strings.Builder
	err := NewClient(server.URL, "", time.Second).Stream(ctx, nil, func(s string) {
		sb.WriteString(s)
		cancel()
	})

	require.Error(t, err)
	require.Equal(t, "x", sb.String())
}

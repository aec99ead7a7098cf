package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/assistant"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxAssistantBody = 1 << 20

// AssistantHandler relays assistant replies as server-sent events
type AssistantHandler struct {
	assistant *assistant.Service
	log       *logger.Logger
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(svc *assistant.Service, log *logger.Logger) *AssistantHandler {
	return &AssistantHandler{assistant: svc, log: log.With("handler", "assistant")}
}

type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func (ew *eventWriter) start() {
	if ew.started {
		return
	}
	ew.started = true
	h := ew.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	ew.w.WriteHeader(http.StatusOK)
}

func (ew *eventWriter) send(payload string) {
	ew.start()
	fmt.Fprintf(ew.w, "data: %s\n\n", payload)
	ew.rc.Flush()
}

func (ew *eventWriter) fragment(content string) {
	data, _ := json.Marshal(map[string]string{"content": content})
	ew.send(string(data))
}

// ServeHTTP handles POST /api/books/{book_id}/assistant
func (ah *AssistantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "assistant_stream",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	bookID := mux.Vars(r)["book_id"]
	span.SetAttributes(attribute.String("book_id", bookID))

	userID := auth.UserID(ctx)
	if userID == "" {
		writeError(w, ah.log, apperr.Unauthorized("unauthorized"))
		return
	}

	var req assistant.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAssistantBody)).Decode(&req); err != nil {
		writeError(w, ah.log, apperr.BadRequest("invalid request body"))
		return
	}

	events := &eventWriter{w: w, rc: http.NewResponseController(w)}
	reply, err := ah.assistant.Explain(ctx, userID, bookID, req, events.fragment)
	if err != nil {
		span.RecordError(err)
		writeError(w, ah.log, err)
		return
	}

	events.send("[DONE]")
	span.SetAttributes(
		attribute.Bool("failed", reply.Failed()),
		attribute.Int("reply_length", len(reply.Text())),
	)
}

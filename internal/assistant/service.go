// Package assistant answers questions about a selected passage. It scopes
// stored summaries to the selection, layers them into a prompt and relays the
// completion service's streamed reply.
package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/metrics"
	"github.com/maneesh/epubshelf/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("epubshelf-assistant")

// SummaryStore provides ownership checks and position-scoped summaries
type SummaryStore interface {
	IsOwner(ctx context.Context, userID, bookID string) (bool, error)
	GetSummaries(ctx context.Context, bookID string, fromIndex, toIndex int) ([]*models.Summary, error)
}

// Completer streams a completion for a conversation
type Completer interface {
	Stream(ctx context.Context, messages []Message, onFragment func(string)) error
}

// Request is the body of an assistant call: the running conversation so far
// and the new selection.
type Request struct {
	Messages  []Message `json:"messages"`
	Selection Selection `json:"selection"`
}

// Service runs assistant exchanges
type Service struct {
	store     SummaryStore
	completer Completer
	log       *logger.Logger
}

// NewService creates the assistant service
func NewService(store SummaryStore, completer Completer, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		completer: completer,
		log:       log.With("component", "assistant"),
	}
}

// Explain validates the request, builds the prompt and streams the reply,
// calling onFragment for every piece of text added to the assistant entry.
// onFragment is never called when an error is returned. A failed completion
// is not an error: the fallback message is appended and relayed instead.
func (s *Service) Explain(ctx context.Context, userID, bookID string, req Request, onFragment func(string)) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "explain_selection",
		trace.WithAttributes(attribute.String("book_id", bookID)),
	)
	defer span.End()

	sel := req.Selection
	if userID == "" {
		return nil, apperr.Unauthorized("unauthorized")
	}
	if strings.TrimSpace(sel.Text) == "" {
		return nil, apperr.BadRequest("selection text is required")
	}
	switch sel.Kind {
	case "":
		sel.Kind = KindReflowable
	case KindReflowable, KindPaged:
	default:
		return nil, apperr.BadRequest("unknown document kind " + string(sel.Kind))
	}

	owned, err := s.store.IsOwner(ctx, userID, bookID)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal("failed to check ownership", err)
	}
	if !owned {
		return nil, apperr.NotFound("book not found")
	}

	summaries := s.scopedContext(ctx, bookID, sel)
	prompt := BuildPrompt(summaries, sel)

	conv := NewConversation(req.Messages)
	messages := append(conv.Messages(), Message{Role: RoleUser, Content: prompt})
	conv.AddUser(sel.Text, RangeLabel(sel.Start, sel.End), positionTitle(summaries))
	reply := conv.BeginReply()

	err = s.completer.Stream(ctx, messages, func(fragment string) {
		reply.Append(fragment)
		onFragment(fragment)
	})
	switch {
	case err == nil:
		reply.Finish()
		metrics.AssistantStreams.WithLabelValues(metrics.OutcomeCompleted).Inc()
	case ctx.Err() != nil:
		s.log.Info("assistant stream abandoned", "book_id", bookID, "user_id", userID)
		reply.Finish()
		metrics.AssistantStreams.WithLabelValues(metrics.OutcomeAbandoned).Inc()
	default:
		s.log.Warn("assistant stream failed", "book_id", bookID, "user_id", userID, "error", err)
		span.RecordError(err)
		if appended := reply.Fail(); appended != "" {
			onFragment(appended)
		}
		metrics.AssistantStreams.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
	return reply, nil
}

// scopedContext loads the summaries overlapping the selection. Lookup
// problems degrade to less context rather than failing the exchange.
func (s *Service) scopedContext(ctx context.Context, bookID string, sel Selection) Context {
	from, to, err := sel.Range()
	if err != nil {
		// Book-level summaries still match; no range starts below zero.
		s.log.Debug("unparseable selection locators", "book_id", bookID, "start", sel.Start, "end", sel.End, "error", err)
		from, to = -1, -1
	}

	summaries, err := s.store.GetSummaries(ctx, bookID, from, to)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn("failed to load summaries", "book_id", bookID, "error", err)
		}
		return Context{}
	}
	return PickContext(summaries)
}

func positionTitle(c Context) string {
	if c.Chapter != nil && c.Chapter.Title != "" {
		return c.Chapter.Title
	}
	if c.Subchapter != nil {
		return c.Subchapter.Title
	}
	return ""
}

package assistant

import (
	"strings"
	"sync"
	"time"
)

// Roles used in the transcript and on the wire
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FallbackMessage replaces a response that could not be delivered.
const FallbackMessage = "Sorry, I couldn't get a response right now. Please try again."

// Entry is one displayed message
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Position of the selection the entry is about, user entries only.
	PositionLabel string `json:"position_label,omitempty"`
	PositionTitle string `json:"position_title,omitempty"`
}

// Conversation is an in-memory chat transcript. It is not persisted.
type Conversation struct {
	mu      sync.Mutex
	entries []*Entry
	loading bool
	now     func() time.Time
}

// NewConversation seeds a transcript with earlier turns
func NewConversation(history []Message) *Conversation {
	c := &Conversation{now: time.Now}
	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		c.entries = append(c.entries, &Entry{Role: m.Role, Content: m.Content, Timestamp: c.now()})
	}
	return c
}

// Messages returns the transcript in wire form
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, Message{Role: e.Role, Content: e.Content})
	}
	return out
}

// Entries returns a snapshot of the transcript
func (c *Conversation) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

// Loading reports whether a reply is in progress
func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// AddUser appends the user's side of an exchange
func (c *Conversation) AddUser(content, label, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, &Entry{
		Role:          RoleUser,
		Content:       content,
		Timestamp:     c.now(),
		PositionLabel: label,
		PositionTitle: title,
	})
}

// BeginReply appends an empty assistant entry and enters the loading state.
func (c *Conversation) BeginReply() *Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &Entry{Role: RoleAssistant, Timestamp: c.now()}
	c.entries = append(c.entries, entry)
	c.loading = true
	return &Reply{conv: c, entry: entry, done: make(chan struct{})}
}

// Reply is the growing assistant entry of the current exchange
type Reply struct {
	conv   *Conversation
	entry  *Entry
	once   sync.Once
	done   chan struct{}
	failed bool
}

// Append adds a fragment to the entry. Fragments after Finish are dropped.
func (r *Reply) Append(fragment string) {
	r.conv.mu.Lock()
	defer r.conv.mu.Unlock()
	select {
	case <-r.done:
		return
	default:
	}
	r.entry.Content += fragment
}

// Finish leaves the loading state. Only the first call has any effect.
func (r *Reply) Finish() {
	r.once.Do(func() {
		r.conv.mu.Lock()
		r.conv.loading = false
		r.conv.mu.Unlock()
		close(r.done)
	})
}

// Fail appends the fallback message and finishes the reply. It returns the
// text that was appended, empty when the reply had already finished.
func (r *Reply) Fail() string {
	r.conv.mu.Lock()
	select {
	case <-r.done:
		r.conv.mu.Unlock()
		return ""
	default:
	}
	if r.failed {
		r.conv.mu.Unlock()
		return ""
	}
	appended := FallbackMessage
	if r.entry.Content != "" && !strings.HasSuffix(r.entry.Content, "\n") {
		appended = "\n\n" + FallbackMessage
	}
	r.entry.Content += appended
	r.failed = true
	r.conv.mu.Unlock()
	r.Finish()
	return appended
}

// Done is closed once the reply has finished
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Text returns the content received so far
func (r *Reply) Text() string {
	r.conv.mu.Lock()
	defer r.conv.mu.Unlock()
	return r.entry.Content
}

// Failed reports whether the reply ended with the fallback message
func (r *Reply) Failed() bool {
	r.conv.mu.Lock()
	defer r.conv.mu.Unlock()
	return r.failed
}

// Conversation returns the transcript the reply belongs to
func (r *Reply) Conversation() *Conversation {
	return r.conv
}

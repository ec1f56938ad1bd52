// Package audit provides the asynchronous audit trail for session and
// document-sync lifecycle events.
//
// Events are emitted by the session manager and document client, buffered
// by a dispatcher goroutine, and forwarded to a pluggable sink. Emission
// never blocks the calling operation beyond the configured policy.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted by flocksync.
const (
	EventSignInSuccess    = "signin.success"
	EventSignInFailure    = "signin.failure"
	EventSignInOffline    = "signin.offline_reentry"
	EventSignUpSuccess    = "signup.success"
	EventSignUpFailure    = "signup.failure"
	EventSignOut          = "signout"
	EventRefreshSuccess   = "refresh.success"
	EventRefreshFailure   = "refresh.failure"
	EventIdentityRestored = "identity.restored"
	EventStorageFault     = "storage.tier_fault"
	EventDocWriteFailure  = "doc.write_failure"
	EventCrossOwnerDenied = "doc.cross_owner_denied"
	EventListenerEvicted  = "listener.evicted"
)

// Event is the canonical audit record.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	Collection string            `json:"collection,omitempty"`
	DocID      string            `json:"doc_id,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

package chat

import (
	"context"
	"strconv"
	"time"
)

// Store is the message store as seen by one participant. Every method may
// fail with ErrValidation, ErrNotFound or a StoreError.
type Store interface {
	// ListConversations returns the caller's non-deleted conversations,
	// newest last message first.
	ListConversations(ctx context.Context) ([]Conversation, error)
	// ListMessages returns the full thread ordered by creation time.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// SendMessage stores content and returns the confirmed message.
	SendMessage(ctx context.Context, conversationID, content string) (Message, error)
	// MarkRead stamps every unread message authored by the other participant.
	// The returned time is the read time the store applied; it is zero when
	// nothing was unread or the store does not report one.
	MarkRead(ctx context.Context, conversationID string) (time.Time, error)
	// DeleteConversation hides the conversation from the caller's inbox.
	DeleteConversation(ctx context.Context, conversationID string) error
	// CreateConversation starts (or reuses) a conversation with participantID.
	// serviceID may be empty.
	CreateConversation(ctx context.Context, participantID, initialMessage, serviceID string) (Conversation, error)
}

// EventKind enumerates the realtime notifications a conversation emits.
type EventKind string

const (
	EventMessageCreated EventKind = "message.created"
	EventMessagesRead   EventKind = "messages.read"
)

// Event is a realtime notification scoped to one conversation.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Message        *Message  `json:"message,omitempty"`
	// ReaderID and ReadAt are set for EventMessagesRead: every message not
	// authored by ReaderID and created at or before ReadAt is now read.
	ReaderID string    `json:"reader_id,omitempty"`
	ReadAt   time.Time `json:"read_at,omitempty"`
}

// Subscriber attaches to the realtime feed of a single conversation. The
// returned cancel func closes the channel and releases the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan Event, func(), error)
}

// Key identifies the event for deduplication. Redelivered copies of the
// same event share a key.
func (e Event) Key() string {
	switch {
	case e.Kind == EventMessageCreated && e.Message != nil:
		return string(e.Kind) + ":" + e.Message.ID
	case e.Kind == EventMessagesRead:
		return string(e.Kind) + ":" + e.ConversationID + ":" + e.ReaderID + ":" + strconv.FormatInt(e.ReadAt.UnixMilli(), 10)
	default:
		return ""
	}
}

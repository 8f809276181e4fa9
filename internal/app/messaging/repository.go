package messaging

import (
	"context"
	"sort"
	"strings"
	"time"

	"rentchat/internal/domain/chat"
)

// ConversationRecord is the persisted shape of a conversation, independent
// of which participant is looking at it.
type ConversationRecord struct {
	ID             string
	ParticipantIDs []string
	ServiceID      string
	LastMessage    *chat.LastMessage
	HiddenFor      []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasMember reports whether participantID takes part in the conversation.
func (r ConversationRecord) HasMember(participantID string) bool {
	for _, id := range r.ParticipantIDs {
		if id == participantID {
			return true
		}
	}
	return false
}

// HiddenBy reports whether participantID soft-deleted the conversation.
func (r ConversationRecord) HiddenBy(participantID string) bool {
	for _, id := range r.HiddenFor {
		if id == participantID {
			return true
		}
	}
	return false
}

// Repository persists conversations, messages, participants and services.
// Implementations return chat.ErrNotFound for missing rows.
type Repository interface {
	UpsertParticipant(ctx context.Context, p chat.Participant) error
	TouchParticipant(ctx context.Context, participantID string, at time.Time) error
	Participant(ctx context.Context, participantID string) (chat.Participant, error)

	UpsertService(ctx context.Context, svc chat.ServiceRef) error
	Service(ctx context.Context, serviceID string) (chat.ServiceRef, error)

	CreateConversation(ctx context.Context, rec ConversationRecord) error
	Conversation(ctx context.Context, conversationID string) (ConversationRecord, error)
	// FindConversation looks up the conversation between the participant
	// pair for serviceID ("" for a direct conversation).
	FindConversation(ctx context.Context, participantIDs []string, serviceID string) (ConversationRecord, error)
	// ConversationsFor lists the participant's conversations that are not hidden.
	ConversationsFor(ctx context.Context, participantID string) ([]ConversationRecord, error)
	// Hide soft-deletes the conversation for one participant.
	Hide(ctx context.Context, conversationID, participantID string) error

	// AppendMessage stores msg, refreshes the conversation's last message and
	// makes the conversation visible again to every participant.
	AppendMessage(ctx context.Context, msg chat.Message) error
	// Messages returns the thread ordered by creation time ascending.
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)
	// MarkRead stamps at on every unread message not authored by readerID
	// and returns how many messages changed.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
	// CountUnread counts messages not authored by readerID without a read time.
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
}

// NormalizeParticipants trims, de-duplicates and sorts participant ids so
// that a pair always has the same key.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SameParticipants compares two participant sets regardless of order.
func SameParticipants(a, b []string) bool {
	aNorm := NormalizeParticipants(a)
	bNorm := NormalizeParticipants(b)
	if len(aNorm) != len(bNorm) {
		return false
	}
	for i := range aNorm {
		if aNorm[i] != bNorm[i] {
			return false
		}
	}
	return true
}

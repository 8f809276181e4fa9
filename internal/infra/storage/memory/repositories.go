package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

// Repository is an in-memory messaging.Repository for development and tests.
type Repository struct {
	mu            sync.RWMutex
	participants  map[string]chat.Participant
	services      map[string]chat.ServiceRef
	conversations map[string]*messaging.ConversationRecord
	messages      map[string][]chat.Message // conversationID -> thread in insertion order
	userIndex     map[string][]string       // participantID -> []conversationID
}

// NewRepository builds an empty repository.
func NewRepository() *Repository {
	return &Repository{
		participants:  make(map[string]chat.Participant),
		services:      make(map[string]chat.ServiceRef),
		conversations: make(map[string]*messaging.ConversationRecord),
		messages:      make(map[string][]chat.Message),
		userIndex:     make(map[string][]string),
	}
}

// UpsertParticipant stores or replaces a participant profile.
func (r *Repository) UpsertParticipant(ctx context.Context, p chat.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.ID] = p
	return nil
}

// TouchParticipant records activity; unknown participants yield chat.ErrNotFound.
func (r *Repository) TouchParticipant(ctx context.Context, participantID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok {
		return chat.ErrNotFound
	}
	seen := at
	p.LastSeenAt = &seen
	r.participants[participantID] = p
	return nil
}

// Participant returns a participant or chat.ErrNotFound.
func (r *Repository) Participant(ctx context.Context, participantID string) (chat.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantID]
	if !ok {
		return chat.Participant{}, chat.ErrNotFound
	}
	return p, nil
}

// UpsertService stores a marketplace service reference.
func (r *Repository) UpsertService(ctx context.Context, svc chat.ServiceRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ID] = svc
	return nil
}

// Service returns a service reference or chat.ErrNotFound.
func (r *Repository) Service(ctx context.Context, serviceID string) (chat.ServiceRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return chat.ServiceRef{}, chat.ErrNotFound
	}
	return svc, nil
}

// CreateConversation inserts a new conversation record.
func (r *Repository) CreateConversation(ctx context.Context, rec messaging.ConversationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneRecord(rec)
	r.conversations[rec.ID] = &stored
	for _, id := range rec.ParticipantIDs {
		r.userIndex[id] = append(r.userIndex[id], rec.ID)
	}
	return nil
}

// Conversation returns a record or chat.ErrNotFound.
func (r *Repository) Conversation(ctx context.Context, conversationID string) (messaging.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.conversations[conversationID]
	if !ok {
		return messaging.ConversationRecord{}, chat.ErrNotFound
	}
	return cloneRecord(*rec), nil
}

// FindConversation locates the conversation for a participant pair and service.
func (r *Repository) FindConversation(ctx context.Context, participantIDs []string, serviceID string) (messaging.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	normalized := messaging.NormalizeParticipants(participantIDs)
	if len(normalized) == 0 {
		return messaging.ConversationRecord{}, chat.ErrNotFound
	}
	for _, id := range r.userIndex[normalized[0]] {
		rec := r.conversations[id]
		if rec.ServiceID == serviceID && messaging.SameParticipants(rec.ParticipantIDs, normalized) {
			return cloneRecord(*rec), nil
		}
	}
	return messaging.ConversationRecord{}, chat.ErrNotFound
}

// ConversationsFor lists visible conversations of a participant.
func (r *Repository) ConversationsFor(ctx context.Context, participantID string) ([]messaging.ConversationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]messaging.ConversationRecord, 0, len(r.userIndex[participantID]))
	for _, id := range r.userIndex[participantID] {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		rec := r.conversations[id]
		if rec.HiddenBy(participantID) {
			continue
		}
		out = append(out, cloneRecord(*rec))
	}
	return out, nil
}

// Hide soft-deletes a conversation for one participant.
func (r *Repository) Hide(ctx context.Context, conversationID, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conversations[conversationID]
	if !ok {
		return chat.ErrNotFound
	}
	if !rec.HiddenBy(participantID) {
		rec.HiddenFor = append(rec.HiddenFor, participantID)
	}
	return nil
}

// AppendMessage stores msg and refreshes the conversation summary.
func (r *Repository) AppendMessage(ctx context.Context, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conversations[msg.ConversationID]
	if !ok {
		return chat.ErrNotFound
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	if rec.LastMessage == nil || !msg.CreatedAt.Before(rec.LastMessage.CreatedAt) {
		rec.LastMessage = msg.Summary()
	}
	rec.UpdatedAt = msg.CreatedAt
	rec.HiddenFor = nil
	return nil
}

// Messages returns a copy of the thread ordered by creation time.
func (r *Repository) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return nil, chat.ErrNotFound
	}
	thread := r.messages[conversationID]
	out := make([]chat.Message, len(thread))
	for i, msg := range thread {
		out[i] = cloneMessage(msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkRead stamps unread messages authored by the other participant.
func (r *Repository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conversations[conversationID]
	if !ok {
		return 0, chat.ErrNotFound
	}
	thread := r.messages[conversationID]
	changed := 0
	for i := range thread {
		if thread[i].SenderID == readerID || thread[i].IsRead() {
			continue
		}
		stamp := at
		thread[i].ReadAt = &stamp
		changed++
	}
	if lm := rec.LastMessage; lm != nil && lm.SenderID != readerID && lm.ReadAt == nil && changed > 0 {
		stamp := at
		lm.ReadAt = &stamp
	}
	return changed, nil
}

// CountUnread counts messages awaiting readerID.
func (r *Repository) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conversations[conversationID]; !ok {
		return 0, chat.ErrNotFound
	}
	count := 0
	for _, msg := range r.messages[conversationID] {
		if msg.SenderID != readerID && !msg.IsRead() {
			count++
		}
	}
	return count, nil
}

func cloneRecord(rec messaging.ConversationRecord) messaging.ConversationRecord {
	out := rec
	out.ParticipantIDs = append([]string(nil), rec.ParticipantIDs...)
	out.HiddenFor = append([]string(nil), rec.HiddenFor...)
	if rec.LastMessage != nil {
		lm := *rec.LastMessage
		if lm.ReadAt != nil {
			at := *lm.ReadAt
			lm.ReadAt = &at
		}
		out.LastMessage = &lm
	}
	return out
}

func cloneMessage(msg chat.Message) chat.Message {
	out := msg
	if msg.ReadAt != nil {
		at := *msg.ReadAt
		out.ReadAt = &at
	}
	return out
}

var _ messaging.Repository = (*Repository)(nil)

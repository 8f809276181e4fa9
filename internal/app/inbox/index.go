// Package inbox keeps the session's conversation summaries and derives the
// filtered, recency-ordered views the inbox renders.
package inbox

import (
	"context"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rentchat/internal/domain/chat"
)

// Index is the single writer of conversation summaries for one participant.
// It is safe for concurrent use; store calls never run under the lock.
type Index struct {
	store  chat.Store
	self   string
	logger *slog.Logger

	mu      sync.RWMutex
	items   []chat.Conversation
	applied map[string]map[string]struct{} // conversationID -> message ids folded into the summary
	loadSeq uint64
	loaded  bool
}

// NewIndex builds an empty index for participant self.
func NewIndex(store chat.Store, self string, logger *slog.Logger) *Index {
	return &Index{
		store:   store,
		self:    self,
		logger:  logger,
		applied: make(map[string]map[string]struct{}),
	}
}

// Self returns the participant the index belongs to.
func (x *Index) Self() string { return x.self }

// Load replaces local state with the store's listing. On failure the
// previous state is kept and the error returned.
func (x *Index) Load(ctx context.Context) error {
	x.mu.Lock()
	x.loadSeq++
	seq := x.loadSeq
	x.mu.Unlock()

	convs, err := x.store.ListConversations(ctx)
	if err != nil {
		if x.logger != nil {
			x.logger.Warn("inbox load failed", "participant_id", x.self, "error", err)
		}
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if seq != x.loadSeq {
		// a newer load owns the state
		return nil
	}
	x.items = make([]chat.Conversation, 0, len(convs))
	x.applied = make(map[string]map[string]struct{}, len(convs))
	for _, conv := range convs {
		conv = conv.Clone()
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		x.items = append(x.items, conv)
		ids := make(map[string]struct{})
		if conv.LastMessage != nil && conv.LastMessage.ID != "" {
			ids[conv.LastMessage.ID] = struct{}{}
		}
		x.applied[conv.ID] = ids
	}
	x.sortLocked()
	x.loaded = true
	return nil
}

// Loaded reports whether at least one load has succeeded.
func (x *Index) Loaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

// Conversations returns a snapshot ordered by recency.
func (x *Index) Conversations() []chat.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]chat.Conversation, len(x.items))
	for i, conv := range x.items {
		out[i] = conv.Clone()
	}
	return out
}

// Get returns one conversation summary.
func (x *Index) Get(conversationID string) (chat.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i := x.indexLocked(conversationID); i >= 0 {
		return x.items[i].Clone(), true
	}
	return chat.Conversation{}, false
}

// UnreadTotal sums unread counts across the inbox.
func (x *Index) UnreadTotal() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	total := 0
	for _, conv := range x.items {
		total += conv.UnreadCount
	}
	return total
}

// Filter yields conversations whose peer name, service name or last message
// contains query, case-insensitively. Each iteration works on a fresh
// snapshot, so the sequence may be ranged over any number of times.
func (x *Index) Filter(query string) iter.Seq[chat.Conversation] {
	return func(yield func(chat.Conversation) bool) {
		for _, conv := range x.Conversations() {
			if !conv.Matches(x.self, query) {
				continue
			}
			if !yield(conv) {
				return
			}
		}
	}
}

// ApplyIncoming folds msg into its conversation summary. Messages from the
// other participant increment the unread count; a message already applied
// is ignored. It reports false when the conversation is not in the index,
// in which case the caller should Load.
func (x *Index) ApplyIncoming(msg chat.Message) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	i := x.indexLocked(msg.ConversationID)
	if i < 0 {
		return false
	}
	ids := x.applied[msg.ConversationID]
	if ids == nil {
		ids = make(map[string]struct{})
		x.applied[msg.ConversationID] = ids
	}
	if _, dup := ids[msg.ID]; dup && msg.ID != "" {
		return true
	}
	ids[msg.ID] = struct{}{}

	conv := &x.items[i]
	if conv.LastMessage == nil || !msg.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		conv.LastMessage = msg.Summary()
	}
	if msg.SenderID != x.self && !msg.IsRead() {
		conv.UnreadCount++
	}
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	x.sortLocked()
	return true
}

// ApplyRead records a read receipt. When the reader is the other
// participant the last message, if authored by self, gains a read time.
// When the reader is self the unread count drops to zero.
func (x *Index) ApplyRead(conversationID, readerID string, at time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	i := x.indexLocked(conversationID)
	if i < 0 {
		return
	}
	conv := &x.items[i]
	if readerID == x.self {
		conv.UnreadCount = 0
	}
	if lm := conv.LastMessage; lm != nil && lm.SenderID != readerID && lm.ReadAt == nil && !lm.CreatedAt.After(at) {
		stamp := at
		lm.ReadAt = &stamp
	}
}

// ClearUnread zeroes the unread count locally without a store call.
func (x *Index) ClearUnread(conversationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if i := x.indexLocked(conversationID); i >= 0 {
		x.items[i].UnreadCount = 0
	}
}

// MarkConversationRead zeroes the unread count ahead of the store round
// trip. A store failure is logged and returned; the local reset stays.
func (x *Index) MarkConversationRead(ctx context.Context, conversationID string) error {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return err
	}
	x.ClearUnread(id)
	if _, err := x.store.MarkRead(ctx, id); err != nil {
		if x.logger != nil {
			x.logger.Warn("mark read failed, keeping local state", "conversation_id", id, "error", err)
		}
		return err
	}
	return nil
}

// Remove drops the conversation from the visible set, then soft-deletes it
// in the store. A store failure is logged and returned; the conversation
// is not restored until the next Load.
func (x *Index) Remove(ctx context.Context, conversationID string) error {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return err
	}
	x.mu.Lock()
	if i := x.indexLocked(id); i >= 0 {
		x.items = append(x.items[:i], x.items[i+1:]...)
	}
	delete(x.applied, id)
	x.mu.Unlock()

	if err := x.store.DeleteConversation(ctx, id); err != nil {
		if x.logger != nil {
			x.logger.Warn("delete failed, conversation stays hidden locally", "conversation_id", id, "error", err)
		}
		return err
	}
	return nil
}

// Start creates (or reuses) a conversation through the store and inserts
// the result into the index.
func (x *Index) Start(ctx context.Context, participantID, initialMessage, serviceID string) (chat.Conversation, error) {
	if _, err := chat.NormalizeID("participant", participantID); err != nil {
		return chat.Conversation{}, err
	}
	if _, err := chat.NormalizeContent(initialMessage); err != nil {
		return chat.Conversation{}, err
	}
	conv, err := x.store.CreateConversation(ctx, participantID, initialMessage, serviceID)
	if err != nil {
		return chat.Conversation{}, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make(map[string]struct{})
	if conv.LastMessage != nil {
		ids[conv.LastMessage.ID] = struct{}{}
	}
	if i := x.indexLocked(conv.ID); i >= 0 {
		x.items[i] = conv.Clone()
	} else {
		x.items = append(x.items, conv.Clone())
	}
	x.applied[conv.ID] = ids
	x.sortLocked()
	return conv, nil
}

func (x *Index) indexLocked(conversationID string) int {
	for i := range x.items {
		if x.items[i].ID == conversationID {
			return i
		}
	}
	return -1
}

func (x *Index) sortLocked() {
	sort.SliceStable(x.items, func(i, j int) bool {
		return x.items[i].LastActivity().After(x.items[j].LastActivity())
	})
}

// Package realtime fans conversation events out to in-process subscribers.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"rentchat/internal/domain/chat"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Observer is notified of subscription churn and dropped events.
type Observer interface {
	SubscriberAdded()
	SubscriberRemoved()
	EventDropped()
}

type subscription struct {
	conversationID string
	ch             chan chat.Event
}

// Hub keeps subscribers per conversation. Publish never blocks: a
// subscriber whose queue is full misses the event.
type Hub struct {
	Logger   *slog.Logger
	Observer Observer
	Buffer   int

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func NewHub(logger *slog.Logger, observer Observer) *Hub {
	return &Hub{
		Logger:   logger,
		Observer: observer,
		subs:     make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe registers for conversationID. The channel is closed by the
// returned cancel func, by ctx ending, or by Close.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) (<-chan chat.Event, func(), error) {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return nil, nil, err
	}
	size := h.Buffer
	if size <= 0 {
		size = DefaultBuffer
	}
	sub := &subscription{conversationID: id, ch: make(chan chat.Event, size)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, &chat.StoreError{Op: "subscribe", Err: context.Canceled}
	}
	if h.subs == nil {
		h.subs = make(map[string]map[*subscription]struct{})
	}
	if h.subs[id] == nil {
		h.subs[id] = make(map[*subscription]struct{})
	}
	h.subs[id][sub] = struct{}{}
	h.mu.Unlock()
	if h.Observer != nil {
		h.Observer.SubscriberAdded()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(sub) })
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return sub.ch, cancel, nil
}

// Publish delivers event to the conversation's subscribers.
func (h *Hub) Publish(_ context.Context, event chat.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[event.ConversationID] {
		select {
		case sub.ch <- event:
		default:
			if h.Observer != nil {
				h.Observer.EventDropped()
			}
			if h.Logger != nil {
				h.Logger.Warn("realtime subscriber lagging, event dropped", "conversation_id", event.ConversationID, "kind", event.Kind)
			}
		}
	}
	return nil
}

// Subscribers counts open subscriptions for conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// Close releases every subscription. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[*subscription]struct{})
	h.closed = true
	h.mu.Unlock()
	for _, set := range subs {
		for sub := range set {
			close(sub.ch)
			if h.Observer != nil {
				h.Observer.SubscriberRemoved()
			}
		}
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	set, ok := h.subs[sub.conversationID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.conversationID)
	}
	close(sub.ch)
	h.mu.Unlock()
	if h.Observer != nil {
		h.Observer.SubscriberRemoved()
	}
}

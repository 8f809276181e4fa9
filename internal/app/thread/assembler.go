// Package thread assembles the open conversation's messages, applies
// optimistic sends and reconciles them with the store.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentchat/internal/domain/chat"
)

var (
	// ErrSuperseded is returned by Open when another Open or Close ran
	// before the load resolved; the stale response was dropped.
	ErrSuperseded = errors.New("thread: open superseded")
	// ErrNotOpen is returned when an operation needs an open conversation.
	ErrNotOpen = errors.New("thread: no conversation open")
	// ErrNotFailed is returned by Retry and Discard for messages that are
	// not in the failed state.
	ErrNotFailed = errors.New("thread: message is not failed")
)

// Sink receives the summary-level effects of thread activity. The inbox
// index satisfies it.
type Sink interface {
	ApplyIncoming(msg chat.Message) bool
	ApplyRead(conversationID, readerID string, at time.Time)
	ClearUnread(conversationID string)
}

// Item is one message of the open thread with its delivery status.
type Item struct {
	chat.Message
	Status chat.Status
	// Err holds the send failure for StatusFailed items.
	Err error
}

// Mine reports whether self authored the item.
func (i Item) Mine(self string) bool { return i.SenderID == self }

// Snapshot is a consistent copy of the assembler state.
type Snapshot struct {
	ConversationID string
	Items          []Item
	Loading        bool
	Err            error
}

// Options configures optional collaborators. Zero values are usable.
type Options struct {
	Sink       Sink
	Subscriber chat.Subscriber
	Logger     *slog.Logger
	Location   *time.Location
	Now        func() time.Time
	NewTempID  func() string
}

type entry struct {
	msg    chat.Message
	status chat.Status
	err    error
}

// Assembler is the single writer of the open thread. Messages live in an
// id-keyed arena; order holds the display sequence.
type Assembler struct {
	store chat.Store
	self  string
	opts  Options

	mu             sync.Mutex
	token          uint64
	conversationID string
	order          []string
	arena          map[string]*entry
	loading        bool
	loadErr        error
	adopted        map[string]chat.Message // temp id -> placeholder retired by its echo
	subscriber     chat.Subscriber
	unsubscribe    func()

	inflight sync.WaitGroup
	changes  chan struct{}
}

// NewAssembler builds an assembler for participant self.
func NewAssembler(store chat.Store, self string, opts Options) *Assembler {
	return &Assembler{
		store:      store,
		self:       self,
		opts:       opts,
		arena:      make(map[string]*entry),
		adopted:    make(map[string]chat.Message),
		subscriber: opts.Subscriber,
		changes:    make(chan struct{}, 1),
	}
}

// Attach sets the realtime feed for opened threads and subscribes the
// currently open one. A nil subscriber detaches.
func (a *Assembler) Attach(ctx context.Context, sub chat.Subscriber) {
	a.mu.Lock()
	a.stopSubscriptionLocked()
	a.subscriber = sub
	token, convID, ready := a.token, a.conversationID, a.conversationID != "" && !a.loading
	a.mu.Unlock()
	if ready {
		a.subscribe(ctx, token, convID)
	}
}

// Changes signals, coalesced, that the thread state changed.
func (a *Assembler) Changes() <-chan struct{} { return a.changes }

// Wait blocks until every in-flight send has resolved.
func (a *Assembler) Wait() { a.inflight.Wait() }

// ConversationID returns the open conversation, or "".
func (a *Assembler) ConversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversationID
}

// Open loads conversationID and makes it the open thread. Only the most
// recent Open applies its response; older ones return ErrSuperseded.
func (a *Assembler) Open(ctx context.Context, conversationID string) error {
	id, err := chat.NormalizeID("conversation", conversationID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.token++
	token := a.token
	a.stopSubscriptionLocked()
	if id == a.conversationID {
		a.keepUnconfirmedLocked()
	} else {
		a.order = nil
		a.arena = make(map[string]*entry)
		a.adopted = make(map[string]chat.Message)
	}
	a.conversationID = id
	a.loading = true
	a.loadErr = nil
	a.mu.Unlock()
	a.notify()

	msgs, err := a.store.ListMessages(ctx, id)

	a.mu.Lock()
	if token != a.token {
		a.mu.Unlock()
		return ErrSuperseded
	}
	a.loading = false
	if err != nil {
		a.loadErr = err
		a.mu.Unlock()
		a.logger().Warn("thread open failed", "conversation_id", id, "error", err)
		a.notify()
		return err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	// unconfirmed placeholders stay after the history; sends confirmed while
	// the load was in flight are placed by their server time
	pending, prev := a.order, a.arena
	a.order = make([]string, 0, len(msgs)+len(pending))
	a.arena = make(map[string]*entry, len(msgs)+len(pending))
	for _, msg := range msgs {
		if _, dup := a.arena[msg.ID]; dup {
			continue
		}
		a.arena[msg.ID] = &entry{msg: msg, status: chat.StatusOf(msg)}
		a.order = append(a.order, msg.ID)
	}
	for _, pid := range pending {
		if _, dup := a.arena[pid]; dup {
			continue
		}
		e := prev[pid]
		if e.status.Confirmed() {
			a.placeLocked(pid, e)
			continue
		}
		a.arena[pid] = e
		a.order = append(a.order, pid)
	}
	a.mu.Unlock()

	a.subscribe(ctx, token, id)
	a.notify()
	return nil
}

// Close discards the open thread and releases its subscription.
func (a *Assembler) Close() {
	a.mu.Lock()
	a.token++
	a.stopSubscriptionLocked()
	a.conversationID = ""
	a.order = nil
	a.arena = make(map[string]*entry)
	a.adopted = make(map[string]chat.Message)
	a.loading = false
	a.loadErr = nil
	a.mu.Unlock()
	a.notify()
}

// Snapshot copies the current thread state.
func (a *Assembler) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ConversationID: a.conversationID,
		Items:          a.itemsLocked(),
		Loading:        a.loading,
		Err:            a.loadErr,
	}
}

// Items returns the ordered thread.
func (a *Assembler) Items() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.itemsLocked()
}

// GroupByDay partitions the current thread by local calendar date.
func (a *Assembler) GroupByDay() []DayGroup {
	return GroupByDay(a.Items(), a.location())
}

// UnreadFromPeer counts confirmed messages from the other participant that
// have no read time.
func (a *Assembler) UnreadFromPeer() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, id := range a.order {
		e := a.arena[id]
		if e.msg.SenderID != a.self && e.status == chat.StatusSent && !e.msg.IsRead() {
			n++
		}
	}
	return n
}

// SendOptimistic appends a pending placeholder and returns its temporary id
// before the store call resolves. Empty content fails with
// chat.ErrValidation and leaves the thread untouched. ctx bounds the
// background send.
func (a *Assembler) SendOptimistic(ctx context.Context, content string) (string, error) {
	text, err := chat.NormalizeContent(content)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	if a.conversationID == "" {
		a.mu.Unlock()
		return "", ErrNotOpen
	}
	convID := a.conversationID
	tempID := a.newTempID()
	a.arena[tempID] = &entry{
		msg: chat.Message{
			ID:             tempID,
			ConversationID: convID,
			SenderID:       a.self,
			Content:        text,
			CreatedAt:      a.now(),
		},
		status: chat.StatusPending,
	}
	a.order = append(a.order, tempID)
	a.inflight.Add(1)
	a.mu.Unlock()
	a.notify()

	go a.deliver(ctx, convID, tempID, text)
	return tempID, nil
}

// Retry sends a failed placeholder again. Each retry is a single attempt.
func (a *Assembler) Retry(ctx context.Context, tempID string) error {
	a.mu.Lock()
	e, ok := a.arena[tempID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: message %s", chat.ErrNotFound, tempID)
	}
	if !e.status.CanTransition(chat.StatusPending) {
		a.mu.Unlock()
		return ErrNotFailed
	}
	e.status = chat.StatusPending
	e.err = nil
	convID, text := e.msg.ConversationID, e.msg.Content
	a.inflight.Add(1)
	a.mu.Unlock()
	a.notify()

	go a.deliver(ctx, convID, tempID, text)
	return nil
}

// Discard removes a failed placeholder from the thread.
func (a *Assembler) Discard(tempID string) error {
	a.mu.Lock()
	e, ok := a.arena[tempID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: message %s", chat.ErrNotFound, tempID)
	}
	if e.status != chat.StatusFailed {
		a.mu.Unlock()
		return ErrNotFailed
	}
	a.removeLocked(tempID)
	a.mu.Unlock()
	a.notify()
	return nil
}

// MarkVisibleRead marks the other participant's unread messages as read in
// the store and, on success, stamps them locally with the store's read
// time, or the current time when the store reports none.
func (a *Assembler) MarkVisibleRead(ctx context.Context) error {
	a.mu.Lock()
	if a.conversationID == "" {
		a.mu.Unlock()
		return ErrNotOpen
	}
	convID, token := a.conversationID, a.token
	var unread []string
	for _, id := range a.order {
		e := a.arena[id]
		if e.msg.SenderID != a.self && e.status == chat.StatusSent && !e.msg.IsRead() {
			unread = append(unread, id)
		}
	}
	a.mu.Unlock()

	if len(unread) == 0 {
		if a.opts.Sink != nil {
			a.opts.Sink.ClearUnread(convID)
		}
		return nil
	}

	at, err := a.store.MarkRead(ctx, convID)
	if err != nil {
		a.logger().Warn("mark visible read failed", "conversation_id", convID, "error", err)
		return err
	}
	if at.IsZero() {
		at = a.now()
	}

	a.mu.Lock()
	if token == a.token {
		for _, id := range unread {
			if e, ok := a.arena[id]; ok && !e.msg.IsRead() {
				stamp := at
				e.msg.ReadAt = &stamp
				e.status = chat.StatusRead
			}
		}
	}
	a.mu.Unlock()

	if a.opts.Sink != nil {
		a.opts.Sink.ClearUnread(convID)
	}
	a.notify()
	return nil
}

func (a *Assembler) deliver(ctx context.Context, convID, tempID, text string) {
	defer a.inflight.Done()

	msg, err := a.store.SendMessage(ctx, convID, text)

	a.mu.Lock()
	same := a.conversationID == convID
	e, tracked := a.arena[tempID]
	tracked = tracked && same
	placeholder, wasAdopted := a.adopted[tempID]
	wasAdopted = wasAdopted && same
	delete(a.adopted, tempID)
	if err != nil {
		switch {
		case tracked:
			e.status = chat.StatusFailed
			e.err = err
		case wasAdopted:
			// the echo taken for this send belonged to another device
			a.arena[tempID] = &entry{msg: placeholder, status: chat.StatusFailed, err: err}
			a.order = append(a.order, tempID)
		}
		a.mu.Unlock()
		a.logger().Warn("message send failed", "conversation_id", convID, "temp_id", tempID, "error", err)
		a.notify()
		return
	}
	if tracked {
		a.removeLocked(tempID)
	}
	if tracked || wasAdopted {
		if _, placed := a.arena[msg.ID]; !placed {
			a.insertLocked(msg)
		}
	}
	a.mu.Unlock()

	if a.opts.Sink != nil {
		a.opts.Sink.ApplyIncoming(msg)
	}
	a.notify()
}

func (a *Assembler) subscribe(ctx context.Context, token uint64, convID string) {
	a.mu.Lock()
	sub := a.subscriber
	a.mu.Unlock()
	if sub == nil {
		return
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, stop, err := sub.Subscribe(subCtx, convID)
	if err != nil {
		cancel()
		a.logger().Warn("thread subscribe failed", "conversation_id", convID, "error", err)
		return
	}
	release := func() {
		stop()
		cancel()
	}

	a.mu.Lock()
	if token != a.token || a.subscriber != sub {
		a.mu.Unlock()
		release()
		return
	}
	a.stopSubscriptionLocked()
	a.unsubscribe = release
	a.mu.Unlock()

	go func() {
		for ev := range events {
			a.handleEvent(token, ev)
		}
	}()
}

func (a *Assembler) handleEvent(token uint64, ev chat.Event) {
	switch ev.Kind {
	case chat.EventMessageCreated:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		a.mu.Lock()
		if token != a.token || msg.ConversationID != a.conversationID {
			a.mu.Unlock()
			return
		}
		if _, dup := a.arena[msg.ID]; dup {
			a.mu.Unlock()
			return
		}
		if msg.SenderID == a.self {
			a.adoptLocked(msg)
		}
		a.insertLocked(msg)
		a.mu.Unlock()
		if a.opts.Sink != nil {
			a.opts.Sink.ApplyIncoming(msg)
		}
		a.notify()

	case chat.EventMessagesRead:
		a.mu.Lock()
		if token != a.token || ev.ConversationID != a.conversationID {
			a.mu.Unlock()
			return
		}
		for _, id := range a.order {
			e := a.arena[id]
			if e.msg.SenderID == ev.ReaderID || e.msg.IsRead() || !e.status.Confirmed() {
				continue
			}
			if e.msg.CreatedAt.After(ev.ReadAt) {
				continue
			}
			stamp := ev.ReadAt
			e.msg.ReadAt = &stamp
			e.status = chat.StatusRead
		}
		a.mu.Unlock()
		if a.opts.Sink != nil {
			a.opts.Sink.ApplyRead(ev.ConversationID, ev.ReaderID, ev.ReadAt)
		}
		a.notify()
	}
}

// insertLocked places a confirmed message after every message not newer
// than it, so equal timestamps keep arrival order.
func (a *Assembler) insertLocked(msg chat.Message) {
	a.placeLocked(msg.ID, &entry{msg: msg, status: chat.StatusOf(msg)})
}

func (a *Assembler) placeLocked(id string, e *entry) {
	a.arena[id] = e
	pos := len(a.order)
	for pos > 0 && a.arena[a.order[pos-1]].msg.CreatedAt.After(e.msg.CreatedAt) {
		pos--
	}
	a.order = append(a.order, "")
	copy(a.order[pos+1:], a.order[pos:])
	a.order[pos] = id
}

// adoptLocked retires the oldest pending placeholder carrying the same text
// as an echo of self's message, so the thread never shows both.
func (a *Assembler) adoptLocked(msg chat.Message) {
	for _, id := range a.order {
		e := a.arena[id]
		if e.status != chat.StatusPending || e.msg.SenderID != a.self || e.msg.Content != msg.Content {
			continue
		}
		a.adopted[id] = e.msg
		a.removeLocked(id)
		return
	}
}

// keepUnconfirmedLocked drops everything but the pending and failed
// placeholders, in their current order.
func (a *Assembler) keepUnconfirmedLocked() {
	kept := a.order[:0]
	arena := make(map[string]*entry)
	for _, id := range a.order {
		if e := a.arena[id]; !e.status.Confirmed() {
			arena[id] = e
			kept = append(kept, id)
		}
	}
	a.order, a.arena = kept, arena
}

func (a *Assembler) removeLocked(id string) {
	delete(a.arena, id)
	for i, cur := range a.order {
		if cur == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

func (a *Assembler) itemsLocked() []Item {
	out := make([]Item, 0, len(a.order))
	for _, id := range a.order {
		e := a.arena[id]
		msg := e.msg
		if msg.ReadAt != nil {
			at := *msg.ReadAt
			msg.ReadAt = &at
		}
		out = append(out, Item{Message: msg, Status: e.status, Err: e.err})
	}
	return out
}

func (a *Assembler) stopSubscriptionLocked() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *Assembler) notify() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

func (a *Assembler) now() time.Time {
	if a.opts.Now != nil {
		return a.opts.Now()
	}
	return time.Now()
}

func (a *Assembler) newTempID() string {
	if a.opts.NewTempID != nil {
		return a.opts.NewTempID()
	}
	return "tmp-" + uuid.NewString()
}

func (a *Assembler) location() *time.Location {
	if a.opts.Location != nil {
		return a.opts.Location
	}
	return time.Local
}

func (a *Assembler) logger() *slog.Logger {
	if a.opts.Logger != nil {
		return a.opts.Logger
	}
	return slog.Default()
}

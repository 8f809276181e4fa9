package messaging_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
	"rentchat/internal/infra/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []chat.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event chat.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) kinds() []chat.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T) (*messaging.Service, *recordingPublisher, *clock) {
	t.Helper()
	pub := &recordingPublisher{}
	clk := &clock{now: time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)}
	svc := messaging.NewService(memory.NewRepository(), pub, nil)
	svc.Now = clk.Now
	var n int
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	ctx := context.Background()
	for _, p := range []chat.Participant{{ID: "guest", DisplayName: "Guest"}, {ID: "pro", DisplayName: "Pro"}, {ID: "other", DisplayName: "Other"}} {
		require.NoError(t, svc.EnsureParticipant(ctx, p))
	}
	require.NoError(t, svc.RegisterService(ctx, chat.ServiceRef{ID: "svc", Name: "Tiling"}))
	return svc, pub, clk
}

func TestCreateConversationValidation(t *testing.T) {
	svc, pub, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		peer    string
		text    string
		service string
		want    error
	}{
		{"empty message", "pro", "  ", "", chat.ErrValidation},
		{"self", "guest", "hi", "", chat.ErrValidation},
		{"missing peer id", "", "hi", "", chat.ErrValidation},
		{"malformed service", "pro", "hi", "a b", chat.ErrValidation},
		{"unknown peer", "ghost", "hi", "", chat.ErrNotFound},
		{"unknown service", "pro", "hi", "nope", chat.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateConversation(ctx, "guest", tt.peer, tt.text, tt.service)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, pub.kinds(), "failed creates publish nothing")
}

func TestCreateConversationGetOrCreate(t *testing.T) {
	svc, pub, clk := newService(t)
	ctx := context.Background()

	first, err := svc.CreateConversation(ctx, "guest", "pro", "quote please", "svc")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	again, err := svc.CreateConversation(ctx, "pro", "guest", "sure", "svc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "same pair and service reuse the thread")
	assert.Equal(t, "sure", again.LastMessage.Content)
	assert.Equal(t, 1, again.UnreadCount, "pro still has guest's first message unread")

	msgs, err := svc.ListMessages(ctx, "guest", first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []chat.EventKind{chat.EventMessageCreated, chat.EventMessageCreated}, pub.kinds())
}

func TestSendKeepsPerConversationTimeMonotonic(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "guest", "pro", "one", "")
	require.NoError(t, err)

	first := conv.LastMessage.CreatedAt
	clk.Advance(-time.Hour)
	msg, err := svc.SendMessage(ctx, "pro", conv.ID, "two")
	require.NoError(t, err)
	assert.True(t, msg.CreatedAt.After(first))

	msgs, err := svc.ListMessages(ctx, "pro", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", msgs[len(msgs)-1].Content)
}

func TestTimesMatchStoredPrecision(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	clk.Advance(1234567 * time.Nanosecond)

	conv, err := svc.CreateConversation(ctx, "guest", "pro", "one", "")
	require.NoError(t, err)
	second, err := svc.SendMessage(ctx, "pro", conv.ID, "two")
	require.NoError(t, err)
	first := conv.LastMessage.CreatedAt

	assert.Equal(t, first, first.Truncate(time.Millisecond))
	assert.Equal(t, second.CreatedAt, second.CreatedAt.Truncate(time.Millisecond))
	assert.True(t, second.CreatedAt.After(first), "same-millisecond sends still advance")

	msgs, err := svc.ListMessages(ctx, "guest", conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].CreatedAt.Equal(second.CreatedAt))

	at, err := svc.MarkRead(ctx, "guest", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, at, at.Truncate(time.Millisecond))
}

func TestMembershipIsEnforced(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "guest", "pro", "hi", "")
	require.NoError(t, err)

	outsider := svc.For("other")
	_, err = outsider.ListMessages(ctx, conv.ID)
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = outsider.SendMessage(ctx, conv.ID, "hi")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = outsider.MarkRead(ctx, conv.ID)
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.ErrorIs(t, outsider.DeleteConversation(ctx, conv.ID), chat.ErrNotFound)

	_, err = svc.For("guest").SendMessage(ctx, conv.ID, "\n\t")
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestMarkReadReportsTimeAndPublishes(t *testing.T) {
	svc, pub, clk := newService(t)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "guest", "pro", "hi", "")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	at, err := svc.MarkRead(ctx, "pro", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), at)

	events := pub.kinds()
	assert.Equal(t, chat.EventMessagesRead, events[len(events)-1])

	at, err = svc.MarkRead(ctx, "pro", conv.ID)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
	assert.Len(t, pub.kinds(), len(events), "no event when nothing changed")

	list, err := svc.ListConversations(ctx, "pro")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage.ReadAt)
}

func TestDeleteIsIdempotentAndNewMessageUnhides(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "guest", "pro", "hi", "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(ctx, "guest", conv.ID))
	require.NoError(t, svc.DeleteConversation(ctx, "guest", conv.ID))
	list, err := svc.ListConversations(ctx, "guest")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.SendMessage(ctx, "pro", conv.ID, "still interested?")
	require.NoError(t, err)
	list, err = svc.ListConversations(ctx, "guest")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListConversationsNewestFirstAndOnline(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	older, err := svc.CreateConversation(ctx, "guest", "pro", "first", "")
	require.NoError(t, err)
	clk.Advance(time.Hour)
	newer, err := svc.CreateConversation(ctx, "guest", "other", "second", "")
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, "guest")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	// pro was last seen an hour ago, guest just now
	peer, ok := list[1].Peer("guest")
	require.True(t, ok)
	assert.Equal(t, "pro", peer.ID)
	assert.False(t, peer.Online)
	for _, p := range list[0].Participants {
		if p.ID == "guest" {
			assert.True(t, p.Online)
		}
	}
}

func TestPublishFailureDoesNotFailSend(t *testing.T) {
	svc, pub, _ := newService(t)
	pub.err = errors.New("broker down")
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "guest", "pro", "hi", "")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "guest", conv.ID, "again")
	assert.NoError(t, err)
}

func TestRegisterServiceValidation(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.RegisterService(context.Background(), chat.ServiceRef{ID: "x"})
	assert.ErrorIs(t, err, chat.ErrValidation)
	err = svc.RegisterService(context.Background(), chat.ServiceRef{Name: "x"})
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestNormalizeParticipants(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, messaging.NormalizeParticipants([]string{" b", "a", "b", ""}))
	assert.True(t, messaging.SameParticipants([]string{"b", "a"}, []string{"a", "b", "a"}))
	assert.False(t, messaging.SameParticipants([]string{"a"}, []string{"a", "b"}))
}

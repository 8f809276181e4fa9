package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/domain/chat"
)

type countingObserver struct {
	added, removed, dropped atomic.Int32
}

func (o *countingObserver) SubscriberAdded()   { o.added.Add(1) }
func (o *countingObserver) SubscriberRemoved() { o.removed.Add(1) }
func (o *countingObserver) EventDropped()      { o.dropped.Add(1) }

func created(conv, id string) chat.Event {
	return chat.Event{Kind: chat.EventMessageCreated, ConversationID: conv, Message: &chat.Message{ID: id, ConversationID: conv}}
}

func TestPublishReachesOnlyConversationSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	a, cancelA, err := hub.Subscribe(context.Background(), "A")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := hub.Subscribe(context.Background(), "B")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, hub.Publish(context.Background(), created("A", "m1")))

	select {
	case ev := <-a:
		assert.Equal(t, "m1", ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber A got nothing")
	}
	select {
	case ev := <-b:
		t.Fatalf("subscriber B got %v", ev)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	obs := &countingObserver{}
	hub := NewHub(nil, obs)
	ch, cancel, err := hub.Subscribe(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, 1, hub.Subscribers("A"))

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("A"))
	assert.Equal(t, int32(1), obs.added.Load())
	assert.Equal(t, int32(1), obs.removed.Load())
}

func TestContextEndUnsubscribes(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := hub.Subscribe(ctx, "A")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("A") == 0 }, time.Second, time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	obs := &countingObserver{}
	hub := &Hub{Observer: obs, Buffer: 1}
	_, cancel, err := hub.Subscribe(context.Background(), "A")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(context.Background(), created("A", "m1")))
	require.NoError(t, hub.Publish(context.Background(), created("A", "m2")))
	assert.Equal(t, int32(1), obs.dropped.Load())
}

func TestCloseReleasesEverything(t *testing.T) {
	hub := NewHub(nil, nil)
	ch, cancel, err := hub.Subscribe(context.Background(), "A")
	require.NoError(t, err)

	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	_, _, err = hub.Subscribe(context.Background(), "A")
	require.ErrorIs(t, err, chat.ErrStore)
}

func TestSubscribeRejectsBadID(t *testing.T) {
	_, _, err := NewHub(nil, nil).Subscribe(context.Background(), "")
	require.ErrorIs(t, err, chat.ErrValidation)
}

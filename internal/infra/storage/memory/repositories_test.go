package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

func seedConversation(t *testing.T, repo *Repository, id, serviceID string, participants ...string) {
	t.Helper()
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateConversation(context.Background(), messaging.ConversationRecord{
		ID:             id,
		ParticipantIDs: messaging.NormalizeParticipants(participants),
		ServiceID:      serviceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func TestFindConversationByPairAndService(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	seedConversation(t, repo, "direct", "", "a", "b")
	seedConversation(t, repo, "svc", "s-1", "a", "b")

	rec, err := repo.FindConversation(ctx, []string{"b", "a"}, "")
	require.NoError(t, err)
	assert.Equal(t, "direct", rec.ID)

	rec, err = repo.FindConversation(ctx, []string{"a", "b"}, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "svc", rec.ID)

	_, err = repo.FindConversation(ctx, []string{"a", "c"}, "")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = repo.FindConversation(ctx, nil, "")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestHideAndAppendUnhides(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	seedConversation(t, repo, "c", "", "a", "b")

	require.NoError(t, repo.Hide(ctx, "c", "a"))
	require.NoError(t, repo.Hide(ctx, "c", "a"))
	list, err := repo.ConversationsFor(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = repo.ConversationsFor(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.AppendMessage(ctx, chat.Message{ID: "m1", ConversationID: "c", SenderID: "b", Content: "ping", CreatedAt: time.Now()}))
	list, err = repo.ConversationsFor(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, repo.Hide(ctx, "missing", "a"), chat.ErrNotFound)
}

func TestMessagesOrderAndLastMessage(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	seedConversation(t, repo, "c", "", "a", "b")
	base := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	for _, msg := range []chat.Message{
		{ID: "late", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "tie-1", CreatedAt: base.Add(time.Minute)},
		{ID: "tie-2", CreatedAt: base.Add(time.Minute)},
		{ID: "early", CreatedAt: base},
	} {
		msg.ConversationID, msg.SenderID, msg.Content = "c", "a", msg.ID
		require.NoError(t, repo.AppendMessage(ctx, msg))
	}

	thread, err := repo.Messages(ctx, "c")
	require.NoError(t, err)
	ids := make([]string, len(thread))
	for i, m := range thread {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, ids)

	rec, err := repo.Conversation(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, rec.LastMessage)
	assert.Equal(t, "late", rec.LastMessage.ID, "an older append does not replace the newest summary")
}

func TestMarkReadAndCount(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	seedConversation(t, repo, "c", "", "a", "b")
	base := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendMessage(ctx, chat.Message{ID: "1", ConversationID: "c", SenderID: "b", Content: "x", CreatedAt: base}))
	require.NoError(t, repo.AppendMessage(ctx, chat.Message{ID: "2", ConversationID: "c", SenderID: "a", Content: "y", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, repo.AppendMessage(ctx, chat.Message{ID: "3", ConversationID: "c", SenderID: "b", Content: "z", CreatedAt: base.Add(2 * time.Second)}))

	n, err := repo.CountUnread(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	at := base.Add(time.Minute)
	changed, err := repo.MarkRead(ctx, "c", "a", at)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	changed, err = repo.MarkRead(ctx, "c", "a", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, changed, "idempotent")

	n, err = repo.CountUnread(ctx, "c", "a")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = repo.CountUnread(ctx, "c", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := repo.Conversation(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, rec.LastMessage.ReadAt)
	assert.True(t, rec.LastMessage.ReadAt.Equal(at))
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	seedConversation(t, repo, "c", "", "a", "b")

	rec, err := repo.Conversation(ctx, "c")
	require.NoError(t, err)
	rec.ParticipantIDs[0] = "mutated"

	again, err := repo.Conversation(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, again.ParticipantIDs)
}

func TestParticipantTouch(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	assert.ErrorIs(t, repo.TouchParticipant(ctx, "ghost", time.Now()), chat.ErrNotFound)

	require.NoError(t, repo.UpsertParticipant(ctx, chat.Participant{ID: "a", DisplayName: "A"}))
	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchParticipant(ctx, "a", at))
	p, err := repo.Participant(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, p.LastSeenAt)
	assert.Equal(t, at, *p.LastSeenAt)
}

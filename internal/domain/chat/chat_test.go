package chat

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: " c-1 ", want: "c-1"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "a b", wantErr: true},
		{in: "a/b", wantErr: true},
		{in: "a\nb", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeID("conversation", tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrValidation, "input %q", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalizeContent(t *testing.T) {
	got, err := NormalizeContent("  Hola \n")
	require.NoError(t, err)
	assert.Equal(t, "Hola", got)

	_, err = NormalizeContent(" \t\n")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWrapStoreKeepsClassification(t *testing.T) {
	assert.Nil(t, WrapStore("op", nil))
	assert.Same(t, ErrNotFound, WrapStore("op", ErrNotFound))

	err := WrapStore("send", errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrStore)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "send", se.Op)
	assert.Equal(t, err, WrapStore("again", err))
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending: {StatusSent, StatusFailed},
		StatusSent:    {StatusRead},
		StatusFailed:  {StatusPending},
		StatusRead:    nil,
	}
	all := []Status{StatusPending, StatusSent, StatusRead, StatusFailed}
	for from, targets := range allowed {
		for _, to := range all {
			assert.Equal(t, slices.Contains(targets, to), from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusRead.Confirmed())
	assert.False(t, StatusFailed.Confirmed())
}

func TestEventKey(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	created := Event{Kind: EventMessageCreated, ConversationID: "c-1", Message: &Message{ID: "m-1"}}
	read := Event{Kind: EventMessagesRead, ConversationID: "c-1", ReaderID: "bob", ReadAt: at}

	assert.Equal(t, "message.created:m-1", created.Key())
	assert.Equal(t, "messages.read:c-1:bob:1714557600000", read.Key())
	assert.Empty(t, Event{Kind: EventMessageCreated}.Key())
}

func TestConversationPeerAndClone(t *testing.T) {
	readAt := time.Now()
	conv := Conversation{
		ID:           "c-1",
		Participants: []Participant{{ID: "alice"}, {ID: "bob", DisplayName: "Bob"}},
		LastMessage:  &LastMessage{ID: "m-1", ReadAt: &readAt},
	}
	peer, ok := conv.Peer("alice")
	require.True(t, ok)
	assert.Equal(t, "Bob", peer.DisplayName)

	clone := conv.Clone()
	clone.Participants[1].DisplayName = "changed"
	*clone.LastMessage.ReadAt = readAt.Add(time.Hour)
	assert.Equal(t, "Bob", conv.Participants[1].DisplayName)
	assert.True(t, conv.LastMessage.ReadAt.Equal(readAt))
}

func TestParticipantLastSeenIsOptional(t *testing.T) {
	raw, err := json.Marshal(Participant{ID: "p1", DisplayName: "Ana"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "last_seen_at")

	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, err = json.Marshal(Participant{ID: "p1", DisplayName: "Ana", LastSeenAt: &seen})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_seen_at":"2024-05-01T10:00:00Z"`)

	var back Participant
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p2","display_name":"Bo","online":false}`), &back))
	assert.Nil(t, back.LastSeenAt)
}

package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, pairKey([]string{"b", "a"}), pairKey([]string{"a", " b", "a"}))
	assert.Equal(t, "a|b", pairKey([]string{"b", "a"}))
}

func TestConversationDocumentBSON(t *testing.T) {
	created := time.Date(2024, 4, 2, 8, 30, 0, 0, time.UTC)
	rec := messaging.ConversationRecord{
		ID:             "c-1",
		ParticipantIDs: []string{"p-b", "p-a"},
		ServiceID:      "s-1",
		LastMessage:    &chat.LastMessage{ID: "m-1", Content: "hi", SenderID: "p-a", CreatedAt: created},
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	raw, err := bson.Marshal(newConversationDocument(rec))
	require.NoError(t, err)
	var decoded conversationDocument
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	got := decoded.toRecord()
	assert.Equal(t, []string{"p-a", "p-b"}, got.ParticipantIDs)
	assert.Equal(t, "p-a|p-b", decoded.PairKey)
	assert.Empty(t, got.HiddenFor)
	require.NotNil(t, got.LastMessage)
	assert.Nil(t, got.LastMessage.ReadAt)
	assert.True(t, got.LastMessage.CreatedAt.Equal(created))

	// read_at must be present as null so {read_at: nil} filters match
	assert.Equal(t, bson.TypeNull, bson.Raw(raw).Lookup("last_message", "read_at").Type)
}

func TestUnreadFilterExcludesReader(t *testing.T) {
	f := unreadFilter("c-1", "p-a")
	assert.Equal(t, "c-1", f["conversation_id"])
	assert.Equal(t, bson.M{"$ne": "p-a"}, f["sender_id"])
	assert.Nil(t, f["read_at"])
}

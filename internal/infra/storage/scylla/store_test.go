package scylla

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/infra/config"
)

func TestConversationRowToRecord(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	row := conversationRow{
		ID:           "c-1",
		Participants: []string{"p-b", "p-a"},
		HiddenFor:    []string{"p-a"},
		CreatedAt:    at,
		UpdatedAt:    at,
		LastID:       "m-1",
		LastSender:   "p-b",
		LastText:     "hello",
		LastAt:       at,
	}
	rec := row.toRecord()
	assert.Equal(t, []string{"p-a", "p-b"}, rec.ParticipantIDs)
	assert.True(t, rec.HiddenBy("p-a"))
	require.NotNil(t, rec.LastMessage)
	assert.Nil(t, rec.LastMessage.ReadAt)

	row.LastID = ""
	assert.Nil(t, row.toRecord().LastMessage)
}

func TestTrimSnippet(t *testing.T) {
	assert.Equal(t, "héllo", trimSnippet("  héllo  ", 10))
	assert.Equal(t, "hé", trimSnippet("héllo", 2))
	assert.Equal(t, "", trimSnippet("x", 0))
}

func TestSchemaUsesKeyspace(t *testing.T) {
	for _, stmt := range schema("chat_ks") {
		assert.True(t, strings.Contains(stmt.cql, "chat_ks."+stmt.table), stmt.table)
	}
}

func TestNewSessionRejectsBadKeyspace(t *testing.T) {
	_, err := NewSession(config.Config{ScyllaKeyspace: "bad-name;"}, nil)
	require.Error(t, err)
}

func TestStoreWithoutSession(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Messages(context.Background(), "c-1")
	require.ErrorIs(t, err, errNoSession)
	require.ErrorIs(t, s.Ping(context.Background()), errNoSession)
}

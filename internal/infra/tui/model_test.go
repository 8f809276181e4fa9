package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchat/internal/app/inbox"
	"rentchat/internal/app/messaging"
	"rentchat/internal/app/thread"
	"rentchat/internal/domain/chat"
	"rentchat/internal/infra/storage/memory"
)

type fixture struct {
	svc      *messaging.Service
	index    *inbox.Index
	tomorrow chat.Conversation
	hello    chat.Conversation
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	svc := messaging.NewService(memory.NewRepository(), nil, nil)
	for _, p := range []chat.Participant{{ID: "alice", DisplayName: "Alice"}, {ID: "bob", DisplayName: "Bob Builder"}, {ID: "carol", DisplayName: "Carol"}} {
		require.NoError(t, svc.EnsureParticipant(ctx, p))
	}
	require.NoError(t, svc.RegisterService(ctx, chat.ServiceRef{ID: "svc-1", Name: "Garden work"}))

	tomorrow, err := svc.For("bob").CreateConversation(ctx, "alice", "see you tomorrow", "svc-1")
	require.NoError(t, err)
	hello, err := svc.For("carol").CreateConversation(ctx, "alice", "hello", "")
	require.NoError(t, err)

	index := inbox.NewIndex(svc.For("alice"), "alice", nil)
	require.NoError(t, index.Load(ctx))
	return fixture{svc: svc, index: index, tomorrow: tomorrow, hello: hello}
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

// collect runs cmd and flattens batches. Only use with non-blocking commands.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func TestInboxSearchFilters(t *testing.T) {
	f := newFixture(t)
	m := NewInboxModel(context.Background(), f.index, DefaultStyles())
	m, _ = m.Update(inboxLoadedMsg{})
	require.Len(t, m.Rows(), 2)

	m, _ = m.Update(runes("tomorrow"))
	require.Len(t, m.Rows(), 1)
	assert.Equal(t, f.tomorrow.ID, m.Rows()[0].ID)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlU})
	m, _ = m.Update(runes("garden"))
	require.Len(t, m.Rows(), 1, "service name matches")

	m, _ = m.Update(runes("zzz"))
	assert.Empty(t, m.Rows())
	assert.Contains(t, m.View(), "no conversations match")
}

func TestInboxSelectMarksReadAndOpens(t *testing.T) {
	f := newFixture(t)
	m := NewInboxModel(context.Background(), f.index, DefaultStyles())
	m, _ = m.Update(inboxLoadedMsg{})
	m, _ = m.Update(runes("bob"))
	require.Len(t, m.Rows(), 1)
	assert.Equal(t, 1, m.Rows()[0].UnreadCount)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	msgs := collect(cmd)
	var opened *chat.Conversation
	for _, msg := range msgs {
		switch msg := msg.(type) {
		case openConversationMsg:
			opened = &msg.conv
		case conversationReadMsg:
			require.NoError(t, msg.err)
		}
	}
	require.NotNil(t, opened)
	assert.Equal(t, f.tomorrow.ID, opened.ID)

	conv, ok := f.index.Get(f.tomorrow.ID)
	require.True(t, ok)
	assert.Zero(t, conv.UnreadCount)
}

func TestInboxDeleteIsImmediate(t *testing.T) {
	f := newFixture(t)
	m := NewInboxModel(context.Background(), f.index, DefaultStyles())
	m, _ = m.Update(inboxLoadedMsg{})
	first, ok := m.Selected()
	require.True(t, ok)

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	require.Len(t, m.Rows(), 1, "row is gone before the store answers")
	msgs := collect(cmd)
	require.Len(t, msgs, 1)
	removed := msgs[0].(conversationRemovedMsg)
	require.NoError(t, removed.err)
	assert.Equal(t, first.ID, removed.id)

	remote, err := f.svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.NotEqual(t, first.ID, remote[0].ID)
}

func TestThreadComposer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asm := thread.NewAssembler(f.svc.For("alice"), "alice", thread.Options{Sink: f.index})
	conv, _ := f.index.Get(f.tomorrow.ID)
	m := NewThreadModel(ctx, asm, conv, "alice", DefaultStyles())

	m, cmd := m.Update(collect(m.openCmd())[0])
	msgs := collect(cmd)
	require.Len(t, msgs, 1)
	require.NoError(t, msgs[0].(markedReadMsg).err)
	require.Len(t, asm.Items(), 1)
	assert.Equal(t, chat.StatusRead, asm.Items()[0].Status)

	m, _ = m.Update(runes("   "))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "message is empty", m.Notice())
	assert.Len(t, asm.Items(), 1)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlU})
	m, _ = m.Update(runes("Hola"))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.Notice())
	items := asm.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Hola", items[1].Content)

	asm.Wait()
	items = asm.Items()
	require.Len(t, items, 2)
	assert.Equal(t, chat.StatusSent, items[1].Status)
	assert.Contains(t, m.View(), "Hola")

	last, ok := f.index.Get(f.tomorrow.ID)
	require.True(t, ok)
	assert.Equal(t, "Hola", last.LastMessage.Content)
}

func TestThreadNotFound(t *testing.T) {
	f := newFixture(t)
	asm := thread.NewAssembler(f.svc.For("bob"), "bob", thread.Options{})
	m := NewThreadModel(context.Background(), asm, f.hello, "bob", DefaultStyles())
	m, cmd := m.Update(collect(m.openCmd())[0])
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "conversation not found")
}

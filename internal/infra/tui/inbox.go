package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"rentchat/internal/app/inbox"
	"rentchat/internal/domain/chat"
)

type inboxLoadedMsg struct{ err error }

type conversationReadMsg struct {
	id  string
	err error
}

type conversationRemovedMsg struct {
	id  string
	err error
}

// openConversationMsg asks the app to switch to the thread view.
type openConversationMsg struct{ conv chat.Conversation }

// InboxModel renders the conversation index with search-as-you-type.
type InboxModel struct {
	ctx    context.Context
	index  *inbox.Index
	search textinput.Model
	styles Styles
	now    func() time.Time

	rows    []chat.Conversation
	cursor  int
	loading bool
	err     error
	notice  string
	width   int
	height  int
}

func NewInboxModel(ctx context.Context, index *inbox.Index, styles Styles) InboxModel {
	search := textinput.New()
	search.Placeholder = "search conversations"
	search.Prompt = "/ "
	search.Focus()
	m := InboxModel{
		ctx:     ctx,
		index:   index,
		search:  search,
		styles:  styles,
		now:     time.Now,
		loading: true,
		width:   80,
		height:  24,
	}
	m.refresh()
	return m
}

func (m InboxModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadCmd())
}

func (m InboxModel) Update(msg tea.Msg) (InboxModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case inboxLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.refresh()
		return m, nil
	case conversationReadMsg:
		if msg.err != nil {
			m.notice = "could not sync read state"
		}
		m.refresh()
		return m, nil
	case conversationRemovedMsg:
		if msg.err != nil {
			m.notice = "delete failed on server; reload to restore"
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyUp, tea.KeyCtrlP:
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case tea.KeyDown, tea.KeyCtrlN:
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.selectCmd()
		case tea.KeyCtrlD:
			return m, m.removeCmd()
		case tea.KeyCtrlR:
			m.loading = true
			m.notice = ""
			return m, m.loadCmd()
		}
	}

	var cmd tea.Cmd
	before := m.search.Value()
	m.search, cmd = m.search.Update(msg)
	if m.search.Value() != before {
		m.cursor = 0
		m.refresh()
	}
	return m, cmd
}

// Selected returns the conversation under the cursor.
func (m InboxModel) Selected() (chat.Conversation, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return chat.Conversation{}, false
	}
	return m.rows[m.cursor], true
}

// Rows returns the currently visible conversations.
func (m InboxModel) Rows() []chat.Conversation { return m.rows }

func (m InboxModel) View() string {
	st := m.styles
	var b strings.Builder
	title := "Inbox"
	if total := m.index.UnreadTotal(); total > 0 {
		title += " " + st.Badge.Render(fmt.Sprintf("%d", total))
	}
	b.WriteString(st.Title.Render(title) + "\n")
	b.WriteString(m.search.View() + "\n\n")

	switch {
	case m.err != nil && len(m.rows) == 0:
		b.WriteString(st.Error.Render("could not load conversations: "+m.err.Error()) + "\n")
		b.WriteString(st.Muted.Render("ctrl+r to retry") + "\n")
	case m.loading && len(m.rows) == 0:
		b.WriteString(st.Muted.Render("loading…") + "\n")
	case len(m.rows) == 0 && m.search.Value() != "":
		b.WriteString(st.Muted.Render("no conversations match") + "\n")
	case len(m.rows) == 0:
		b.WriteString(st.Muted.Render("no conversations yet") + "\n")
	}
	now := m.now()
	for i, conv := range m.rows {
		b.WriteString(RenderInboxRow(st, conv, m.index.Self(), now, m.width, i == m.cursor) + "\n")
	}
	if m.err != nil && len(m.rows) > 0 {
		b.WriteString(st.Error.Render("refresh failed: "+m.err.Error()) + "\n")
	}
	if m.notice != "" {
		b.WriteString(st.Failed.Render(m.notice) + "\n")
	}
	b.WriteString(st.Muted.Render("↑/↓ move · enter open · ctrl+d delete · ctrl+r reload · ctrl+c quit"))
	return b.String()
}

func (m *InboxModel) refresh() {
	m.rows = slices.Collect(m.index.Filter(m.search.Value()))
	if m.cursor >= len(m.rows) {
		m.cursor = max(0, len(m.rows)-1)
	}
}

func (m InboxModel) loadCmd() tea.Cmd {
	ctx, index := m.ctx, m.index
	return func() tea.Msg {
		return inboxLoadedMsg{err: index.Load(ctx)}
	}
}

// selectCmd marks the selection read and opens it.
func (m InboxModel) selectCmd() tea.Cmd {
	conv, ok := m.Selected()
	if !ok {
		return nil
	}
	ctx, index := m.ctx, m.index
	return tea.Batch(
		func() tea.Msg {
			return conversationReadMsg{id: conv.ID, err: index.MarkConversationRead(ctx, conv.ID)}
		},
		func() tea.Msg { return openConversationMsg{conv: conv} },
	)
}

// removeCmd deletes without confirmation. The row disappears on the next
// render because Remove drops it before calling the store.
func (m *InboxModel) removeCmd() tea.Cmd {
	conv, ok := m.Selected()
	if !ok {
		return nil
	}
	m.rows = slices.DeleteFunc(slices.Clone(m.rows), func(c chat.Conversation) bool { return c.ID == conv.ID })
	if m.cursor >= len(m.rows) {
		m.cursor = max(0, len(m.rows)-1)
	}
	ctx, index := m.ctx, m.index
	return func() tea.Msg {
		return conversationRemovedMsg{id: conv.ID, err: index.Remove(ctx, conv.ID)}
	}
}

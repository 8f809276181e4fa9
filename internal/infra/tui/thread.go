package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"rentchat/internal/app/thread"
	"rentchat/internal/domain/chat"
)

type threadOpenedMsg struct {
	id  string
	err error
}

type threadChangedMsg struct{}

type markedReadMsg struct{ err error }

// closeThreadMsg asks the app to return to the inbox.
type closeThreadMsg struct{}

// ThreadModel renders the open conversation and owns the composer.
type ThreadModel struct {
	ctx       context.Context
	assembler *thread.Assembler
	conv      chat.Conversation
	self      string
	composer  textinput.Model
	styles    Styles
	now       func() time.Time

	opened bool
	err    error
	notice string
	width  int
	height int
}

func NewThreadModel(ctx context.Context, assembler *thread.Assembler, conv chat.Conversation, self string, styles Styles) ThreadModel {
	composer := textinput.New()
	composer.Placeholder = "write a message"
	composer.Prompt = "> "
	composer.CharLimit = 4000
	composer.Focus()
	return ThreadModel{
		ctx:       ctx,
		assembler: assembler,
		conv:      conv,
		self:      self,
		composer:  composer,
		styles:    styles,
		now:       time.Now,
		width:     80,
		height:    24,
	}
}

func (m ThreadModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.openCmd())
}

func (m ThreadModel) Update(msg tea.Msg) (ThreadModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.composer.Width = max(10, msg.Width-4)
		return m, nil
	case threadOpenedMsg:
		if errors.Is(msg.err, thread.ErrSuperseded) {
			return m, nil
		}
		m.err = msg.err
		m.opened = msg.err == nil
		if m.opened {
			return m, m.markReadCmd()
		}
		return m, nil
	case threadChangedMsg:
		// new peer messages arrived while the thread is on screen
		if m.opened && m.assembler.UnreadFromPeer() > 0 {
			return m, m.markReadCmd()
		}
		return m, nil
	case markedReadMsg:
		if msg.err != nil && !errors.Is(msg.err, thread.ErrNotOpen) {
			m.notice = "could not mark messages read"
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc:
			return m, func() tea.Msg { return closeThreadMsg{} }
		case tea.KeyEnter:
			m.send()
			return m, nil
		case tea.KeyCtrlR:
			if id, ok := m.lastFailed(); ok {
				_ = m.assembler.Retry(m.ctx, id)
				return m, nil
			}
			if !m.opened {
				m.err = nil
				return m, m.openCmd()
			}
			return m, nil
		case tea.KeyCtrlX:
			if id, ok := m.lastFailed(); ok {
				_ = m.assembler.Discard(id)
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// send hands the composer text to the assembler. Empty text leaves the
// thread untouched and shows an inline notice.
func (m *ThreadModel) send() {
	_, err := m.assembler.SendOptimistic(m.ctx, m.composer.Value())
	switch {
	case errors.Is(err, chat.ErrValidation):
		m.notice = "message is empty"
	case err != nil:
		m.notice = err.Error()
	default:
		m.notice = ""
		m.composer.Reset()
	}
}

func (m ThreadModel) lastFailed() (string, bool) {
	items := m.assembler.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Status == chat.StatusFailed {
			return items[i].ID, true
		}
	}
	return "", false
}

// Notice returns the inline composer message, if any.
func (m ThreadModel) Notice() string { return m.notice }

func (m ThreadModel) View() string {
	st := m.styles
	peer, _ := m.conv.Peer(m.self)
	header := st.Title.Render(peer.DisplayName)
	if peer.Online {
		header += " " + st.Online.Render("online")
	} else if peer.LastSeenAt != nil {
		header += " " + st.Muted.Render("seen "+RelativeTime(*peer.LastSeenAt, m.now()))
	}
	if m.conv.Service != nil && m.conv.Service.Name != "" {
		header += st.Muted.Render(" · " + m.conv.Service.Name)
	}

	snap := m.assembler.Snapshot()
	var body []string
	switch {
	case errors.Is(m.err, chat.ErrNotFound):
		body = []string{st.Error.Render("conversation not found")}
	case m.err != nil:
		body = []string{st.Error.Render("could not load messages: " + m.err.Error()), st.Muted.Render("ctrl+r to retry")}
	case snap.Loading && len(snap.Items) == 0:
		body = []string{st.Muted.Render("loading…")}
	case len(snap.Items) == 0:
		body = []string{st.Muted.Render("no messages yet")}
	default:
		body = RenderThread(st, thread.GroupByDay(snap.Items, time.Local), m.self, peer, m.now(), m.width)
	}
	if room := m.height - 6; room > 0 && len(body) > room {
		body = body[len(body)-room:]
	}

	var b strings.Builder
	b.WriteString(header + "\n\n")
	b.WriteString(strings.Join(body, "\n") + "\n\n")
	if m.notice != "" {
		b.WriteString(st.Failed.Render(m.notice) + "\n")
	}
	b.WriteString(m.composer.View() + "\n")
	b.WriteString(st.Muted.Render("enter send · ctrl+r retry · ctrl+x discard failed · esc back"))
	return b.String()
}

func (m ThreadModel) openCmd() tea.Cmd {
	ctx, asm, id := m.ctx, m.assembler, m.conv.ID
	return func() tea.Msg {
		return threadOpenedMsg{id: id, err: asm.Open(ctx, id)}
	}
}

func (m ThreadModel) markReadCmd() tea.Cmd {
	ctx, asm := m.ctx, m.assembler
	return func() tea.Msg {
		return markedReadMsg{err: asm.MarkVisibleRead(ctx)}
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return threadChangedMsg{}
	}
}

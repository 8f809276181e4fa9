package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"rentchat/internal/app/inbox"
	"rentchat/internal/app/thread"
)

// App switches between the inbox and the open thread.
type App struct {
	ctx       context.Context
	index     *inbox.Index
	assembler *thread.Assembler
	styles    Styles

	inbox    InboxModel
	thread   *ThreadModel
	width    int
	height   int
	quitting bool
}

// NewApp wires the views to an index and an assembler sharing one store.
func NewApp(ctx context.Context, index *inbox.Index, assembler *thread.Assembler) App {
	styles := DefaultStyles()
	return App{
		ctx:       ctx,
		index:     index,
		assembler: assembler,
		styles:    styles,
		inbox:     NewInboxModel(ctx, index, styles),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.inbox.Init(), waitForChange(a.assembler.Changes()))
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			a.quitting = true
			a.assembler.Close()
			return a, tea.Quit
		}
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		var cmd tea.Cmd
		a.inbox, cmd = a.inbox.Update(msg)
		if a.thread != nil {
			t, tcmd := a.thread.Update(msg)
			a.thread = &t
			cmd = tea.Batch(cmd, tcmd)
		}
		return a, cmd
	case openConversationMsg:
		t := NewThreadModel(a.ctx, a.assembler, msg.conv, a.index.Self(), a.styles)
		if a.width > 0 {
			t, _ = t.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
		}
		a.thread = &t
		return a, t.Init()
	case closeThreadMsg:
		a.assembler.Close()
		a.thread = nil
		return a, nil
	case inboxLoadedMsg, conversationReadMsg, conversationRemovedMsg:
		var cmd tea.Cmd
		a.inbox, cmd = a.inbox.Update(msg)
		return a, cmd
	}

	if _, ok := msg.(threadChangedMsg); ok {
		a.inbox.refresh()
		next := waitForChange(a.assembler.Changes())
		if a.thread == nil {
			return a, next
		}
		t, cmd := a.thread.Update(msg)
		a.thread = &t
		return a, tea.Batch(cmd, next)
	}
	if a.thread != nil {
		t, cmd := a.thread.Update(msg)
		a.thread = &t
		return a, cmd
	}
	var cmd tea.Cmd
	a.inbox, cmd = a.inbox.Update(msg)
	return a, cmd
}

func (a App) View() string {
	if a.quitting {
		return ""
	}
	if a.thread != nil {
		return a.thread.View()
	}
	return a.inbox.View()
}

// Run drives the app until the user quits or ctx ends.
func Run(ctx context.Context, app App) error {
	_, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

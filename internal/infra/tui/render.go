// Package tui renders the inbox and the open thread in a terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"rentchat/internal/app/thread"
	"rentchat/internal/domain/chat"
)

// Styles groups the lipgloss styles used by both views.
type Styles struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style
	Badge    lipgloss.Style
	Online   lipgloss.Style
	Mine     lipgloss.Style
	Theirs   lipgloss.Style
	Avatar   lipgloss.Style
	Day      lipgloss.Style
	Failed   lipgloss.Style
	Error    lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Selected: lipgloss.NewStyle().Background(lipgloss.Color("237")),
		Badge:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("161")).Padding(0, 1),
		Online:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Mine:     lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("25")).Padding(0, 1),
		Theirs:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("238")).Padding(0, 1),
		Avatar:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Day:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

// StatusIcon maps a delivery state to its indicator.
func StatusIcon(s chat.Status) string {
	switch s {
	case chat.StatusPending:
		return "◷"
	case chat.StatusSent:
		return "✓"
	case chat.StatusRead:
		return "✓✓"
	case chat.StatusFailed:
		return "↻ retry"
	default:
		return "?"
	}
}

// RelativeTime renders t relative to now ("3 minutes ago").
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < time.Minute && !t.After(now) {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// DayLabel names a day group header.
func DayLabel(day, now time.Time) string {
	y, m, d := now.In(day.Location()).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case day.Year() == today.Year():
		return day.Format("Mon, 2 Jan")
	default:
		return day.Format("Mon, 2 Jan 2006")
	}
}

// Initials abbreviates a display name for the avatar column.
func Initials(name string) string {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "?"
	case 1:
		r := []rune(fields[0])
		return strings.ToUpper(string(r[0]))
	default:
		a, b := []rune(fields[0]), []rune(fields[len(fields)-1])
		return strings.ToUpper(string(a[0]) + string(b[0]))
	}
}

// RenderInboxRow draws one conversation summary line.
func RenderInboxRow(st Styles, conv chat.Conversation, self string, now time.Time, width int, selected bool) string {
	peer, _ := conv.Peer(self)
	name := peer.DisplayName
	if name == "" {
		name = peer.ID
	}
	dot := " "
	if peer.Online {
		dot = st.Online.Render("●")
	}
	head := dot + " " + st.Title.Render(name)
	if conv.Service != nil && conv.Service.Name != "" {
		head += st.Muted.Render(" · " + conv.Service.Name)
	}

	var snippet, when string
	if lm := conv.LastMessage; lm != nil {
		snippet = lm.Content
		if lm.SenderID == self {
			snippet = "You: " + snippet
		}
		when = RelativeTime(lm.CreatedAt, now)
	}
	badge := ""
	if conv.UnreadCount > 0 {
		badge = " " + st.Badge.Render(fmt.Sprintf("%d", conv.UnreadCount))
	}
	right := st.Muted.Render(when) + badge

	gap := width - lipgloss.Width(head) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line1 := head + strings.Repeat(" ", gap) + right
	line2 := "  " + st.Muted.Render(truncate(snippet, width-2))
	row := line1 + "\n" + line2
	if selected {
		return st.Selected.Width(width).Render(row)
	}
	return row
}

// RenderMessage draws one bubble: own messages right-aligned with a status
// icon, the peer's left-aligned behind their avatar.
func RenderMessage(st Styles, item thread.Item, self string, peer chat.Participant, width int) string {
	stamp := item.CreatedAt.Local().Format("15:04")
	if item.Mine(self) {
		icon := StatusIcon(item.Status)
		if item.Status == chat.StatusFailed {
			icon = st.Failed.Render(icon)
		}
		bubble := st.Mine.Render(item.Content) + " " + st.Muted.Render(stamp) + " " + icon
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble)
	}
	avatar := st.Avatar.Render("(" + Initials(peer.DisplayName) + ")")
	return avatar + " " + st.Theirs.Render(item.Content) + " " + st.Muted.Render(stamp)
}

// RenderThread flattens day groups into display lines.
func RenderThread(st Styles, groups []thread.DayGroup, self string, peer chat.Participant, now time.Time, width int) []string {
	var lines []string
	for _, g := range groups {
		label := "── " + DayLabel(g.Date, now) + " ──"
		lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Center, st.Day.Render(label)))
		for _, item := range g.Items {
			lines = append(lines, RenderMessage(st, item, self, peer, width))
		}
	}
	return lines
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

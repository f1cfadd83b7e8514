package tuicmder

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/parley/pkg/cliui"
	"github.com/papercomputeco/parley/pkg/session"
)

const streamingCursor = "▍"

func (m tuiModel) View() string {
	listW, mainW, bodyH := m.layout()

	header := renderHeaderLine(m.width,
		tuiTitleStyle.Render("parley")+" "+tuiMutedStyle.Render(m.target),
		tuiAccentStyle.Render(m.model)+" "+tuiMutedStyle.Render("("+m.modeLabel()+")"),
	)

	list := padLines(m.renderList(listW, bodyH), listW, bodyH)
	divider := make([]string, bodyH)
	for i := range divider {
		divider[i] = tuiDividerStyle.Render(" │ ")
	}
	main := padLines(strings.Split(m.viewport.View(), "\n"), mainW, bodyH)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		strings.Join(list, "\n"),
		strings.Join(divider, "\n"),
		strings.Join(main, "\n"),
	)

	return strings.Join([]string{
		header,
		body,
		m.renderStatus(),
		m.input.View(),
		m.help.View(m.keys),
	}, "\n")
}

func (m tuiModel) renderList(width, height int) []string {
	lines := []string{tuiSectionStyle.Render("Chats")}

	list := m.store.List()
	if len(list) == 0 {
		return append(lines, tuiMutedStyle.Render("no chats yet"))
	}

	active := m.store.ActiveID()
	start, end := visibleRange(len(list), m.cursor, height-1)
	for i := start; i < end; i++ {
		sess := list[i]

		suffix := ""
		if m.store.StreamActive(sess.ID) {
			suffix = " " + tuiAccentStyle.Render("●")
		}
		title := ansi.Truncate(sess.Title, max(width-2-lipgloss.Width(suffix), 1), "…")

		var line string
		switch {
		case m.focus == focusList && i == m.cursor:
			line = tuiCursorStyle.Render("› " + title)
		case sess.ID == active:
			line = "  " + tuiActiveStyle.Render(title)
		default:
			line = "  " + tuiMutedStyle.Render(title)
		}
		lines = append(lines, line+suffix)
	}
	return lines
}

func (m tuiModel) renderStatus() string {
	if m.status == "" {
		if m.sending {
			return tuiMutedStyle.Render("…")
		}
		return ""
	}
	if m.statusErr {
		return tuiErrorStyle.Render(m.status)
	}
	return tuiOKStyle.Render(m.status)
}

// renderConversation renders the active session. The reply a stream is
// still writing is shown raw with a cursor; finished replies are markdown.
func (m tuiModel) renderConversation(width int) string {
	if width <= 0 {
		width = 80
	}

	sess, ok := m.store.Active()
	if !ok {
		return tuiMutedStyle.Render("Start typing to begin a new chat.")
	}
	if len(sess.Messages) == 0 {
		return tuiMutedStyle.Render(fmt.Sprintf("%s is empty. Say something.", sess.Title))
	}

	streaming := m.store.StreamActive(sess.ID)
	blocks := make([]string, 0, len(sess.Messages))
	for i, msg := range sess.Messages {
		switch {
		case msg.Role == session.RoleUser:
			blocks = append(blocks, tuiUserStyle.Render("you")+"\n"+ansi.Wrap(msg.Content, width, ""))
		case msg.Error:
			blocks = append(blocks, tuiAsstStyle.Render("assistant")+"\n"+tuiErrorStyle.Render(ansi.Wrap(msg.Content, width, "")))
		case streaming && i == len(sess.Messages)-1:
			blocks = append(blocks, tuiAsstStyle.Render("assistant")+"\n"+ansi.Wrap(msg.Content+streamingCursor, width, ""))
		default:
			blocks = append(blocks, tuiAsstStyle.Render("assistant")+"\n"+m.markdown(msg, width))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (m tuiModel) markdown(msg session.Message, width int) string {
	if r, ok := m.rendered[msg.ID]; ok && r.content == msg.Content && r.width == width {
		return r.out
	}

	out, err := cliui.RenderMarkdownWidth(msg.Content, width)
	if err != nil {
		out = ansi.Wrap(msg.Content, width, "")
	}
	out = strings.Trim(out, "\n")

	if msg.ID != "" {
		m.rendered[msg.ID] = renderedMessage{content: msg.Content, width: width, out: out}
	}
	return out
}

func renderHeaderLine(width int, left, right string) string {
	lineWidth := width
	if lineWidth <= 0 {
		lineWidth = 80
	}
	leftWidth := lipgloss.Width(left)
	rightWidth := lipgloss.Width(right)
	if leftWidth+rightWidth+1 >= lineWidth {
		return strings.TrimSpace(left + " " + right)
	}
	return left + strings.Repeat(" ", lineWidth-leftWidth-rightWidth) + right
}

func padLines(lines []string, width, height int) []string {
	if height <= 0 {
		return []string{}
	}
	if width <= 0 {
		width = 1
	}
	result := make([]string, 0, height)
	for _, line := range lines {
		result = append(result, padRight(line, width))
		if len(result) >= height {
			return result[:height]
		}
	}
	for len(result) < height {
		result = append(result, strings.Repeat(" ", width))
	}
	return result
}

func padRight(value string, width int) string {
	lineWidth := lipgloss.Width(value)
	if lineWidth >= width {
		return value
	}
	return value + strings.Repeat(" ", width-lineWidth)
}

func visibleRange(total, cursor, size int) (int, int) {
	if total <= 0 || size <= 0 {
		return 0, 0
	}
	if total <= size {
		return 0, total
	}
	cursor = clamp(cursor, total-1)
	start := max(cursor-(size/2), 0)
	end := start + size
	if end > total {
		end = total
		start = max(end-size, 0)
	}
	return start, end
}

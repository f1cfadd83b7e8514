package tuicmder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/parley/cmd/parley/clientopts"
	"github.com/papercomputeco/parley/pkg/client"
	"github.com/papercomputeco/parley/pkg/dispatch"
	"github.com/papercomputeco/parley/pkg/session"
	"github.com/papercomputeco/parley/pkg/stream"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusList
)

const (
	listWidth = 30

	// header, status, input and help lines around the body
	chromeLines = 4

	expiredText = `Session expired. Run "parley auth login" to continue.`
)

var (
	tuiTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	tuiMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tuiAccentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("215"))
	tuiSectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	tuiDividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
	tuiActiveStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	tuiCursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("235")).Background(lipgloss.Color("214")).Bold(true)
	tuiUserStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	tuiAsstStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	tuiErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	tuiOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
)

type storeChangedMsg struct{}

type sentMsg struct {
	outcome *dispatch.Outcome
	err     error
}

type refreshedMsg struct {
	err error
}

type openedMsg struct {
	err error
}

type deletedMsg struct {
	err error
}

type renderedMessage struct {
	content string
	width   int
	out     string
}

type tuiModel struct {
	ctx    context.Context
	client *client.Client
	store  *session.Store

	target      string
	model       string
	stream      bool
	idleTimeout time.Duration

	changes     <-chan struct{}
	unsubscribe func()

	input    textinput.Model
	viewport viewport.Model
	help     help.Model
	keys     tuiKeyMap

	width  int
	height int
	cursor int
	focus  focusArea

	sending bool
	cancel  context.CancelFunc

	status    string
	statusErr bool

	shownID  string
	rendered map[string]renderedMessage
}

func newTUIModel(ctx context.Context, cl *client.Client, opts clientopts.Options) tuiModel {
	input := textinput.New()
	input.Placeholder = "Ask anything"
	input.Prompt = tuiAccentStyle.Render("› ")
	input.Focus()

	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	store := cl.Store()
	changes, unsubscribe := store.Subscribe()

	m := tuiModel{
		ctx:         ctx,
		client:      cl,
		store:       store,
		target:      opts.Target,
		model:       opts.Model,
		stream:      opts.Stream,
		idleTimeout: opts.IdleTimeout,
		changes:     changes,
		unsubscribe: unsubscribe,
		input:       input,
		viewport:    vp,
		help:        help.New(),
		keys:        defaultKeyMap(),
		rendered:    map[string]renderedMessage{},
	}

	if !cl.Authenticated() {
		m.setStatus(`Not logged in. Run "parley auth login" first.`, true)
	}
	m.syncCursor()
	return m
}

func (m tuiModel) close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.unsubscribe()
}

func (m tuiModel) Init() bubbletea.Cmd {
	cmds := []bubbletea.Cmd{textinput.Blink, waitForChange(m.changes)}
	if m.client.Authenticated() {
		cmds = append(cmds, refreshCmd(m.ctx, m.client))
	}
	return bubbletea.Batch(cmds...)
}

func (m tuiModel) Update(msg bubbletea.Msg) (bubbletea.Model, bubbletea.Cmd) {
	switch msg := msg.(type) {
	case bubbletea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refreshViewport(true)
		return m, nil
	case storeChangedMsg:
		m.clampCursor()
		m.refreshViewport(m.sending || m.viewport.AtBottom())
		return m, waitForChange(m.changes)
	case sentMsg:
		m.finishSend(msg)
		m.refreshViewport(true)
		return m, nil
	case refreshedMsg:
		m.report(msg.err, "")
		m.syncCursor()
		return m, nil
	case openedMsg:
		m.report(msg.err, "")
		m.refreshViewport(true)
		if msg.err != nil || m.client.LoggedOut() {
			return m, nil
		}
		m.focus = focusInput
		return m, m.input.Focus()
	case deletedMsg:
		m.report(msg.err, "Chat deleted")
		m.clampCursor()
		m.refreshViewport(true)
		return m, nil
	case bubbletea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd bubbletea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) handleKey(msg bubbletea.KeyMsg) (bubbletea.Model, bubbletea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.cancel != nil {
			m.cancel()
		}
		return m, bubbletea.Quit
	case key.Matches(msg, m.keys.Cancel):
		if m.cancel != nil {
			m.cancel()
			m.setStatus("Stopping reply", false)
		}
		return m, nil
	case key.Matches(msg, m.keys.Focus):
		if m.focus == focusInput {
			m.focus = focusList
			m.input.Blur()
			m.syncCursor()
			return m, nil
		}
		m.focus = focusInput
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Stream):
		m.stream = !m.stream
		m.setStatus("Replies: "+m.modeLabel(), false)
		return m, nil
	case key.Matches(msg, m.keys.New):
		if m.client.LoggedOut() {
			return m, nil
		}
		m.client.NewSession()
		m.syncCursor()
		m.focus = focusInput
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Refresh):
		if !m.client.Authenticated() || m.client.LoggedOut() {
			return m, nil
		}
		m.setStatus("Reloading chats", false)
		return m, refreshCmd(m.ctx, m.client)
	case key.Matches(msg, m.keys.Delete):
		return m.deleteSelected()
	case key.Matches(msg, m.keys.Send):
		if m.focus == focusList {
			return m.openSelected()
		}
		return m.submit()
	}

	if m.focus == focusList {
		switch {
		case key.Matches(msg, m.keys.Up):
			m.moveCursor(-1)
		case key.Matches(msg, m.keys.Down):
			m.moveCursor(1)
		}
		return m, nil
	}

	var vpCmd, inputCmd bubbletea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	m.input, inputCmd = m.input.Update(msg)
	return m, bubbletea.Batch(vpCmd, inputCmd)
}

func (m tuiModel) submit() (bubbletea.Model, bubbletea.Cmd) {
	if m.client.LoggedOut() {
		m.setStatus(expiredText, true)
		return m, nil
	}
	if m.sending {
		m.setStatus("Still waiting for the last reply", true)
		return m, nil
	}

	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}
	m.input.Reset()

	id := m.store.ActiveID()
	if id == "" {
		id = m.client.NewSession()
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.sending = true
	m.setStatus("Waiting for reply", false)

	return m, sendCmd(ctx, m.client, dispatch.Request{
		SessionID: id,
		Prompt:    prompt,
		Model:     m.model,
		Streaming: m.stream,
	})
}

func (m *tuiModel) finishSend(msg sentMsg) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.sending = false

	out := msg.outcome
	switch {
	case m.client.LoggedOut():
		m.expire()
	case msg.err != nil:
		m.setStatus(msg.err.Error(), true)
	case out.Err != nil && errors.Is(out.Err, context.Canceled):
		m.setStatus("Reply stopped", true)
	case out.Streamed && out.State == stream.StateClosedTimeout:
		m.setStatus("Reply stopped: no data for "+m.idleTimeout.String(), true)
	case out.Err != nil:
		m.setStatus(out.Err.Error(), true)
	default:
		m.setStatus("", false)
	}
}

func (m tuiModel) openSelected() (bubbletea.Model, bubbletea.Cmd) {
	list := m.store.List()
	if len(list) == 0 {
		return m, nil
	}
	return m, openCmd(m.ctx, m.client, list[clamp(m.cursor, len(list)-1)].ID)
}

func (m tuiModel) deleteSelected() (bubbletea.Model, bubbletea.Cmd) {
	if m.client.LoggedOut() {
		return m, nil
	}
	if m.sending {
		m.setStatus("Wait for the reply to finish first", true)
		return m, nil
	}

	id := m.store.ActiveID()
	if m.focus == focusList {
		list := m.store.List()
		if len(list) == 0 {
			return m, nil
		}
		id = list[clamp(m.cursor, len(list)-1)].ID
	}
	if id == "" {
		return m, nil
	}
	return m, deleteCmd(m.ctx, m.client, id)
}

// report shows err, or ok when there is no error.
func (m *tuiModel) report(err error, ok string) {
	switch {
	case m.client.LoggedOut():
		m.expire()
	case err != nil:
		m.setStatus(err.Error(), true)
	default:
		m.setStatus(ok, false)
	}
}

func (m *tuiModel) expire() {
	m.setStatus(expiredText, true)
	m.input.Blur()
	m.focus = focusInput
}

func (m *tuiModel) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

func (m *tuiModel) moveCursor(delta int) {
	total := len(m.store.List())
	if total == 0 {
		m.cursor = 0
		return
	}
	m.cursor = clamp(m.cursor+delta, total-1)
}

func (m *tuiModel) clampCursor() {
	total := len(m.store.List())
	if total == 0 {
		m.cursor = 0
		return
	}
	m.cursor = clamp(m.cursor, total-1)
}

// syncCursor moves the list cursor onto the active session.
func (m *tuiModel) syncCursor() {
	active := m.store.ActiveID()
	for i, sess := range m.store.List() {
		if sess.ID == active {
			m.cursor = i
			return
		}
	}
	m.clampCursor()
}

func (m *tuiModel) resize() {
	_, mainW, bodyH := m.layout()
	m.viewport.Width = mainW
	m.viewport.Height = bodyH
	m.input.Width = max(m.width-4, 1)
	m.help.Width = m.width
}

// refreshViewport re-renders the active conversation. It scrolls to the end
// when follow is set or a different session became active.
func (m *tuiModel) refreshViewport(follow bool) {
	active := m.store.ActiveID()
	m.viewport.SetContent(m.renderConversation(m.viewport.Width))
	if follow || active != m.shownID {
		m.viewport.GotoBottom()
	}
	m.shownID = active
}

func (m tuiModel) layout() (int, int, int) {
	width := m.width
	if width <= 0 {
		width = 80
	}
	height := m.height
	if height <= 0 {
		height = 24
	}

	listW := min(listWidth, width/3)
	mainW := max(width-listW-3, 1)
	bodyH := max(height-chromeLines, 1)
	return listW, mainW, bodyH
}

func (m tuiModel) modeLabel() string {
	if m.stream {
		return "streaming"
	}
	return "single-shot"
}

func waitForChange(changes <-chan struct{}) bubbletea.Cmd {
	return func() bubbletea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

func sendCmd(ctx context.Context, cl *client.Client, req dispatch.Request) bubbletea.Cmd {
	return func() bubbletea.Msg {
		out, err := cl.Send(ctx, req)
		return sentMsg{outcome: out, err: err}
	}
}

func refreshCmd(ctx context.Context, cl *client.Client) bubbletea.Cmd {
	return func() bubbletea.Msg {
		return refreshedMsg{err: cl.Refresh(ctx)}
	}
}

func openCmd(ctx context.Context, cl *client.Client, sessionID string) bubbletea.Cmd {
	return func() bubbletea.Msg {
		return openedMsg{err: cl.Open(ctx, sessionID)}
	}
}

func deleteCmd(ctx context.Context, cl *client.Client, sessionID string) bubbletea.Cmd {
	return func() bubbletea.Msg {
		if err := cl.Delete(ctx, sessionID); err != nil {
			return deletedMsg{err: fmt.Errorf("deleting chat: %w", err)}
		}
		return deletedMsg{}
	}
}

func clamp(value, upper int) int {
	if value < 0 {
		return 0
	}
	if value > upper {
		return upper
	}
	return value
}

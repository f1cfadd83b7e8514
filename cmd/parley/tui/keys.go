package tuicmder

import "github.com/charmbracelet/bubbles/key"

type tuiKeyMap struct {
	Send    key.Binding
	Focus   key.Binding
	Up      key.Binding
	Down    key.Binding
	New     key.Binding
	Delete  key.Binding
	Stream  key.Binding
	Refresh key.Binding
	Cancel  key.Binding
	Quit    key.Binding
}

func (k tuiKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Focus, k.New, k.Delete, k.Stream, k.Cancel, k.Quit}
}

func (k tuiKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Send, k.Focus, k.Up, k.Down}, {k.New, k.Delete, k.Stream, k.Refresh, k.Cancel, k.Quit}}
}

func defaultKeyMap() tuiKeyMap {
	return tuiKeyMap{
		Send:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send/open")),
		Focus:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "chats")),
		Up:      key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k", "up")),
		Down:    key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j", "down")),
		New:     key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new")),
		Delete:  key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "delete")),
		Stream:  key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "stream")),
		Refresh: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "refresh")),
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

package tui

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/vitaminmoo/smp-tool/internal/session"
)

// KeyMap defines all keybindings for the TUI.
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Select     key.Binding
	Back       key.Binding
	Quit       key.Binding
	Help       key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Refresh    key.Binding
	Open       key.Binding
	Upload     key.Binding
	Cancel     key.Binding
	Test       key.Binding
	Confirm    key.Binding
	Erase      key.Binding
	Reset      key.Binding
	Store      key.Binding
	History    key.Binding
}

// DefaultKeyMap returns the default vim-style keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open file"),
		),
		Upload: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "upload"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "cancel upload"),
		),
		Test: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "test"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "make permanent"),
		),
		Erase: key.NewBinding(
			key.WithKeys("E"),
			key.WithHelp("E", "erase slot"),
		),
		Reset: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "reset"),
		),
		Store: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "store"),
		),
		History: key.NewBinding(
			key.WithKeys("h"),
			key.WithHelp("h", "history"),
		),
	}
}

// gate enables only the bindings that make sense for the session state.
func (k *KeyMap) gate(st session.State, haveImage bool) {
	connected := st.Phase == session.Connected
	idle := connected && !st.Uploading

	k.Connect.SetEnabled(st.Phase == session.Disconnected)
	k.Disconnect.SetEnabled(st.Phase != session.Disconnected)
	k.Refresh.SetEnabled(idle)
	k.Upload.SetEnabled(idle && haveImage)
	k.Cancel.SetEnabled(connected && st.Uploading)
	k.Test.SetEnabled(idle && st.Affordances.CanTest)
	k.Confirm.SetEnabled(idle && st.Affordances.CanConfirm)
	k.Erase.SetEnabled(idle)
	k.Reset.SetEnabled(idle)
}

// ShortHelp returns keybindings to show in the help view (horizontal).
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Disconnect, k.Open, k.Upload, k.Cancel, k.Test, k.Confirm, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Connect, k.Disconnect, k.Refresh, k.Reset},
		{k.Open, k.Upload, k.Cancel},
		{k.Test, k.Confirm, k.Erase},
		{k.Store, k.History, k.Help, k.Quit},
	}
}

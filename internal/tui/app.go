package tui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vitaminmoo/smp-tool/internal/commands"
	"github.com/vitaminmoo/smp-tool/internal/session"
)

// Run starts the TUI application.
func Run(env *commands.Env) error {
	var p *tea.Program
	mgr, cleanup := env.NewManager(func(e session.Event) {
		if p != nil {
			p.Send(sessionEventMsg{event: e})
		}
	})
	defer cleanup()

	m := NewModel(env, mgr)
	p = tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return err
	}

	return nil
}

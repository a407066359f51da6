package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/vitaminmoo/smp-tool/internal/session"
)

// ProgressState tracks a running upload.
type ProgressState struct {
	progress    progress.Model
	percent     float64
	description string
	slowTimeout time.Duration
	isActive    bool
}

// NewProgressState creates a new progress tracking state.
func NewProgressState() ProgressState {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return ProgressState{
		progress: p,
	}
}

// Start begins tracking a new upload.
func (p *ProgressState) Start(description string) {
	p.isActive = true
	p.percent = 0
	p.slowTimeout = 0
	p.description = description
}

// Update applies an upload progress event.
func (p *ProgressState) Update(e session.UploadProgressEvent) {
	p.percent = float64(e.Percentage) / 100
	if e.TimeoutAdjusted {
		p.slowTimeout = e.NewTimeout
	}
}

// Stop ends tracking.
func (p *ProgressState) Stop() {
	p.isActive = false
}

// IsActive returns whether an upload is in progress.
func (p *ProgressState) IsActive() bool {
	return p.isActive
}

// View renders the progress bar with the slow-device warning, if any.
func (p ProgressState) View(styles Styles) string {
	if !p.isActive {
		return ""
	}
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	out := descStyle.Render(p.description) + "\n" + p.progress.ViewAs(p.percent)
	if p.slowTimeout > 0 {
		out += "\n" + styles.Warning.Render(fmt.Sprintf(
			"Device is responding slowly, adjusting timeout to %s...", p.slowTimeout.Round(time.Millisecond)))
	}
	return out
}

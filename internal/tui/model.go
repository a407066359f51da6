package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/smp-tool/internal/commands"
	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/history"
	"github.com/vitaminmoo/smp-tool/internal/session"
	"github.com/vitaminmoo/smp-tool/internal/store"
	"github.com/vitaminmoo/smp-tool/internal/upload"
	"github.com/vitaminmoo/smp-tool/internal/util"
)

// View represents different screens in the TUI.
type View int

const (
	ViewMain View = iota
	ViewStore
	ViewHistory
)

// selectedImage is the image queued for upload.
type selectedImage struct {
	name   string
	source string // "file", "store", "remote"
	data   []byte
	info   *firmware.ImageInfo
}

// Model is the main Bubbletea model for the TUI.
type Model struct {
	env *commands.Env
	mgr *session.Manager

	// State
	view   View
	cursor int
	width  int
	height int

	// Session mirror, refreshed from Snapshot on every session event
	state     session.State
	lastError string
	statusMsg string
	remedies  []session.Remedy
	busy      bool // a non-upload command is running
	erasing   bool // waiting for the erase confirmation key

	image     *selectedImage
	remoteErr string

	storeEntries []store.IndexEntry
	storeErr     string
	history      []history.Entry
	historyErr   string

	// File picker state
	filepicker       filepicker.Model
	filePickerActive bool

	// Components
	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	progress ProgressState
	styles   Styles
}

// --- Custom messages for async operations ---

// sessionEventMsg wraps an event published by the session manager.
type sessionEventMsg struct {
	event session.Event
}

// opDoneMsg reports the end of a device command.
type opDoneMsg struct {
	op  string
	err error
}

// uploadDoneMsg reports the return of UploadImage.
type uploadDoneMsg struct {
	res *upload.Result
	err error
}

type imageLoadedMsg struct {
	image *selectedImage
	err   error
}

type storeListMsg struct {
	entries []store.IndexEntry
	err     error
}

type historyMsg struct {
	entries []history.Entry
	err     error
}

// NewModel creates the TUI model around a session manager.
func NewModel(env *commands.Env, mgr *session.Manager) Model {
	h := help.New()
	h.ShowAll = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	fp := filepicker.New()
	fp.AllowedTypes = []string{".bin", ".img", ".signed"}
	fp.DirAllowed = true
	fp.FileAllowed = true
	fp.ShowHidden = false
	fp.ShowSize = true
	fp.ShowPermissions = false
	fp.SetHeight(15)
	if cwd, err := os.Getwd(); err == nil {
		fp.CurrentDirectory = cwd
	} else {
		fp.CurrentDirectory = "."
	}

	m := Model{
		env:        env,
		mgr:        mgr,
		view:       ViewMain,
		keys:       DefaultKeyMap(),
		help:       h,
		spinner:    s,
		progress:   NewProgressState(),
		styles:     DefaultStyles(),
		filepicker: fp,
	}
	m.keys.gate(m.state, false)
	return m
}

// Init starts connecting right away.
func (m Model) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.mgr, m.env.Settings.DevicePrefix), m.spinner.Tick)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.filePickerActive {
		if msg, ok := msg.(tea.KeyMsg); ok {
			if key.Matches(msg, m.keys.Back) || msg.String() == "ctrl+c" {
				m.filePickerActive = false
				return m, nil
			}
		}

		var cmd tea.Cmd
		m.filepicker, cmd = m.filepicker.Update(msg)

		if didSelect, path := m.filepicker.DidSelectFile(msg); didSelect {
			m.filePickerActive = false
			return m, loadFileCmd(path)
		}
		if didSelect, _ := m.filepicker.DidSelectDisabledFile(msg); didSelect {
			m.filePickerActive = false
			m.lastError = "Unsupported file type"
			return m, nil
		}
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionEventMsg:
		return m.handleEvent(msg.event)

	case opDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		} else if msg.op != "connect" {
			m.statusMsg = msg.op + " done"
		}
		return m.sync(), nil

	case uploadDoneMsg:
		m.progress.Stop()
		if msg.err != nil {
			m.lastError = fmt.Sprintf("Upload not started: %v", msg.err)
		}
		return m.sync(), nil

	case imageLoadedMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("Invalid image: %v", msg.err)
			return m, nil
		}
		m.image = msg.image
		m.lastError = ""
		m.statusMsg = fmt.Sprintf("Selected %s (%s)", msg.image.name, msg.image.info.Version)
		if m.view == ViewStore {
			m.view = ViewMain
		}
		return m.sync(), nil

	case storeListMsg:
		m.storeEntries, m.storeErr = msg.entries, ""
		if msg.err != nil {
			m.storeErr = msg.err.Error()
		}
		return m, nil

	case historyMsg:
		m.history, m.historyErr = msg.entries, ""
		if msg.err != nil {
			m.historyErr = msg.err.Error()
		}
		return m, nil
	}

	return m, nil
}

// sync refreshes the session mirror and the enabled keys.
func (m Model) sync() Model {
	m.state = m.mgr.Snapshot()
	m.keys.gate(m.state, m.image != nil)
	return m
}

func (m Model) handleEvent(e session.Event) (tea.Model, tea.Cmd) {
	switch e := e.(type) {
	case session.ConnectingEvent:
		m.lastError = ""
		m.statusMsg = "Scanning for " + e.Prefix + "..."
	case session.ConnectedEvent:
		m.statusMsg = "Connected to " + e.Name
		m.remedies = nil
	case session.DisconnectedEvent:
		m.progress.Stop()
		m.erasing = false
		if e.Err != nil {
			m.lastError = e.Err.Error()
			m.statusMsg = "Press 'c' to reconnect"
		} else {
			m.statusMsg = "Disconnected"
		}
	case session.UploadProgressEvent:
		m.progress.Update(e)
	case session.UploadFinishedEvent:
		m.progress.Stop()
		m.statusMsg = "Upload complete: " + util.ShortHex(e.Hash, 16)
		m.remedies = nil
	case session.UploadCancelledEvent:
		m.progress.Stop()
		m.statusMsg = "Upload cancelled"
	case session.UploadErrorEvent:
		m.progress.Stop()
		m.lastError = fmt.Sprintf("Upload failed: %v", e.Err)
		m.remedies = e.Remedies
	case session.AutoTestTriggeredEvent:
		m.statusMsg = "Marked " + util.ShortHex(e.Hash, 16) + " for test on next reset"
	case session.FirmwareReadyEvent:
		m.remoteErr = ""
		if m.image == nil || m.image.source == "remote" {
			m.image = &selectedImage{
				name:   e.Entry.ResolvedName,
				source: "remote",
				data:   e.Entry.Bytes,
				info:   &e.Entry.Info,
			}
		}
	case session.FirmwareFailedEvent:
		m.remoteErr = e.Err.Error()
	}
	return m.sync(), nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.erasing {
		m.erasing = false
		if msg.String() == "y" {
			m.busy = true
			m.statusMsg = "Erasing..."
			return m, tea.Batch(eraseCmd(m.mgr), m.spinner.Tick)
		}
		m.statusMsg = "Erase aborted"
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.view != ViewMain {
			m.view = ViewMain
			m.cursor = 0
			return m, nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Back):
		m.view = ViewMain
		m.cursor = 0
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < m.maxCursor() {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Select):
		if m.view == ViewStore && m.cursor < len(m.storeEntries) {
			return m, loadStoreCmd(m.env, m.storeEntries[m.cursor].Hash)
		}
		return m, nil

	case key.Matches(msg, m.keys.Store):
		m.view = ViewStore
		m.cursor = 0
		return m, listStoreCmd(m.env)

	case key.Matches(msg, m.keys.History):
		m.view = ViewHistory
		m.cursor = 0
		return m, listHistoryCmd(m.env)

	case key.Matches(msg, m.keys.Open):
		m.filePickerActive = true
		return m, m.filepicker.Init()

	case key.Matches(msg, m.keys.Connect):
		m.lastError = ""
		return m, tea.Batch(connectCmd(m.mgr, m.env.Settings.DevicePrefix), m.spinner.Tick)

	case key.Matches(msg, m.keys.Disconnect):
		return m, disconnectCmd(m.mgr)
	}

	if m.busy {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Refresh):
		m.busy = true
		return m, tea.Batch(opCmd("refresh", func(ctx context.Context) error {
			_, err := m.mgr.QueryImageState(ctx)
			return err
		}), m.spinner.Tick)

	case key.Matches(msg, m.keys.Upload):
		img := m.image
		m.lastError = ""
		m.remedies = nil
		m.progress.Start(fmt.Sprintf("Uploading %s (%s, %s)", img.name, img.info.Version, humanize.Bytes(uint64(len(img.data)))))
		m.state.Uploading = true
		m.keys.gate(m.state, true)
		return m, uploadCmd(m.mgr, img.data)

	case key.Matches(msg, m.keys.Cancel):
		m.mgr.CancelUpload()
		return m, nil

	case key.Matches(msg, m.keys.Test):
		hash := m.state.Affordances.TestHash
		m.busy = true
		return m, tea.Batch(opCmd("test", func(ctx context.Context) error {
			return m.mgr.TestSlot(ctx, hash)
		}), m.spinner.Tick)

	case key.Matches(msg, m.keys.Confirm):
		hash := m.state.Affordances.ConfirmHash
		m.busy = true
		return m, tea.Batch(opCmd("confirm", func(ctx context.Context) error {
			return m.mgr.ConfirmSlot(ctx, hash)
		}), m.spinner.Tick)

	case key.Matches(msg, m.keys.Erase):
		m.erasing = true
		m.statusMsg = "Erase the secondary slot? (y/N)"
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		m.busy = true
		return m, opCmd("reset", m.mgr.Reset)
	}

	return m, nil
}

func (m Model) maxCursor() int {
	switch m.view {
	case ViewStore:
		return max(len(m.storeEntries)-1, 0)
	case ViewHistory:
		return max(len(m.history)-1, 0)
	}
	return 0
}

// View renders the current screen.
func (m Model) View() string {
	if m.filePickerActive {
		content := m.styles.Title.Render("Select Firmware Image") + "\n" +
			m.styles.Muted.Render("Directory: "+m.filepicker.CurrentDirectory) + "\n\n" +
			m.filepicker.View() + "\n\n" +
			m.styles.Muted.Render("↑/↓ navigate • Enter/→ select • ←/h parent dir • ESC cancel")
		return m.styles.App.Render(content)
	}

	var content string
	switch m.view {
	case ViewStore:
		content = m.viewStore()
	case ViewHistory:
		content = m.viewHistory()
	default:
		content = m.viewMain()
	}

	helpView := m.styles.Help.Render(m.help.View(m.keys))
	return m.styles.App.Render(content + "\n" + helpView)
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar("SMP Firmware Update"))
	b.WriteString("\n")

	if m.statusMsg != "" {
		b.WriteString(m.styles.Muted.Render(m.statusMsg))
		b.WriteString("\n")
	}
	if m.lastError != "" {
		b.WriteString(m.styles.Error.Render(m.lastError))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Section.Render("Images"))
	b.WriteString("\n")
	b.WriteString(m.renderSlots())

	b.WriteString(m.styles.Section.Render("Upload"))
	b.WriteString("\n")
	b.WriteString(m.renderImage())

	if m.progress.IsActive() {
		b.WriteString("\n")
		b.WriteString(m.progress.View(m.styles))
		b.WriteString("\n")
	}

	if len(m.remedies) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderRemedies())
		b.WriteString("\n")
	}

	return b.String()
}

// renderTitleBar renders a consistent title bar with connection status.
func (m Model) renderTitleBar(title string) string {
	parts := []string{m.styles.Title.Render(title)}

	switch m.state.Phase {
	case session.Connecting:
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render("Connecting..."))
	case session.Connected:
		parts = append(parts, m.styles.StatusOnline.Render("●"))
		parts = append(parts, m.styles.Value.Render(m.state.DeviceName))
		if m.busy {
			parts = append(parts, m.spinner.View())
		}
	default:
		parts = append(parts, m.styles.StatusOffline.Render("○ Offline"))
	}

	return strings.Join(parts, "  ")
}

func (m Model) renderSlots() string {
	if m.state.Phase != session.Connected {
		return m.styles.Muted.Render("Not connected") + "\n"
	}
	if len(m.state.Slots) == 0 {
		return m.styles.Muted.Render("No images reported") + "\n"
	}

	var b strings.Builder
	b.WriteString(m.styles.TableHeader.Render(fmt.Sprintf("%-5s %-12s %-19s %s", "SLOT", "VERSION", "HASH", "FLAGS")))
	b.WriteString("\n")
	for _, s := range m.state.Slots {
		line := fmt.Sprintf("%-5d %-12s %-19s %s", s.Slot, s.Version, util.ShortHex(s.Hash, 16), commands.SlotFlags(s))
		switch {
		case s.Pending:
			line = m.styles.SlotPending.Render(line)
		case s.Active:
			line = m.styles.SlotActive.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.state.Affordances.MultiplePending {
		b.WriteString(m.styles.Warning.Render("More than one slot is pending"))
		b.WriteString("\n")
	}
	if len(m.state.AutoTestTarget) > 0 {
		b.WriteString(m.styles.Muted.Render("Waiting for " + util.ShortHex(m.state.AutoTestTarget, 16) + " to appear for testing"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderImage() string {
	var b strings.Builder
	if m.image == nil {
		b.WriteString(m.styles.Muted.Render("No image selected, press 'o' to open a file or 's' for the store"))
		b.WriteString("\n")
	} else {
		info := m.image.info
		b.WriteString(m.renderField("File", fmt.Sprintf("%s (%s)", m.image.name, m.image.source)))
		b.WriteString(m.renderField("Version", info.Version))
		b.WriteString(m.renderField("Size", humanize.Bytes(uint64(info.FileSize))))
		b.WriteString(m.renderField("Hash", util.ShortHex(info.Hash, 16)))
		if !info.HashValid {
			b.WriteString(m.styles.Warning.Render("Image hash does not match its contents"))
			b.WriteString("\n")
		}
	}
	if m.remoteErr != "" {
		b.WriteString(m.styles.Error.Render("Remote firmware: " + m.remoteErr))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRemedies() string {
	var b strings.Builder
	b.WriteString(m.styles.Label.Render("What you can try:"))
	for _, r := range m.remedies {
		b.WriteString("\n• " + commands.RemedyText(r))
	}
	return m.styles.Panel.Render(b.String())
}

func (m Model) viewStore() string {
	var b strings.Builder
	b.WriteString(m.renderTitleBar("Firmware Store"))
	b.WriteString("\n\n")

	if m.storeErr != "" {
		b.WriteString(m.styles.Error.Render(m.storeErr))
		return b.String()
	}
	if len(m.storeEntries) == 0 {
		b.WriteString(m.styles.Muted.Render("Store is empty. Import with: smp-tool store import <file>"))
		return b.String()
	}

	for i, e := range m.storeEntries {
		line := fmt.Sprintf("%-14s %-12s %-10s %s", store.ShortHash(e.Hash), e.Version,
			humanize.Bytes(uint64(e.FileSize)), humanize.Time(e.CreatedAt))
		if i == m.cursor {
			b.WriteString(m.styles.Selected.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("enter selects the image for upload"))
	return b.String()
}

func (m Model) viewHistory() string {
	var b strings.Builder
	b.WriteString(m.renderTitleBar("Upload History"))
	b.WriteString("\n\n")

	if m.historyErr != "" {
		b.WriteString(m.styles.Error.Render(m.historyErr))
		return b.String()
	}
	if len(m.history) == 0 {
		b.WriteString(m.styles.Muted.Render("No uploads recorded"))
		return b.String()
	}

	for i, e := range m.history {
		line := fmt.Sprintf("%-14s %-10s %-10s %s/%s", humanize.Time(e.StartedAt), e.Version, e.Outcome,
			humanize.Bytes(uint64(e.BytesSent)), humanize.Bytes(uint64(e.TotalSize)))
		if e.Error != "" {
			line += "  " + truncate(e.Error, 40)
		}
		if i == m.cursor {
			b.WriteString(m.styles.Selected.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderField(label, value string) string {
	return m.styles.Label.Render(label+":") + " " + m.styles.Value.Render(value) + "\n"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// --- Async commands ---

func connectCmd(mgr *session.Manager, prefix string) tea.Cmd {
	return func() tea.Msg {
		err := mgr.Connect(context.Background(), prefix)
		if errors.Is(err, session.ErrAlreadyConnected) {
			err = nil
		}
		return opDoneMsg{op: "connect", err: err}
	}
}

func disconnectCmd(mgr *session.Manager) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: "disconnect", err: mgr.Disconnect()}
	}
}

// opCmd runs one device command.
func opCmd(op string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(context.Background())}
	}
}

func eraseCmd(mgr *session.Manager) tea.Cmd {
	return opCmd("erase", mgr.EraseSecondarySlot)
}

func uploadCmd(mgr *session.Manager, data []byte) tea.Cmd {
	return func() tea.Msg {
		res, err := mgr.UploadImage(context.Background(), data)
		return uploadDoneMsg{res: res, err: err}
	}
}

func loadFileCmd(path string) tea.Cmd {
	return func() tea.Msg {
		info, data, err := firmware.ParseImageFile(path)
		if err != nil {
			return imageLoadedMsg{err: err}
		}
		return imageLoadedMsg{image: &selectedImage{
			name:   filepath.Base(path),
			source: "file",
			data:   data,
			info:   info,
		}}
	}
}

func loadStoreCmd(env *commands.Env, hash string) tea.Cmd {
	return func() tea.Msg {
		data, _, err := env.LoadImage(context.Background(), commands.ImageSource{Hash: hash})
		if err != nil {
			return imageLoadedMsg{err: err}
		}
		info, err := firmware.ParseImage(data)
		if err != nil {
			return imageLoadedMsg{err: err}
		}
		return imageLoadedMsg{image: &selectedImage{
			name:   store.ShortHash(hash),
			source: "store",
			data:   data,
			info:   info,
		}}
	}
}

func listStoreCmd(env *commands.Env) tea.Cmd {
	return func() tea.Msg {
		s, err := env.OpenStore()
		if err != nil {
			return storeListMsg{err: err}
		}
		entries, err := s.List()
		return storeListMsg{entries: entries, err: err}
	}
}

func listHistoryCmd(env *commands.Env) tea.Cmd {
	return func() tea.Msg {
		j, err := env.OpenHistory()
		if err != nil {
			return historyMsg{err: err}
		}
		defer j.Close()
		entries, err := j.List(context.Background(), 50)
		return historyMsg{entries: entries, err: err}
	}
}

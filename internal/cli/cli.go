package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/smp-tool/internal/commands"
	"github.com/vitaminmoo/smp-tool/internal/config"
	"github.com/vitaminmoo/smp-tool/internal/logger"
	"github.com/vitaminmoo/smp-tool/internal/session"
	"github.com/vitaminmoo/smp-tool/internal/store"
	"github.com/vitaminmoo/smp-tool/internal/tui"
)

// CLI is the root command structure for smp-tool.
type CLI struct {
	Verbose  bool   `short:"v" help:"Enable verbose debug output"`
	Config   string `short:"c" type:"path" help:"Config file (default: ./config.yaml, then ~/.smp-tool/config.yaml)"`
	Name     string `short:"n" help:"Device name prefix to scan for (overrides device-prefix)"`
	NoTest   bool   `name:"no-auto-test" help:"Do not mark uploaded images for test"`
	LogLevel string `help:"Log level: debug, info, warn, error (overrides log-level)"`
	LogFile  string `type:"path" help:"Write logs to this file (overrides log-file; the TUI defaults to ~/.smp-tool/smp-tool.log)"`

	// Default command - TUI
	Tui TuiCmd `cmd:"" default:"withargs" help:"Launch interactive TUI (default)"`

	Device  DeviceCmd  `cmd:"" help:"Device info and control"`
	Image   ImageCmd   `cmd:"" help:"Image slots and firmware upload"`
	Fetch   FetchCmd   `cmd:"" help:"Download remote firmware into the store"`
	Store   StoreCmd   `cmd:"" help:"Local firmware library"`
	History HistoryCmd `cmd:"" help:"Upload history"`
	Debug   DebugCmd   `cmd:"" help:"Debug and development tools"`

	tuiMode bool
	logFile *os.File
}

// defaultTUILog is the log file name used by the TUI when none is configured.
const defaultTUILog = "smp-tool.log"

// Close releases the log file opened by env, if any.
func (c *CLI) Close() error {
	if c.logFile == nil {
		return nil
	}
	err := c.logFile.Close()
	c.logFile = nil
	config.DebugOutput = os.Stdout
	return err
}

// env loads settings, applies flag overrides and configures logging.
// The log output goes to w unless a log file is set. The TUI always logs
// to a file since it owns the terminal.
func (c *CLI) env(w io.Writer) (*commands.Env, error) {
	config.Verbose = c.Verbose

	s, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Name != "" {
		s.DevicePrefix = c.Name
	}
	if c.NoTest {
		s.AutoTest = false
	}
	if c.LogLevel != "" {
		s.LogLevel = c.LogLevel
	}
	if c.LogFile != "" {
		s.LogFile = c.LogFile
	}
	if s.LogFile == "" && c.tuiMode {
		s.LogFile = filepath.Join(config.DefaultDir(), defaultTUILog)
	}
	if c.Verbose {
		s.LogLevel = "debug"
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(s.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		c.Close()
		c.logFile = f
		w = f
		config.DebugOutput = f
	}
	logger.Setup(w, s.LogFormat)
	logger.SetLevel(s.LogLevel)

	return &commands.Env{Settings: s, Logger: logger.WithSubsystem("smp-tool")}, nil
}

// connect runs fn against a connected session.
func (c *CLI) connect(ctx context.Context, fn func(*session.Manager) error) error {
	env, err := c.env(os.Stderr)
	if err != nil {
		return err
	}
	r := commands.NewUploadReporter(0)
	m, cleanup, err := env.Connect(ctx, r.Handle)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(m)
}

// --- TUI Command ---

type TuiCmd struct{}

func (c *TuiCmd) Run(globals *CLI) error {
	globals.tuiMode = true
	env, err := globals.env(io.Discard)
	if err != nil {
		return err
	}
	return tui.Run(env)
}

// --- Device Commands ---

type DeviceCmd struct {
	Echo  DeviceEchoCmd  `cmd:"" help:"Echo text through the device"`
	Reset DeviceResetCmd `cmd:"" help:"Reset the device"`
	Tasks DeviceTasksCmd `cmd:"" help:"Show the device task table"`
}

type DeviceEchoCmd struct {
	Text string `arg:"" default:"hello" help:"Text to echo"`
}

func (c *DeviceEchoCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.Echo(ctx, m, c.Text)
	})
}

type DeviceResetCmd struct{}

func (c *DeviceResetCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.Reset(ctx, m)
	})
}

type DeviceTasksCmd struct{}

func (c *DeviceTasksCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.TaskStats(ctx, m)
	})
}

// --- Image Commands ---

type ImageCmd struct {
	State   ImageStateCmd   `cmd:"" help:"Show image slots"`
	Upload  ImageUploadCmd  `cmd:"" help:"Upload a firmware image to the secondary slot"`
	Test    ImageTestCmd    `cmd:"" help:"Mark an image for test on next reset"`
	Confirm ImageConfirmCmd `cmd:"" help:"Make the running image permanent"`
	Erase   ImageEraseCmd   `cmd:"" help:"Erase the secondary slot"`
}

type ImageStateCmd struct{}

func (c *ImageStateCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.ImageState(ctx, m)
	})
}

type ImageUploadCmd struct {
	File  string `arg:"" optional:"" type:"existingfile" help:"MCUboot image file"`
	Hash  string `help:"Upload an image from the store by hash"`
	URL   string `name:"url" help:"Download and upload firmware from an https URL"`
	Link  string `help:"Download and upload firmware from a shared link carrying firmwareUrl"`
	Reset bool   `help:"Reset the device after the image is marked for test"`
}

func (c *ImageUploadCmd) Run(globals *CLI, ctx context.Context) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}

	src := commands.ImageSource{File: c.File, Hash: c.Hash, URL: c.URL, Link: c.Link}
	image, name, err := env.LoadImage(ctx, src)
	if err != nil {
		return err
	}

	r := commands.NewUploadReporter(len(image))
	m, cleanup, err := env.Connect(ctx, r.Handle)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := commands.Upload(ctx, m, image, name); err != nil {
		return err
	}
	if c.Reset && m.Snapshot().Affordances.CanReset {
		return commands.Reset(ctx, m)
	}
	return nil
}

type ImageTestCmd struct {
	Hash string `arg:"" optional:"" help:"Image hash or unique prefix (default: the testable slot)"`
}

func (c *ImageTestCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.TestImage(ctx, m, c.Hash)
	})
}

type ImageConfirmCmd struct {
	Hash string `arg:"" optional:"" help:"Image hash or unique prefix (default: the running image)"`
}

func (c *ImageConfirmCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.ConfirmImage(ctx, m, c.Hash)
	})
}

type ImageEraseCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation"`
}

func (c *ImageEraseCmd) Run(globals *CLI, ctx context.Context) error {
	return globals.connect(ctx, func(m *session.Manager) error {
		return commands.EraseSlot(ctx, m, c.Yes)
	})
}

// --- Fetch Command ---

type FetchCmd struct {
	URL    string `name:"url" help:"https firmware URL (default: firmware-url setting)"`
	Link   string `help:"Shared link carrying a firmwareUrl parameter"`
	Output string `short:"o" help:"Also write the image to this file ('.' uses the served name)"`
}

func (c *FetchCmd) Run(globals *CLI, ctx context.Context) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}
	return env.Fetch(ctx, commands.ImageSource{URL: c.URL, Link: c.Link}, c.Output)
}

// --- Store Commands ---

type StoreCmd struct {
	List   StoreListCmd   `cmd:"" help:"List stored images"`
	Show   StoreShowCmd   `cmd:"" help:"Show image metadata"`
	Import StoreImportCmd `cmd:"" help:"Import an image file"`
	Export StoreExportCmd `cmd:"" help:"Export an image to a file"`
}

type StoreListCmd struct{}

func (c *StoreListCmd) Run(globals *CLI) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}
	s, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	entries, err := s.List()
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Store is empty")
		return nil
	}

	fmt.Printf("%-14s %-12s %-10s %-6s %s\n", "HASH", "VERSION", "SIZE", "VALID", "ADDED")
	for _, e := range entries {
		fmt.Printf("%-14s %-12s %-10s %-6v %s\n",
			store.ShortHash(e.Hash), e.Version, humanize.Bytes(uint64(e.FileSize)), e.HashValid, humanize.Time(e.CreatedAt))
	}
	fmt.Printf("\n%d image(s)\n", len(entries))
	return nil
}

type StoreShowCmd struct {
	Hash string `arg:"" help:"Image hash (full or short)"`
}

func (c *StoreShowCmd) Run(globals *CLI) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}
	s, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	meta, err := s.GetMetadata(c.Hash)
	if err != nil {
		return err
	}
	return commands.PrintValue(meta)
}

type StoreImportCmd struct {
	File string `arg:"" type:"existingfile" help:"MCUboot image file to import"`
}

func (c *StoreImportCmd) Run(globals *CLI) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	s, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	source := store.Source{
		Timestamp: time.Now(),
		Method:    "import",
		Filename:  c.File,
	}

	hash, isNew, err := s.Import(data, source)
	if err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}

	if isNew {
		fmt.Printf("Imported new image: %s\n", store.ShortHash(hash))
	} else {
		fmt.Printf("Image already exists: %s (added source)\n", store.ShortHash(hash))
	}

	meta, _ := s.GetMetadata(hash)
	if meta != nil {
		fmt.Printf("  Version: %s\n", meta.Version)
		fmt.Printf("  Size:    %s\n", humanize.Bytes(uint64(meta.FileSize)))
		if !meta.HashValid {
			fmt.Println("  Warning: image hash does not match its contents")
		}
	}

	return nil
}

type StoreExportCmd struct {
	Hash   string `arg:"" help:"Image hash (full or short)"`
	Output string `arg:"" help:"Output file path"`
}

func (c *StoreExportCmd) Run(globals *CLI) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}
	s, err := env.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := s.Export(c.Hash, c.Output); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}

	fmt.Printf("Exported to: %s\n", c.Output)
	return nil
}

// --- History Command ---

type HistoryCmd struct {
	Limit int    `short:"l" default:"20" help:"Number of entries to show (0 for all)"`
	Hash  string `help:"Only show uploads of this image hash (hex)"`
}

func (c *HistoryCmd) Run(globals *CLI, ctx context.Context) error {
	env, err := globals.env(os.Stderr)
	if err != nil {
		return err
	}
	return env.History(ctx, c.Limit, c.Hash)
}

// --- Debug Commands ---

type DebugCmd struct {
	ParseImage DebugParseImageCmd `cmd:"" name:"parse-image" help:"Parse an MCUboot image file (no device needed)"`
	Scan       DebugScanCmd       `cmd:"" help:"List advertising Bluetooth devices"`
}

type DebugParseImageCmd struct {
	File string `arg:"" type:"existingfile" help:"Image file to parse"`
}

func (c *DebugParseImageCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose
	return commands.ParseImage(c.File)
}

type DebugScanCmd struct {
	Duration time.Duration `short:"t" default:"10s" help:"How long to scan"`
}

func (c *DebugScanCmd) Run(globals *CLI, ctx context.Context) error {
	if _, err := globals.env(os.Stderr); err != nil {
		return err
	}
	return commands.Scan(ctx, c.Duration)
}

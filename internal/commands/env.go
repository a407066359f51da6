package commands

import (
	"context"
	"log/slog"

	"github.com/vitaminmoo/smp-tool/internal/ble"
	"github.com/vitaminmoo/smp-tool/internal/config"
	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/history"
	"github.com/vitaminmoo/smp-tool/internal/session"
	"github.com/vitaminmoo/smp-tool/internal/smp"
	"github.com/vitaminmoo/smp-tool/internal/store"
	"github.com/vitaminmoo/smp-tool/internal/upload"
)

// Env carries the loaded settings and the services built from them.
type Env struct {
	Settings *config.Settings
	Logger   *slog.Logger

	// Dialer overrides the Bluetooth dialer, mostly for tests.
	Dialer session.Dialer

	acquirer *firmware.Acquirer
}

// UploadOptions maps the upload settings onto controller options.
func (e *Env) UploadOptions() []upload.Option {
	s := e.Settings
	return []upload.Option{
		upload.WithLogger(e.Logger),
		upload.WithInitialChunkTimeout(s.ChunkTimeout),
		upload.WithMaxChunkTimeout(s.MaxChunkTimeout),
		upload.WithTimeoutMultiplier(s.TimeoutMultiplier),
		upload.WithMaxConsecutiveTimeouts(s.MaxConsecutiveTimeouts),
		upload.WithChunkOverhead(s.ChunkOverhead),
		upload.WithImageNumber(s.ImageNumber),
	}
}

// Acquirer returns the process-wide remote firmware acquirer.
func (e *Env) Acquirer() *firmware.Acquirer {
	if e.acquirer == nil {
		e.acquirer = firmware.NewAcquirer(
			firmware.WithAcquirerLogger(e.Logger),
			firmware.WithMaxImageSize(e.Settings.MaxImageSize),
		)
	}
	return e.acquirer
}

// OpenStore opens the firmware library.
func (e *Env) OpenStore() (*store.Store, error) {
	return store.Open(e.Settings.StorePath)
}

// OpenHistory opens the upload journal.
func (e *Env) OpenHistory() (*history.Journal, error) {
	return history.Open(e.Settings.HistoryPath, e.Logger)
}

func (e *Env) dialer() session.Dialer {
	if e.Dialer != nil {
		return e.Dialer
	}
	return session.DialFunc(func(ctx context.Context, prefix string) (session.Device, error) {
		dev, err := ble.Dial(ctx, prefix, e.Logger, smp.WithFrameSize(e.Settings.FrameSize))
		if err != nil {
			return nil, err
		}
		return dev, nil
	})
}

// NewManager builds a session manager from the settings. The returned
// cleanup disconnects and closes the upload journal.
func (e *Env) NewManager(handler session.EventHandler, extra ...session.Option) (*session.Manager, func()) {
	s := e.Settings
	opts := []session.Option{
		session.WithLogger(e.Logger),
		session.WithEventHandler(handler),
		session.WithConnectTimeout(s.ConnectTimeout),
		session.WithCommandTimeout(s.CommandTimeout),
		session.WithUploadOptions(e.UploadOptions()...),
		session.WithAutoTest(s.AutoTest),
	}
	if s.FirmwareURL != "" {
		opts = append(opts, session.WithRemoteFirmware(e.Acquirer(), s.FirmwareURL))
	}

	journal, err := e.OpenHistory()
	if err != nil {
		e.Logger.Warn("upload_history_unavailable", "error", err)
	} else {
		opts = append(opts, session.WithHistory(journal))
	}

	m := session.New(e.dialer(), append(opts, extra...)...)
	cleanup := func() {
		if err := m.Disconnect(); err != nil {
			e.Logger.Debug("disconnect_failed", "error", err)
		}
		if journal != nil {
			journal.Close()
		}
	}
	return m, cleanup
}

// Connect builds a manager and connects it to the configured device.
func (e *Env) Connect(ctx context.Context, handler session.EventHandler, extra ...session.Option) (*session.Manager, func(), error) {
	m, cleanup := e.NewManager(handler, extra...)
	if err := m.Connect(ctx, e.Settings.DevicePrefix); err != nil {
		cleanup()
		return nil, nil, err
	}
	return m, cleanup, nil
}

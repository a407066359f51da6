// Package session coordinates one device connection: its lifecycle,
// the serialized command queue, slot tracking, uploads and the
// automatic test that follows a successful upload.
package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/automation"
	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/history"
	"github.com/vitaminmoo/smp-tool/internal/slots"
	"github.com/vitaminmoo/smp-tool/internal/smp"
	"github.com/vitaminmoo/smp-tool/internal/upload"
)

// Manager owns the session with a single device.
type Manager struct {
	dialer         Dialer
	handler        EventHandler
	logger         *slog.Logger
	connectTimeout time.Duration
	commandTimeout time.Duration
	uploadOpts     []upload.Option
	autoTest       bool
	acquirer       *firmware.Acquirer
	firmwareURL    string
	history        Recorder
	parse          func([]byte) (*firmware.ImageInfo, error)

	// queue admits one device round trip at a time.
	queue   chan struct{}
	tracker *slots.Tracker
	tester  *automation.AutoTester

	mu         sync.Mutex
	state      State
	gen        uint64
	dev        Device
	ctrl       *upload.Controller
	cancelDial context.CancelFunc
	// uploading is claimed by UploadImage before the job starts.
	uploading bool
}

// New creates a disconnected Manager.
func New(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:         dialer,
		logger:         slog.Default(),
		connectTimeout: 30 * time.Second,
		commandTimeout: 10 * time.Second,
		autoTest:       true,
		parse:          firmware.ParseImage,
		queue:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tracker = slots.NewTracker(m.logger)
	m.tester = automation.New(m.logger)
	m.tester.OnTrigger(func(hash []byte) {
		m.emit(AutoTestTriggeredEvent{Hash: hash})
	})
	return m
}

func (m *Manager) emit(e Event) {
	if m.handler != nil {
		m.handler(e)
	}
}

// Phase returns the connection phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Phase
}

// Snapshot returns a copy of the session state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	s := m.state.clone()
	ctrl, uploading := m.ctrl, m.uploading
	m.mu.Unlock()
	s.AutoTestTarget = m.tester.Target()
	s.Uploading = uploading || (ctrl != nil && ctrl.Active())
	return s
}

// Connect dials the first device whose name starts with prefix, then
// queries its image state. A failed dial returns a *ConnectError and
// leaves the Manager disconnected; there is no automatic retry.
func (m *Manager) Connect(ctx context.Context, prefix string) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	m.mu.Lock()
	if m.state.Phase != Disconnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.gen++
	gen := m.gen
	m.state = State{Phase: Connecting}
	m.cancelDial = cancel
	m.mu.Unlock()

	m.logger.Info("device_connecting", "prefix", prefix)
	m.emit(ConnectingEvent{Prefix: prefix})

	dev, err := m.dialer.Dial(dialCtx, prefix)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			dev.Close()
		}
		return &ConnectError{Prefix: prefix, Err: errConnectAborted}
	}
	m.cancelDial = nil
	if err != nil {
		m.state = State{}
		m.mu.Unlock()
		cerr := &ConnectError{Prefix: prefix, Err: err}
		m.logger.Error("device_connect_failed", "prefix", prefix, "error", err)
		m.emit(DisconnectedEvent{Err: cerr})
		return cerr
	}
	m.dev = dev
	m.ctrl = upload.New(&queuedSender{m: m, dev: dev}, m.uploadOptions()...)
	m.state = State{Phase: Connected, DeviceName: dev.Name()}
	m.mu.Unlock()

	m.tracker.Reset()
	m.tester.Clear()
	go m.watch(gen, dev)

	m.logger.Info("device_connected", "name", dev.Name(), "max_payload", dev.MaxPayload())
	m.emit(ConnectedEvent{Name: dev.Name()})

	if m.acquirer != nil && m.firmwareURL != "" {
		go m.FetchFirmware(context.WithoutCancel(ctx))
	}
	if _, err := m.QueryImageState(ctx); err != nil {
		m.logger.Warn("initial_image_state_failed", "error", err)
	}
	return nil
}

// Disconnect closes the connection and discards the session state. A
// running upload is cancelled.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	return m.teardown(gen, nil)
}

func (m *Manager) watch(gen uint64, dev Device) {
	err := <-dev.Disconnected()
	m.teardown(gen, err)
}

// teardown ends connection generation gen. Later calls for the same
// generation are no-ops, so exactly one DisconnectedEvent is emitted.
func (m *Manager) teardown(gen uint64, reason error) error {
	m.mu.Lock()
	if gen != m.gen || m.state.Phase == Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	dev, ctrl, cancelDial := m.dev, m.ctrl, m.cancelDial
	m.dev, m.ctrl, m.cancelDial = nil, nil, nil
	m.state = State{}
	m.mu.Unlock()

	m.tracker.Reset()
	m.tester.Clear()
	if cancelDial != nil {
		cancelDial()
	}
	if ctrl != nil {
		ctrl.Cancel()
	}

	var err error
	if dev != nil {
		err = dev.Close()
	}
	if reason != nil {
		m.logger.Warn("device_disconnected", "error", reason)
	} else {
		m.logger.Info("device_disconnected")
	}
	m.emit(DisconnectedEvent{Err: reason})
	return err
}

func (m *Manager) connected() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != Connected || m.dev == nil {
		return nil, ErrNotConnected
	}
	return m.dev, nil
}

// idle is connected with no upload running. Commands that change slots
// or reboot the device require it.
func (m *Manager) idle() error {
	if _, err := m.connected(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploading {
		return upload.ErrUploadInProgress
	}
	return nil
}

// roundTrip sends one request while holding the command queue.
func (m *Manager) roundTrip(ctx context.Context, dev Device, timeout time.Duration, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error) {
	select {
	case m.queue <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.queue }()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return dev.SendCommand(ctx, op, group, id, payload)
}

// command runs a user-level command and publishes its response.
func (m *Manager) command(ctx context.Context, name string, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error) {
	dev, err := m.connected()
	if err != nil {
		return nil, err
	}
	resp, err := m.roundTrip(ctx, dev, m.commandTimeout, op, group, id, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m.emit(MessageEvent{Response: resp})
	if rc := resp.RC(); rc != 0 {
		return resp, &CommandError{Command: name, Code: rc}
	}
	return resp, nil
}

// Echo sends text to the device and returns its reply.
func (m *Manager) Echo(ctx context.Context, text string) (string, error) {
	resp, err := m.command(ctx, "echo", smp.OpWrite, smp.GroupOS, smp.OSEcho, map[string]any{"d": text})
	if err != nil {
		return "", err
	}
	return resp.String("r"), nil
}

// Reset reboots the device. The link usually drops shortly after.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.idle(); err != nil {
		return err
	}
	_, err := m.command(ctx, "reset", smp.OpWrite, smp.GroupOS, smp.OSReset, nil)
	return err
}

// TaskStats returns the device's per-task statistics keyed by task name.
func (m *Manager) TaskStats(ctx context.Context) (map[string]any, error) {
	resp, err := m.command(ctx, "task stats", smp.OpRead, smp.GroupOS, smp.OSTaskStat, nil)
	if err != nil {
		return nil, err
	}
	tasks, _ := resp.Data["tasks"].(map[string]any)
	return tasks, nil
}

// QueryImageState reads the slot list, publishes it, and lets the
// automatic test fire when the report matches its target.
func (m *Manager) QueryImageState(ctx context.Context) ([]slots.ImageSlot, error) {
	resp, err := m.command(ctx, "image state", smp.OpRead, smp.GroupImage, smp.ImageState, nil)
	if err != nil {
		return nil, err
	}
	list, err := m.applySlots(resp)
	if err != nil {
		return nil, err
	}
	if m.autoTest {
		if _, err := m.tester.OnSlotReport(ctx, list, m); err != nil {
			m.logger.Error("autotest_failed", "error", err)
		}
	}
	return list, nil
}

// applySlots replaces the tracked slots with those in resp. A malformed
// report clears every affordance.
func (m *Manager) applySlots(resp *smp.Response) ([]slots.ImageSlot, error) {
	raw, err := slots.Decode(resp.Data)
	var aff slots.Affordances
	if err == nil {
		aff, err = m.tracker.Update(raw)
	}
	if err != nil {
		m.logger.Error("slot_report_malformed", "error", err)
		m.tracker.Reset()
		aff = slots.Affordances{}
	}
	list := m.tracker.Slots()

	m.mu.Lock()
	if m.state.Phase == Connected {
		m.state.Slots = list
		m.state.Affordances = aff
	}
	m.mu.Unlock()

	m.emit(SlotsUpdatedEvent{Slots: list, Affordances: aff})
	if err != nil {
		return nil, fmt.Errorf("image state: %w", err)
	}
	return list, nil
}

// EraseSecondarySlot erases the standby slot and refreshes the slot list.
func (m *Manager) EraseSecondarySlot(ctx context.Context) error {
	if err := m.idle(); err != nil {
		return err
	}
	m.tester.Clear()
	if _, err := m.command(ctx, "image erase", smp.OpWrite, smp.GroupImage, smp.ImageErase, nil); err != nil {
		return err
	}
	_, err := m.QueryImageState(ctx)
	return err
}

// TestSlot marks the image with hash for a one-time trial boot. Only a
// non-active, non-pending slot not marked unbootable can be tested.
func (m *Manager) TestSlot(ctx context.Context, hash []byte) error {
	if err := m.idle(); err != nil {
		return err
	}
	s, ok := slots.FindInactive(m.tracker.Slots(), hash)
	if !ok || s.Pending || s.NotBootable() {
		return fmt.Errorf("%w: image %s is not testable", ErrNotPermitted, shortHash(hash))
	}
	m.tester.Clear()
	return m.setImageState(ctx, "image test", hash, false)
}

// ConfirmSlot makes the running image permanent. hash must be the
// active slot's hash and the slot must not be confirmed yet.
func (m *Manager) ConfirmSlot(ctx context.Context, hash []byte) error {
	if err := m.idle(); err != nil {
		return err
	}
	s, ok := m.tracker.Find(hash)
	if !ok || !s.Active || s.Confirmed {
		return fmt.Errorf("%w: image %s is not an unconfirmed active image", ErrNotPermitted, shortHash(hash))
	}
	m.tester.Clear()
	return m.setImageState(ctx, "image confirm", hash, true)
}

func (m *Manager) setImageState(ctx context.Context, name string, hash []byte, confirm bool) error {
	resp, err := m.command(ctx, name, smp.OpWrite, smp.GroupImage, smp.ImageState, map[string]any{
		"hash":    hash,
		"confirm": confirm,
	})
	if err != nil {
		return err
	}
	if _, ok := resp.Data["images"]; ok {
		if _, err := m.applySlots(resp); err != nil {
			return err
		}
	}
	return nil
}

// UploadImage validates image and transfers it to the device. The error
// is non-nil only when no transfer was started; the transfer outcome is
// reported in the Result and as exactly one terminal event.
func (m *Manager) UploadImage(ctx context.Context, image []byte) (*upload.Result, error) {
	info, err := m.parse(image)
	if err != nil {
		if !errors.Is(err, firmware.ErrInvalidImageFormat) {
			err = fmt.Errorf("%w: %v", firmware.ErrInvalidImageFormat, err)
		}
		return nil, err
	}

	m.mu.Lock()
	if m.state.Phase != Connected || m.ctrl == nil {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	ctrl, gen, name := m.ctrl, m.gen, m.state.DeviceName
	if m.uploading || ctrl.Active() {
		m.mu.Unlock()
		return nil, upload.ErrUploadInProgress
	}
	m.uploading = true
	prevHash := m.state.PendingUploadHash
	m.state.PendingUploadHash = bytes.Clone(info.Hash)
	m.mu.Unlock()

	m.logger.Info("image_upload_start",
		"version", info.Version,
		"hash", hex.EncodeToString(info.Hash),
		"bytes", len(image))

	sum := sha256.Sum256(image)
	started := time.Now()
	res, err := ctrl.Upload(ctx, image, sum[:])
	m.mu.Lock()
	m.uploading = false
	if err != nil && m.gen == gen {
		m.state.PendingUploadHash = prevHash
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.record(ctx, name, info, res, started)

	switch res.Outcome {
	case upload.Completed:
		m.emit(UploadFinishedEvent{Hash: info.Hash})
		if m.current(gen) {
			if m.autoTest {
				m.tester.OnUploadCompleted(info.Hash)
			}
			if _, err := m.QueryImageState(ctx); err != nil {
				m.logger.Warn("post_upload_image_state_failed", "error", err)
			}
		}
	case upload.Cancelled:
		m.emit(UploadCancelledEvent{})
	case upload.Failed:
		m.emit(UploadErrorEvent{
			Err:                 res.Err,
			ErrorCode:           res.ErrorCode,
			ConsecutiveTimeouts: res.ConsecutiveTimeouts,
			TotalTimeouts:       res.TotalTimeouts,
			Remedies:            Guidance(res.Err, m.tracker.Affordances()),
		})
	}
	return res, nil
}

// CancelUpload stops the running upload, if any.
func (m *Manager) CancelUpload() {
	m.mu.Lock()
	ctrl := m.ctrl
	m.mu.Unlock()
	if ctrl != nil {
		ctrl.Cancel()
	}
}

// FetchFirmware acquires the configured remote firmware and publishes
// the outcome. It works with or without a connection.
func (m *Manager) FetchFirmware(ctx context.Context) (*firmware.Entry, error) {
	if m.acquirer == nil || m.firmwareURL == "" {
		return nil, ErrNoRemoteFirmware
	}
	e, err := m.acquirer.Acquire(ctx, m.firmwareURL)
	if err != nil {
		m.logger.Error("remote_firmware_failed", "url", m.firmwareURL, "error", err)
		m.emit(FirmwareFailedEvent{URL: m.firmwareURL, Err: err})
		return nil, err
	}
	m.emit(FirmwareReadyEvent{Entry: e})
	return e, nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.state.Phase == Connected
}

func (m *Manager) uploadOptions() []upload.Option {
	opts := append([]upload.Option{upload.WithLogger(m.logger)}, m.uploadOpts...)
	return append(opts, upload.WithProgressCallback(func(p upload.Progress) {
		m.emit(UploadProgressEvent{
			Percentage:      p.Percentage,
			BytesSent:       p.BytesSent,
			TotalSize:       p.TotalSize,
			TimeoutAdjusted: p.TimeoutAdjusted,
			NewTimeout:      p.NewTimeout,
		})
	}))
}

func (m *Manager) record(ctx context.Context, device string, info *firmware.ImageInfo, res *upload.Result, started time.Time) {
	if m.history == nil {
		return
	}
	e := history.Entry{
		Device:        device,
		Hash:          hex.EncodeToString(info.Hash),
		Version:       info.Version,
		Outcome:       res.Outcome.String(),
		BytesSent:     res.BytesSent,
		TotalSize:     res.TotalSize,
		TotalTimeouts: res.TotalTimeouts,
		ErrorCode:     res.ErrorCode,
		StartedAt:     started,
		Duration:      res.Duration,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if err := m.history.Record(context.WithoutCancel(ctx), e); err != nil {
		m.logger.Error("upload_history_failed", "error", err)
	}
}

// queuedSender routes upload chunks through the command queue so user
// commands can only run between chunks.
type queuedSender struct {
	m   *Manager
	dev Device
}

func (s *queuedSender) SendCommand(ctx context.Context, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error) {
	return s.m.roundTrip(ctx, s.dev, 0, op, group, id, payload)
}

func (s *queuedSender) MaxPayload() int {
	return s.dev.MaxPayload()
}

func shortHash(hash []byte) string {
	s := hex.EncodeToString(hash)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

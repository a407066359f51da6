package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/history"
	"github.com/vitaminmoo/smp-tool/internal/upload"
)

// Recorder journals terminal upload results.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventHandler sets the event handler.
func WithEventHandler(h EventHandler) Option {
	return func(m *Manager) { m.handler = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithConnectTimeout bounds each connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithCommandTimeout bounds every non-upload command round trip.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.commandTimeout = d
		}
	}
}

// WithUploadOptions passes options to the upload controller of each connection.
func WithUploadOptions(opts ...upload.Option) Option {
	return func(m *Manager) { m.uploadOpts = append(m.uploadOpts, opts...) }
}

// WithAutoTest enables or disables the automatic test after upload. Default is on.
func WithAutoTest(enabled bool) Option {
	return func(m *Manager) { m.autoTest = enabled }
}

// WithRemoteFirmware makes the Manager fetch url with a as soon as a
// device connects.
func WithRemoteFirmware(a *firmware.Acquirer, url string) Option {
	return func(m *Manager) {
		m.acquirer = a
		m.firmwareURL = url
	}
}

// WithHistory journals every terminal upload result to r.
func WithHistory(r Recorder) Option {
	return func(m *Manager) { m.history = r }
}

// WithImageParser replaces the parser used to validate images before upload.
func WithImageParser(parse func([]byte) (*firmware.ImageInfo, error)) Option {
	return func(m *Manager) { m.parse = parse }
}

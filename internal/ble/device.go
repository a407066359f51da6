package ble

import (
	"context"
	"log/slog"

	"github.com/vitaminmoo/smp-tool/internal/smp"
)

// Device is a connected SMP peer.
type Device struct {
	link   *Link
	client *smp.Client
	disc   chan error
}

// Dial connects to the first device advertising a name that starts with
// prefix and starts an SMP client on it.
func Dial(ctx context.Context, prefix string, logger *slog.Logger, opts ...smp.ClientOption) (*Device, error) {
	link, err := Connect(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return NewDevice(link, logger, opts...), nil
}

// NewDevice wraps an open link.
func NewDevice(link *Link, logger *slog.Logger, opts ...smp.ClientOption) *Device {
	d := &Device{
		link:   link,
		client: smp.NewClient(link, logger, opts...),
		disc:   make(chan error, 1),
	}
	go func() {
		<-link.Done()
		d.disc <- link.Err()
		close(d.disc)
	}()
	return d
}

// Name returns the advertised device name.
func (d *Device) Name() string { return d.link.Name() }

// MaxPayload returns the SMP payload budget of one frame.
func (d *Device) MaxPayload() int { return d.client.MaxPayload() }

// SendCommand performs one SMP round trip.
func (d *Device) SendCommand(ctx context.Context, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error) {
	return d.client.SendCommand(ctx, op, group, id, payload)
}

// Disconnected yields the reason the link went down, then closes.
func (d *Device) Disconnected() <-chan error { return d.disc }

// Close drops the connection.
func (d *Device) Close() error { return d.link.Close() }

package session

import (
	"context"

	"github.com/vitaminmoo/smp-tool/internal/smp"
)

// Device is a connected SMP peer.
type Device interface {
	SendCommand(ctx context.Context, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error)
	MaxPayload() int
	// Disconnected delivers the reason the link went down (nil for a
	// local Close) and is then closed.
	Disconnected() <-chan error
	Name() string
	Close() error
}

// Dialer establishes device connections.
type Dialer interface {
	Dial(ctx context.Context, namePrefix string) (Device, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, namePrefix string) (Device, error)

func (f DialFunc) Dial(ctx context.Context, namePrefix string) (Device, error) {
	return f(ctx, namePrefix)
}

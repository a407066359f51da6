package ble

import (
	"fmt"
	"sync"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/config"
	"github.com/vitaminmoo/smp-tool/internal/util"
)

// Link is an SMP transport over one GATT characteristic.
type Link struct {
	name       string
	mtu        int
	write      func([]byte) (int, error)
	disconnect func() error

	writeMu sync.Mutex
	notify  chan []byte

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func newLink(name string, mtu int, write func([]byte) (int, error), disconnect func() error) *Link {
	return &Link{
		name:       name,
		mtu:        mtu,
		write:      write,
		disconnect: disconnect,
		notify:     make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Name returns the advertised name of the peer.
func (l *Link) Name() string { return l.name }

// MTU returns the negotiated ATT MTU.
func (l *Link) MTU() int { return l.mtu }

// Notifications delivers raw notification packets in arrival order.
func (l *Link) Notifications() <-chan []byte { return l.notify }

// Done is closed once the link is gone.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err reports why the link closed. It is nil for a local Close.
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Write sends p, split into MTU-sized packets.
func (l *Link) Write(p []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	parts := fragments(p, l.mtu-attOverhead)
	for i, part := range parts {
		select {
		case <-l.done:
			return ErrLinkLost
		default:
		}
		if i > 0 {
			time.Sleep(fragmentDelay)
		}
		config.Debugf("Writing fragment %d/%d (%d bytes)", i+1, len(parts), len(part))
		if _, err := l.write(part); err != nil {
			return fmt.Errorf("failed to write fragment %d: %w", i+1, err)
		}
	}
	return nil
}

// Close disconnects from the peer.
func (l *Link) Close() error {
	err := l.disconnect()
	l.closeWith(nil)
	return err
}

// deliver is the notification callback.
func (l *Link) deliver(buf []byte) {
	if config.Verbose {
		config.Debugf("Notification: %d bytes\n%s", len(buf), util.HexDump(buf))
	}
	pkt := make([]byte, len(buf))
	copy(pkt, buf)
	select {
	case l.notify <- pkt:
	case <-l.done:
	}
}

func (l *Link) closeWith(err error) {
	l.doneOnce.Do(func() {
		l.errMu.Lock()
		l.err = err
		l.errMu.Unlock()
		close(l.done)
	})
}

// fragments splits p into pieces of at most size bytes.
func fragments(p []byte, size int) [][]byte {
	if size <= 0 {
		size = defaultMTU - attOverhead
	}
	var out [][]byte
	for len(p) > size {
		out = append(out, p[:size])
		p = p[size:]
	}
	return append(out, p)
}

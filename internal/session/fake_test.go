package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/smp"
)

// fakeDevice simulates an MCUboot device behind an SMP link.
type fakeDevice struct {
	name       string
	maxPayload int

	// placeUpload puts the uploaded image into slot 1 once complete
	placeUpload bool
	uploadHash  []byte
	uploadRC    int

	// chunkGate, when set, holds every upload chunk until it is closed
	chunkGate  chan struct{}
	firstChunk chan struct{}
	chunkOnce  sync.Once

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu         sync.Mutex
	slots      []map[string]any
	received   bytes.Buffer
	uploadLen  int
	uploads    int
	stateReads int
	tested     [][]byte
	confirmed  [][]byte
	erased     int
	commands   int
	closed     bool

	disc     chan error
	discOnce sync.Once
}

func newFakeDevice(h0, h1 []byte) *fakeDevice {
	return &fakeDevice{
		name:        "Fieldy-test",
		maxPayload:  240,
		placeUpload: true,
		firstChunk:  make(chan struct{}),
		disc:        make(chan error, 1),
		slots: []map[string]any{
			{"image": 0, "slot": 0, "version": "1.0.0", "hash": h0, "active": true, "confirmed": true, "pending": false, "bootable": true},
			{"image": 0, "slot": 1, "version": "0.9.0", "hash": h1, "active": false, "confirmed": false, "pending": false, "bootable": true},
		},
	}
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) MaxPayload() int { return d.maxPayload }

func (d *fakeDevice) Disconnected() <-chan error { return d.disc }

func (d *fakeDevice) Close() error {
	d.drop(nil)
	return nil
}

// drop simulates the link going down.
func (d *fakeDevice) drop(err error) {
	d.discOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.disc <- err
		close(d.disc)
	})
}

func (d *fakeDevice) imagesLocked() []any {
	out := make([]any, 0, len(d.slots))
	for _, s := range d.slots {
		c := make(map[string]any, len(s))
		for k, v := range s {
			c[k] = v
		}
		out = append(out, c)
	}
	return out
}

func (d *fakeDevice) SendCommand(ctx context.Context, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		cur := d.maxInFlight.Load()
		if n <= cur || d.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	// Widen the window for overlapping requests to show up.
	time.Sleep(200 * time.Microsecond)

	d.mu.Lock()
	closed := d.closed
	d.commands++
	d.mu.Unlock()
	if closed {
		return nil, smp.ErrDisconnected
	}

	resp := &smp.Response{Op: op + 1, Group: group, ID: id, Data: map[string]any{}}

	switch {
	case group == smp.GroupOS && id == smp.OSEcho:
		resp.Data["r"] = payload["d"]

	case group == smp.GroupOS && id == smp.OSReset:

	case group == smp.GroupImage && id == smp.ImageState && op == smp.OpRead:
		d.mu.Lock()
		d.stateReads++
		resp.Data["images"] = d.imagesLocked()
		d.mu.Unlock()

	case group == smp.GroupImage && id == smp.ImageState && op == smp.OpWrite:
		hash, _ := payload["hash"].([]byte)
		confirm, _ := payload["confirm"].(bool)
		d.mu.Lock()
		for _, s := range d.slots {
			if !bytes.Equal(s["hash"].([]byte), hash) {
				continue
			}
			if confirm {
				s["confirmed"] = true
				d.confirmed = append(d.confirmed, hash)
			} else {
				s["pending"] = true
				d.tested = append(d.tested, hash)
			}
		}
		resp.Data["images"] = d.imagesLocked()
		d.mu.Unlock()

	case group == smp.GroupImage && id == smp.ImageErase:
		d.mu.Lock()
		d.erased++
		d.slots = d.slots[:1]
		d.mu.Unlock()

	case group == smp.GroupImage && id == smp.ImageUpload:
		return d.uploadChunk(ctx, payload)

	default:
		return nil, errors.New("unsupported command")
	}
	return resp, nil
}

func (d *fakeDevice) uploadChunk(ctx context.Context, payload map[string]any) (*smp.Response, error) {
	d.chunkOnce.Do(func() { close(d.firstChunk) })
	if d.chunkGate != nil {
		select {
		case <-d.chunkGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp := &smp.Response{Op: smp.OpWriteRsp, Group: smp.GroupImage, ID: smp.ImageUpload, Data: map[string]any{}}
	if d.uploadRC != 0 {
		resp.Data["rc"] = d.uploadRC
		return resp, nil
	}

	data := payload["data"].([]byte)
	off := payload["off"].(int)

	d.mu.Lock()
	defer d.mu.Unlock()
	if off == 0 {
		d.uploads++
		d.received.Reset()
	}
	d.received.Write(data)
	total := d.received.Len()
	resp.Data["rc"] = 0
	resp.Data["off"] = total

	if l, ok := payload["len"].(int); ok {
		d.uploadLen = l
	}
	if total == d.uploadLen && d.placeUpload {
		d.slots = append(d.slots[:1], map[string]any{
			"image": 0, "slot": 1, "version": "2.0.0", "hash": d.uploadHash,
			"active": false, "confirmed": false, "pending": false, "bootable": true,
		})
	}
	return resp, nil
}

func (d *fakeDevice) snapshot() (tested [][]byte, stateReads, uploads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.tested...), d.stateReads, d.uploads
}

func (d *fakeDevice) commandCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands
}

// eventLog collects session events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 1024)}
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	select {
	case l.ch <- e:
	default:
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// waitFor blocks until an event satisfying match arrives.
func (l *eventLog) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-l.ch:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func countEvents[T Event](l *eventLog) int {
	n := 0
	for _, e := range l.all() {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

func is[T Event](e Event) bool {
	_, ok := e.(T)
	return ok
}

// dialerFor returns a dialer that hands out dev.
func dialerFor(dev *fakeDevice) Dialer {
	return DialFunc(func(ctx context.Context, prefix string) (Device, error) {
		return dev, nil
	})
}

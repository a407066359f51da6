package smp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vitaminmoo/smp-tool/internal/config"
	"github.com/vitaminmoo/smp-tool/internal/util"
)

var (
	// ErrTimeout is returned when no response arrives before the deadline.
	ErrTimeout = errors.New("smp: response timeout")
	// ErrDisconnected is returned when the link drops while a command is in flight.
	ErrDisconnected = errors.New("smp: link disconnected")
)

const (
	// attOverhead is the ATT header cost of a GATT write.
	attOverhead = 3

	// DefaultFrameSize is the smallest SMP frame the client plans for.
	// Frames larger than one link write are fragmented by the link.
	DefaultFrameSize = 140
)

// Link is a packet transport able to carry SMP frames.
type Link interface {
	Write(p []byte) error
	Notifications() <-chan []byte
	Done() <-chan struct{}
	MTU() int
}

// Client sends SMP requests over a Link and matches responses by sequence number.
type Client struct {
	link   Link
	seq    Sequencer
	logger *slog.Logger

	frameSize int

	mu      sync.Mutex
	pending map[uint8]chan *Response
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFrameSize sets the minimum SMP frame size. Values that cannot hold
// a header are ignored.
func WithFrameSize(n int) ClientOption {
	return func(c *Client) {
		if n > HeaderSize {
			c.frameSize = n
		}
	}
}

// NewClient starts reading from link. The read loop ends when the link is done.
func NewClient(link Link, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		link:      link,
		logger:    logger,
		frameSize: DefaultFrameSize,
		pending:   make(map[uint8]chan *Response),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	var ra Reassembler
	for {
		select {
		case <-c.link.Done():
			return
		case frag, ok := <-c.link.Notifications():
			if !ok {
				return
			}
			config.Debugf("Notification received: %d bytes", len(frag))
			for _, frame := range ra.Feed(frag) {
				c.dispatch(frame)
			}
		}
	}
}

func (c *Client) dispatch(frame []byte) {
	resp, err := DecodeFrame(frame)
	if err != nil {
		c.logger.Warn("smp_frame_decode_failed", "bytes", len(frame), "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.Seq]
	if ok {
		delete(c.pending, resp.Seq)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("smp_unsolicited_frame", "group", resp.Group, "id", resp.ID, "seq", resp.Seq)
		return
	}
	ch <- resp
}

// MaxPayload returns the payload budget of one frame, excluding the SMP
// header. A frame fills one link write, or the frame size on small MTUs.
func (c *Client) MaxPayload() int {
	frame := c.link.MTU() - attOverhead
	if frame < c.frameSize {
		frame = c.frameSize
	}
	return frame - HeaderSize
}

// SendCommand writes one request and waits for its response.
// The wait is bounded by ctx; an expired deadline yields ErrTimeout.
func (c *Client) SendCommand(ctx context.Context, op uint8, group uint16, id uint8, payload map[string]any) (*Response, error) {
	select {
	case <-c.link.Done():
		return nil, ErrDisconnected
	default:
	}

	seq := c.seq.Next()
	frame, err := EncodeFrame(op, group, id, seq, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	config.Debugf("Writing %d bytes (group %d id %d seq %d)...", len(frame), group, id, seq)
	if config.Verbose {
		config.Debugf("\n%s", util.HexDump(frame))
	}
	if err := c.link.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.link.Done():
		return nil, ErrDisconnected
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (group %d id %d seq %d)", ErrTimeout, group, id, seq)
		}
		return nil, ctx.Err()
	}
}

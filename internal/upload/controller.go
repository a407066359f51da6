// Package upload transfers a firmware image to an SMP device in
// sequential, acknowledged chunks with an adaptive per-chunk timeout.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vitaminmoo/smp-tool/internal/smp"
)

// Sender issues one SMP request and waits for its response.
type Sender interface {
	SendCommand(ctx context.Context, op uint8, group uint16, id uint8, payload map[string]any) (*smp.Response, error)
	MaxPayload() int
}

// job is the transient state of one Upload call.
type job struct {
	image               []byte
	sha                 []byte
	totalSize           int
	bytesSent           int
	chunkTimeout        time.Duration
	consecutiveTimeouts int
	totalTimeouts       int
	stalls              int
	lastPercent         int
	cancelled           bool
	cancel              context.CancelFunc
}

// Controller runs at most one upload job at a time.
type Controller struct {
	sender Sender
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	job *job
}

// New creates a Controller sending through sender.
func New(sender Sender, opts ...Option) *Controller {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxChunkTimeout < cfg.InitialChunkTimeout {
		cfg.MaxChunkTimeout = cfg.InitialChunkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{sender: sender, cfg: cfg, logger: logger}
}

// Active reports whether a job is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil
}

// Cancel stops the running job before its next chunk and aborts the
// in-flight acknowledgment wait. It is a no-op without a job, when the
// job was already cancelled, or once the final chunk was acknowledged.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || c.job.cancelled {
		return
	}
	c.job.cancelled = true
	c.job.cancel()
	c.logger.Info("upload_cancel_requested", "bytes_sent", c.job.bytesSent)
}

// Upload sends image to the device and blocks until the job reaches a
// terminal state. sha is the image hash sent with the first chunk; it may
// be nil. The returned error is non-nil only when no job was started.
func (c *Controller) Upload(ctx context.Context, image, sha []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.job != nil {
		c.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	j := &job{
		image:     image,
		sha:       sha,
		totalSize: len(image),
		cancel:    cancel,
	}
	c.job = j
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.job = nil
		c.mu.Unlock()
	}()

	start := time.Now()
	c.logger.Info("upload_start", "bytes", j.totalSize, "max_payload", c.sender.MaxPayload())

	res := c.run(jobCtx, j)
	res.Duration = time.Since(start)

	attrs := []any{
		"outcome", res.Outcome.String(),
		"bytes_sent", res.BytesSent,
		"total_timeouts", res.TotalTimeouts,
		"duration", res.Duration,
	}
	if res.Err != nil {
		c.logger.Error("upload_finished", append(attrs, "error", res.Err, "rc", res.ErrorCode)...)
	} else {
		c.logger.Info("upload_finished", attrs...)
	}
	return res, nil
}

func (c *Controller) run(ctx context.Context, j *job) *Result {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialChunkTimeout
	bo.MaxInterval = c.cfg.MaxChunkTimeout
	bo.Multiplier = c.cfg.TimeoutMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	// The first interval is the initial timeout; each timeout moves to the next one.
	j.chunkTimeout = bo.NextBackOff()

	for j.bytesSent < j.totalSize {
		if ctx.Err() != nil {
			return c.result(j, Cancelled, nil, 0)
		}

		n, err := c.chunkLen(j)
		if err != nil {
			return c.result(j, Failed, err, 0)
		}
		off := j.bytesSent
		payload := c.chunkPayload(j, j.image[off:off+n])

		sendCtx, cancelSend := context.WithTimeout(ctx, j.chunkTimeout)
		resp, err := c.sender.SendCommand(sendCtx, smp.OpWrite, smp.GroupImage, smp.ImageUpload, payload)
		cancelSend()

		if err != nil {
			if ctx.Err() != nil {
				return c.result(j, Cancelled, nil, 0)
			}
			if !isTimeout(err) {
				return c.result(j, Failed, err, 0)
			}

			j.consecutiveTimeouts++
			j.totalTimeouts++
			if j.consecutiveTimeouts > c.cfg.MaxConsecutiveTimeouts {
				return c.result(j, Failed, fmt.Errorf("%w: %d timeouts at offset %d", ErrRetriesExhausted, j.consecutiveTimeouts, off), 0)
			}
			j.chunkTimeout = bo.NextBackOff()
			c.logger.Warn("upload_chunk_timeout",
				"offset", off,
				"consecutive", j.consecutiveTimeouts,
				"total", j.totalTimeouts,
				"new_timeout", j.chunkTimeout)
			c.emit(j, true)
			continue
		}

		if rc := resp.RC(); rc != 0 {
			return c.result(j, Failed, &DeviceError{Code: rc, Offset: off}, rc)
		}
		ack, ok := resp.Int("off")
		if !ok {
			return c.result(j, Failed, fmt.Errorf("upload response at offset %d has no offset", off), 0)
		}
		if ack < 0 || ack > j.totalSize {
			return c.result(j, Failed, &OffsetError{Offset: ack, Size: j.totalSize}, 0)
		}

		j.consecutiveTimeouts = 0
		if ack <= off {
			j.stalls++
			if j.stalls > c.cfg.MaxConsecutiveTimeouts {
				return c.result(j, Failed, fmt.Errorf("%w: stuck at offset %d", ErrUploadStalled, ack), 0)
			}
		} else {
			j.stalls = 0
		}
		j.bytesSent = ack
		c.emit(j, false)
	}

	return c.result(j, Completed, nil, 0)
}

// chunkPayload builds the upload request for the current offset. The
// first chunk also carries the image length, hash and image number.
func (c *Controller) chunkPayload(j *job, data []byte) map[string]any {
	p := map[string]any{
		"off":  j.bytesSent,
		"data": data,
	}
	if j.bytesSent == 0 {
		p["len"] = j.totalSize
		p["image"] = c.cfg.ImageNumber
		if len(j.sha) > 0 {
			p["sha"] = j.sha
		}
	}
	return p
}

// chunkLen returns how many image bytes fit in the next request.
func (c *Controller) chunkLen(j *job) (int, error) {
	base, err := smp.PayloadSize(c.chunkPayload(j, []byte{}))
	if err != nil {
		return 0, fmt.Errorf("failed to size chunk: %w", err)
	}
	n := c.sender.MaxPayload() - c.cfg.ChunkOverhead - base
	// The empty byte string above has a one byte header.
	n -= byteStringHeaderLen(n) - 1
	if n <= 0 {
		return 0, fmt.Errorf("%w: max payload %d", ErrPayloadTooSmall, c.sender.MaxPayload())
	}
	if rem := j.totalSize - j.bytesSent; n > rem {
		n = rem
	}
	return n, nil
}

func byteStringHeaderLen(n int) int {
	switch {
	case n < 24:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

func (c *Controller) emit(j *job, adjusted bool) {
	pct := percentage(j.bytesSent, j.totalSize)
	if !adjusted && pct == j.lastPercent && j.bytesSent != j.totalSize {
		return
	}
	j.lastPercent = pct
	if c.cfg.ProgressCallback == nil {
		return
	}
	p := Progress{
		Percentage:          pct,
		BytesSent:           j.bytesSent,
		TotalSize:           j.totalSize,
		ConsecutiveTimeouts: j.consecutiveTimeouts,
		TotalTimeouts:       j.totalTimeouts,
	}
	if adjusted {
		p.TimeoutAdjusted = true
		p.NewTimeout = j.chunkTimeout
	}
	c.cfg.ProgressCallback(p)
}

func (c *Controller) result(j *job, outcome Outcome, err error, code int) *Result {
	return &Result{
		Outcome:             outcome,
		BytesSent:           j.bytesSent,
		TotalSize:           j.totalSize,
		ConsecutiveTimeouts: j.consecutiveTimeouts,
		TotalTimeouts:       j.totalTimeouts,
		ChunkTimeout:        j.chunkTimeout,
		Err:                 err,
		ErrorCode:           code,
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, smp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

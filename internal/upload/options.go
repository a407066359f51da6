package upload

import (
	"log/slog"
	"time"
)

// Config holds the upload controller configuration.
type Config struct {
	// ProgressCallback is called after each acknowledged chunk and on
	// every timeout adjustment (optional)
	ProgressCallback ProgressCallback

	// Logger receives upload events (optional)
	Logger *slog.Logger

	// InitialChunkTimeout bounds the wait for the first chunk acknowledgment
	InitialChunkTimeout time.Duration

	// MaxChunkTimeout caps the adaptive chunk timeout
	MaxChunkTimeout time.Duration

	// TimeoutMultiplier grows the chunk timeout after each timeout
	TimeoutMultiplier float64

	// MaxConsecutiveTimeouts is the number of retries allowed for one chunk
	MaxConsecutiveTimeouts int

	// ChunkOverhead is an extra safety margin subtracted from each chunk
	ChunkOverhead int

	// ImageNumber selects the target image on multi-image devices
	ImageNumber int
}

func defaultConfig() Config {
	return Config{
		InitialChunkTimeout:    2 * time.Second,
		MaxChunkTimeout:        30 * time.Second,
		TimeoutMultiplier:      1.5,
		MaxConsecutiveTimeouts: 5,
	}
}

// Option is a functional option for configuring the Controller.
type Option func(*Config)

// WithProgressCallback sets a callback to track upload progress.
//
// Example:
//
//	ctrl := upload.New(sender,
//	    upload.WithProgressCallback(func(p upload.Progress) {
//	        fmt.Printf("%d%%\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithInitialChunkTimeout sets the starting chunk timeout.
func WithInitialChunkTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialChunkTimeout = d
		}
	}
}

// WithMaxChunkTimeout caps the adaptive chunk timeout.
func WithMaxChunkTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxChunkTimeout = d
		}
	}
}

// WithTimeoutMultiplier sets the growth factor applied after a timeout.
// Values not above 1 are ignored.
func WithTimeoutMultiplier(m float64) Option {
	return func(c *Config) {
		if m > 1 {
			c.TimeoutMultiplier = m
		}
	}
}

// WithMaxConsecutiveTimeouts sets how many times one chunk is retried.
//
// Example:
//
//	ctrl := upload.New(sender, upload.WithMaxConsecutiveTimeouts(10))
func WithMaxConsecutiveTimeouts(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxConsecutiveTimeouts = n
		}
	}
}

// WithChunkOverhead reserves n extra bytes in every chunk.
func WithChunkOverhead(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.ChunkOverhead = n
		}
	}
}

// WithImageNumber targets image n on multi-image devices.
func WithImageNumber(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.ImageNumber = n
		}
	}
}

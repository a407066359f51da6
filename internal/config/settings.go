package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all application configuration
type Settings struct {
	// Device discovery
	DevicePrefix   string        `mapstructure:"device-prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	CommandTimeout time.Duration `mapstructure:"command-timeout"`

	// Upload tuning
	ChunkTimeout           time.Duration `mapstructure:"chunk-timeout"`
	MaxChunkTimeout        time.Duration `mapstructure:"max-chunk-timeout"`
	TimeoutMultiplier      float64       `mapstructure:"timeout-multiplier"`
	MaxConsecutiveTimeouts int           `mapstructure:"max-consecutive-timeouts"`
	ChunkOverhead          int           `mapstructure:"chunk-overhead"`
	FrameSize              int           `mapstructure:"frame-size"`
	ImageNumber            int           `mapstructure:"image-number"`
	AutoTest               bool          `mapstructure:"auto-test"`

	// Remote firmware
	FirmwareURL  string `mapstructure:"firmware-url"`
	MaxImageSize int64  `mapstructure:"max-image-size"`

	// Local state
	StorePath   string `mapstructure:"store-path"`
	HistoryPath string `mapstructure:"history-path"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`
}

// DefaultDir returns the per-user state directory (~/.smp-tool).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smp-tool"
	}
	return filepath.Join(home, ".smp-tool")
}

// Load reads configuration from environment, config file, and defaults.
// An explicit path takes precedence over the search path.
func Load(path string) (*Settings, error) {
	v := viper.New()

	dir := DefaultDir()
	v.SetDefault("device-prefix", "Fieldy")
	v.SetDefault("connect-timeout", 30*time.Second)
	v.SetDefault("command-timeout", 10*time.Second)
	v.SetDefault("chunk-timeout", 2*time.Second)
	v.SetDefault("max-chunk-timeout", 30*time.Second)
	v.SetDefault("timeout-multiplier", 1.5)
	v.SetDefault("max-consecutive-timeouts", 5)
	v.SetDefault("chunk-overhead", 0)
	v.SetDefault("frame-size", 140)
	v.SetDefault("image-number", 0)
	v.SetDefault("auto-test", true)
	v.SetDefault("firmware-url", "")
	v.SetDefault("max-image-size", 16*1024*1024)
	v.SetDefault("store-path", filepath.Join(dir, "store"))
	v.SetDefault("history-path", filepath.Join(dir, "history.db"))
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("log-file", "")

	// Environment variables (SMP_DEVICE_PREFIX, SMP_CHUNK_TIMEOUT, ...)
	v.SetEnvPrefix("SMP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dir)
		// Config file is optional
		_ = v.ReadInConfig()
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &s, nil
}

// Validate checks configuration for errors
func (s *Settings) Validate() error {
	if s.ChunkTimeout <= 0 {
		return fmt.Errorf("chunk-timeout must be positive")
	}
	if s.MaxChunkTimeout < s.ChunkTimeout {
		return fmt.Errorf("max-chunk-timeout must be at least chunk-timeout")
	}
	if s.TimeoutMultiplier < 1 {
		return fmt.Errorf("timeout-multiplier must be >= 1")
	}
	if s.MaxConsecutiveTimeouts < 0 {
		return fmt.Errorf("max-consecutive-timeouts must be non-negative")
	}
	if s.ChunkOverhead < 0 {
		return fmt.Errorf("chunk-overhead must be non-negative")
	}
	if s.FrameSize < 64 {
		return fmt.Errorf("frame-size must be at least 64")
	}
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("command-timeout must be positive")
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive")
	}
	if s.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json")
	}
	return nil
}

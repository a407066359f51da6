package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vitaminmoo/smp-tool/internal/logger"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", home)
	t.Cleanup(func() { logger.Setup(os.Stderr, "text") })
	return home
}

func TestEnv_TUIDefaultsToLogFile(t *testing.T) {
	home := isolate(t)
	c := &CLI{tuiMode: true}
	defer c.Close()

	env, err := c.env(os.Stderr)
	if err != nil {
		t.Fatalf("env() error = %v", err)
	}
	want := filepath.Join(home, ".smp-tool", defaultTUILog)
	if env.Settings.LogFile != want {
		t.Errorf("LogFile = %q, want %q", env.Settings.LogFile, want)
	}

	env.Logger.Error("upload_failed", "error", "link lost")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestEnv_LogFileFlag(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	c := &CLI{LogFile: path}

	if _, err := c.env(os.Stderr); err != nil {
		t.Fatalf("env() error = %v", err)
	}
	if c.logFile == nil || c.logFile.Name() != path {
		t.Fatalf("log file = %v, want %s", c.logFile, path)
	}
	f := c.logFile
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := f.Write([]byte("x")); err == nil {
		t.Error("log file still open after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEnv_NoLogFileOutsideTUI(t *testing.T) {
	isolate(t)
	c := &CLI{}
	env, err := c.env(os.Stderr)
	if err != nil {
		t.Fatalf("env() error = %v", err)
	}
	if env.Settings.LogFile != "" || c.logFile != nil {
		t.Errorf("LogFile = %q, want none", env.Settings.LogFile)
	}
}

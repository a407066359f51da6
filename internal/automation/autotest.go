// Package automation marks a freshly uploaded image for test once the
// device reports it in a slot.
package automation

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vitaminmoo/smp-tool/internal/slots"
)

// Commander issues the image commands the automatic test needs.
type Commander interface {
	TestSlot(ctx context.Context, hash []byte) error
	QueryImageState(ctx context.Context) ([]slots.ImageSlot, error)
}

// AutoTester remembers the hash of the last uploaded image and triggers
// the test command exactly once when a slot report shows that image in a
// non-pending slot. A target that never shows up is kept until Clear or
// the next upload replaces it; no error is raised.
type AutoTester struct {
	logger    *slog.Logger
	onTrigger func(hash []byte)

	mu     sync.Mutex
	target []byte
}

// New returns an AutoTester with no target.
func New(logger *slog.Logger) *AutoTester {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoTester{logger: logger}
}

// OnTrigger registers fn to run right before the automatic test command.
func (a *AutoTester) OnTrigger(fn func(hash []byte)) {
	a.onTrigger = fn
}

// OnUploadCompleted arms the tester for hash.
func (a *AutoTester) OnUploadCompleted(hash []byte) {
	if len(hash) == 0 {
		return
	}
	a.mu.Lock()
	a.target = bytes.Clone(hash)
	a.mu.Unlock()
	a.logger.Info("autotest_armed", "hash", hex.EncodeToString(hash))
}

// Target returns the armed hash or nil.
func (a *AutoTester) Target() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return bytes.Clone(a.target)
}

// Clear disarms the tester.
func (a *AutoTester) Clear() {
	a.mu.Lock()
	cleared := a.target != nil
	a.target = nil
	a.mu.Unlock()
	if cleared {
		a.logger.Debug("autotest_cleared")
	}
}

// Match reports the hash to test when list holds the target in a slot
// that is neither active nor pending. A match disarms the tester.
func (a *AutoTester) Match(list []slots.ImageSlot) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.target == nil {
		return nil, false
	}
	s, ok := slots.FindInactive(list, a.target)
	if !ok || s.Pending {
		return nil, false
	}
	hash := a.target
	a.target = nil
	return hash, true
}

// OnSlotReport tests the target slot and re-queries state when list
// matches. It returns true when the test command was issued.
func (a *AutoTester) OnSlotReport(ctx context.Context, list []slots.ImageSlot, cmd Commander) (bool, error) {
	hash, ok := a.Match(list)
	if !ok {
		return false, nil
	}

	a.logger.Info("autotest_triggered", "hash", hex.EncodeToString(hash))
	if a.onTrigger != nil {
		a.onTrigger(hash)
	}
	if err := cmd.TestSlot(ctx, hash); err != nil {
		return true, fmt.Errorf("automatic test failed: %w", err)
	}
	if _, err := cmd.QueryImageState(ctx); err != nil {
		return true, fmt.Errorf("failed to refresh image state after test: %w", err)
	}
	return true, nil
}

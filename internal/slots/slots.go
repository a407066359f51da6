// Package slots tracks the per-slot boot state reported by an MCUboot device
// and derives which image commands are currently safe to issue.
package slots

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/vitaminmoo/smp-tool/internal/smp"
)

// ErrMalformedSlotReport is returned when a slot report is absent or not a list.
var ErrMalformedSlotReport = errors.New("malformed slot report")

// ImageSlot is one firmware slot as reported by the device.
type ImageSlot struct {
	Image     int    `json:"image"`
	Slot      int    `json:"slot"`
	Version   string `json:"version"`
	Hash      []byte `json:"hash"`
	Active    bool   `json:"active"`
	Confirmed bool   `json:"confirmed"`
	Pending   bool   `json:"pending"`
	Permanent bool   `json:"permanent"`
	// Bootable is nil when the device did not report it.
	Bootable *bool `json:"bootable,omitempty"`
}

// HashString returns the lowercase hex form of the slot hash.
func (s ImageSlot) HashString() string {
	return hex.EncodeToString(s.Hash)
}

// NotBootable reports whether the device explicitly marked the slot unbootable.
func (s ImageSlot) NotBootable() bool {
	return s.Bootable != nil && !*s.Bootable
}

// Affordances lists the image commands the current slot state permits.
type Affordances struct {
	CanTest     bool
	CanReset    bool
	CanConfirm  bool
	TestHash    []byte
	ConfirmHash []byte

	// Rejected counts slots dropped from the last report for lacking a hash.
	Rejected int
	// MultiplePending is set when the device reported more than one pending slot.
	MultiplePending bool
}

// Derive computes affordances for a slot list.
func Derive(list []ImageSlot) Affordances {
	var a Affordances
	pending := 0
	for _, s := range list {
		if s.Pending {
			pending++
		}
		if s.Active {
			if !s.Confirmed && !a.CanConfirm {
				a.CanConfirm = true
				a.ConfirmHash = s.Hash
			}
			continue
		}
		if s.Pending {
			a.CanReset = true
			continue
		}
		if !s.NotBootable() && !a.CanTest {
			a.CanTest = true
			a.TestHash = s.Hash
		}
	}
	a.MultiplePending = pending > 1
	return a
}

// Tracker holds the most recent slot report. It is safe for concurrent use.
type Tracker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	slots       []ImageSlot
	affordances Affordances
}

// NewTracker returns an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Update replaces the tracked slots with raw and returns the derived affordances.
// Slots without a hash are dropped. A nil report is malformed; an empty one
// is valid and clears every affordance.
func (t *Tracker) Update(raw []ImageSlot) (Affordances, error) {
	if raw == nil {
		return Affordances{}, ErrMalformedSlotReport
	}

	accepted := make([]ImageSlot, 0, len(raw))
	rejected := 0
	for i, s := range raw {
		if len(s.Hash) == 0 {
			t.logger.Warn("slot_missing_hash", "index", i, "slot", s.Slot)
			rejected++
			continue
		}
		accepted = append(accepted, s)
	}

	a := Derive(accepted)
	a.Rejected = rejected
	if a.MultiplePending {
		t.logger.Warn("slot_report_multiple_pending")
	}

	t.mu.Lock()
	t.slots = accepted
	t.affordances = a
	t.mu.Unlock()

	t.logger.Debug("slot_report_applied",
		"slots", len(accepted),
		"rejected", rejected,
		"can_test", a.CanTest,
		"can_reset", a.CanReset,
		"can_confirm", a.CanConfirm)
	return a, nil
}

// Slots returns a copy of the tracked slots.
func (t *Tracker) Slots() []ImageSlot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ImageSlot, len(t.slots))
	copy(out, t.slots)
	return out
}

// Affordances returns the affordances derived from the last report.
func (t *Tracker) Affordances() Affordances {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.affordances
}

// Find returns the tracked slot whose hash equals hash.
func (t *Tracker) Find(hash []byte) (ImageSlot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Find(t.slots, hash)
}

// Reset forgets all tracked state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.slots = nil
	t.affordances = Affordances{}
	t.mu.Unlock()
}

// Find returns the slot in list whose hash equals hash.
func Find(list []ImageSlot, hash []byte) (ImageSlot, bool) {
	if len(hash) == 0 {
		return ImageSlot{}, false
	}
	for _, s := range list {
		if bytes.Equal(s.Hash, hash) {
			return s, true
		}
	}
	return ImageSlot{}, false
}

// FindInactive returns the first non-active slot holding hash. An image
// identical to the running one also shows up in the active slot.
func FindInactive(list []ImageSlot, hash []byte) (ImageSlot, bool) {
	if len(hash) == 0 {
		return ImageSlot{}, false
	}
	for _, s := range list {
		if !s.Active && bytes.Equal(s.Hash, hash) {
			return s, true
		}
	}
	return ImageSlot{}, false
}

// Decode extracts the slot list from an image state response payload.
func Decode(data map[string]any) ([]ImageSlot, error) {
	if data == nil {
		return nil, ErrMalformedSlotReport
	}
	raw, ok := data["images"]
	if !ok || raw == nil {
		return nil, ErrMalformedSlotReport
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, ErrMalformedSlotReport
	}

	out := make([]ImageSlot, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var s ImageSlot
		s.Image, _ = smp.AsInt(m["image"])
		s.Slot, _ = smp.AsInt(m["slot"])
		s.Version, _ = m["version"].(string)
		s.Hash, _ = m["hash"].([]byte)
		s.Active, _ = smp.AsBool(m["active"])
		s.Confirmed, _ = smp.AsBool(m["confirmed"])
		s.Pending, _ = smp.AsBool(m["pending"])
		s.Permanent, _ = smp.AsBool(m["permanent"])
		if b, ok := smp.AsBool(m["bootable"]); ok {
			s.Bootable = &b
		}
		out = append(out, s)
	}
	return out, nil
}

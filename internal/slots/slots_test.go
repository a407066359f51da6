package slots

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vitaminmoo/smp-tool/internal/logger"
)

var (
	h0 = []byte{0x00, 0x01, 0x02, 0x03}
	h1 = []byte{0x10, 0x11, 0x12, 0x13}
)

func boolPtr(b bool) *bool { return &b }

func TestUpdateAffordances(t *testing.T) {
	tests := []struct {
		name        string
		slots       []ImageSlot
		wantTest    bool
		wantReset   bool
		wantConfirm bool
		wantTestH   []byte
		wantConfH   []byte
	}{
		{
			name: "confirmed primary with idle secondary",
			slots: []ImageSlot{
				{Slot: 0, Active: true, Confirmed: true, Hash: h0},
				{Slot: 1, Hash: h1},
			},
			wantTest:  true,
			wantTestH: h1,
		},
		{
			name: "secondary pending",
			slots: []ImageSlot{
				{Slot: 0, Active: true, Confirmed: true, Hash: h0},
				{Slot: 1, Pending: true, Hash: h1},
			},
			wantReset: true,
		},
		{
			name: "running unconfirmed test image",
			slots: []ImageSlot{
				{Slot: 0, Active: true, Hash: h1},
				{Slot: 1, Confirmed: true, Hash: h0},
			},
			wantTest:    true,
			wantTestH:   h0,
			wantConfirm: true,
			wantConfH:   h1,
		},
		{
			name: "secondary explicitly not bootable",
			slots: []ImageSlot{
				{Slot: 0, Active: true, Confirmed: true, Hash: h0},
				{Slot: 1, Hash: h1, Bootable: boolPtr(false)},
			},
		},
		{
			name: "secondary bootable unknown is testable",
			slots: []ImageSlot{
				{Slot: 0, Active: true, Confirmed: true, Hash: h0},
				{Slot: 1, Hash: h1, Bootable: nil},
			},
			wantTest:  true,
			wantTestH: h1,
		},
		{
			name:  "empty list",
			slots: []ImageSlot{},
		},
		{
			name: "only active slot",
			slots: []ImageSlot{
				{Slot: 0, Active: true, Confirmed: true, Hash: h0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(logger.Discard())
			a, err := tr.Update(tt.slots)
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if a.CanTest != tt.wantTest {
				t.Errorf("CanTest = %v, want %v", a.CanTest, tt.wantTest)
			}
			if a.CanReset != tt.wantReset {
				t.Errorf("CanReset = %v, want %v", a.CanReset, tt.wantReset)
			}
			if a.CanConfirm != tt.wantConfirm {
				t.Errorf("CanConfirm = %v, want %v", a.CanConfirm, tt.wantConfirm)
			}
			if !bytes.Equal(a.TestHash, tt.wantTestH) {
				t.Errorf("TestHash = %x, want %x", a.TestHash, tt.wantTestH)
			}
			if !bytes.Equal(a.ConfirmHash, tt.wantConfH) {
				t.Errorf("ConfirmHash = %x, want %x", a.ConfirmHash, tt.wantConfH)
			}
		})
	}
}

func TestUpdateRejectsMissingHash(t *testing.T) {
	tr := NewTracker(logger.Discard())
	a, err := tr.Update([]ImageSlot{
		{Slot: 0, Active: true, Confirmed: true, Hash: h0},
		{Slot: 1},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if a.CanTest {
		t.Error("slot without hash must not be testable")
	}
	if a.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", a.Rejected)
	}
	if got := len(tr.Slots()); got != 1 {
		t.Errorf("tracked %d slots, want 1", got)
	}
}

func TestUpdateNilIsMalformed(t *testing.T) {
	tr := NewTracker(logger.Discard())
	if _, err := tr.Update([]ImageSlot{{Slot: 0, Active: true, Hash: h0}}); err != nil {
		t.Fatal(err)
	}
	_, err := tr.Update(nil)
	if !errors.Is(err, ErrMalformedSlotReport) {
		t.Fatalf("Update(nil) error = %v, want ErrMalformedSlotReport", err)
	}
	// The previous report stays in place.
	if got := len(tr.Slots()); got != 1 {
		t.Errorf("tracked %d slots after malformed update, want 1", got)
	}
}

func TestUpdateReplacesWholesale(t *testing.T) {
	tr := NewTracker(logger.Discard())
	tr.Update([]ImageSlot{
		{Slot: 0, Active: true, Hash: h0},
		{Slot: 1, Pending: true, Hash: h1},
	})
	a, _ := tr.Update([]ImageSlot{{Slot: 0, Active: true, Confirmed: true, Hash: h1}})
	if a.CanReset {
		t.Error("CanReset carried over from previous report")
	}
	if _, ok := tr.Find(h0); ok {
		t.Error("stale slot still tracked")
	}
}

func TestNoFabricatedPending(t *testing.T) {
	tr := NewTracker(logger.Discard())
	a, _ := tr.Update([]ImageSlot{
		{Slot: 0, Active: true, Confirmed: true, Hash: h0},
		{Slot: 1, Pending: true, Hash: h1},
	})
	if a.MultiplePending {
		t.Error("MultiplePending set for a single pending slot")
	}
	pending := 0
	for _, s := range tr.Slots() {
		if s.Pending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("tracked %d pending slots, want 1", pending)
	}

	a, _ = tr.Update([]ImageSlot{
		{Slot: 0, Pending: true, Hash: h0},
		{Slot: 1, Pending: true, Hash: h1},
	})
	if !a.MultiplePending {
		t.Error("MultiplePending not flagged for an inconsistent report")
	}
}

func TestDecode(t *testing.T) {
	data := map[string]any{
		"images": []any{
			map[string]any{
				"slot":      uint64(0),
				"version":   "1.2.3",
				"hash":      h0,
				"active":    true,
				"confirmed": true,
				"pending":   false,
				"bootable":  true,
			},
			map[string]any{
				"image":   uint64(0),
				"slot":    uint64(1),
				"version": "1.3.0",
				"hash":    h1,
			},
			"garbage",
		},
		"splitStatus": uint64(0),
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Decode() returned %d slots, want 2", len(got))
	}
	if got[0].Version != "1.2.3" || !got[0].Active || !got[0].Confirmed {
		t.Errorf("slot 0 = %+v", got[0])
	}
	if got[0].Bootable == nil || !*got[0].Bootable {
		t.Errorf("slot 0 bootable = %v, want true", got[0].Bootable)
	}
	if got[1].Slot != 1 || got[1].Bootable != nil {
		t.Errorf("slot 1 = %+v", got[1])
	}
	if got[1].HashString() != "10111213" {
		t.Errorf("HashString() = %s", got[1].HashString())
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil data", nil},
		{"missing images", map[string]any{"rc": uint64(0)}},
		{"images not a list", map[string]any{"images": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, ErrMalformedSlotReport) {
				t.Errorf("Decode() error = %v, want ErrMalformedSlotReport", err)
			}
		})
	}
}

func TestFindInactive(t *testing.T) {
	h := bytes.Repeat([]byte{0x42}, 32)
	list := []ImageSlot{
		{Slot: 0, Hash: h, Active: true},
		{Slot: 1, Hash: h},
	}
	if s, ok := FindInactive(list, h); !ok || s.Slot != 1 {
		t.Errorf("FindInactive() = %+v, %v; want slot 1", s, ok)
	}
	if _, ok := FindInactive(list[:1], h); ok {
		t.Error("FindInactive() matched the active slot")
	}
	if _, ok := FindInactive(list, nil); ok {
		t.Error("FindInactive() matched an empty hash")
	}
}

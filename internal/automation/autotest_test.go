package automation

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/vitaminmoo/smp-tool/internal/logger"
	"github.com/vitaminmoo/smp-tool/internal/slots"
)

type mockCommander struct {
	tested  [][]byte
	queries int
	testErr error
}

func (m *mockCommander) TestSlot(ctx context.Context, hash []byte) error {
	m.tested = append(m.tested, hash)
	return m.testErr
}

func (m *mockCommander) QueryImageState(ctx context.Context) ([]slots.ImageSlot, error) {
	m.queries++
	return nil, nil
}

var (
	h0 = bytes.Repeat([]byte{0x01}, 32)
	hx = bytes.Repeat([]byte{0xEE}, 32)
)

func report(secondary []byte, pending bool) []slots.ImageSlot {
	return []slots.ImageSlot{
		{Slot: 0, Hash: h0, Active: true, Confirmed: true},
		{Slot: 1, Hash: secondary, Pending: pending},
	}
}

func TestOnSlotReportTriggersExactlyOnce(t *testing.T) {
	a := New(logger.Discard())
	cmd := &mockCommander{}
	var hooked [][]byte
	a.OnTrigger(func(hash []byte) {
		if len(cmd.tested) != 0 {
			t.Error("hook ran after the test command")
		}
		hooked = append(hooked, hash)
	})
	a.OnUploadCompleted(hx)

	fired, err := a.OnSlotReport(context.Background(), report(hx, false), cmd)
	if err != nil || !fired {
		t.Fatalf("OnSlotReport() = %v, %v; want true, nil", fired, err)
	}
	if len(cmd.tested) != 1 || !bytes.Equal(cmd.tested[0], hx) {
		t.Fatalf("tested = %x, want [%x]", cmd.tested, hx)
	}
	if cmd.queries != 1 {
		t.Errorf("queries = %d, want 1", cmd.queries)
	}
	if len(hooked) != 1 {
		t.Errorf("trigger hook ran %d times, want 1", len(hooked))
	}

	// A later report with the same hash must not trigger again.
	fired, _ = a.OnSlotReport(context.Background(), report(hx, false), cmd)
	if fired || len(cmd.tested) != 1 {
		t.Errorf("second report fired = %v, tests = %d", fired, len(cmd.tested))
	}
	if a.Target() != nil {
		t.Error("target still armed after trigger")
	}
}

func TestOnSlotReportNoMatch(t *testing.T) {
	tests := []struct {
		name  string
		slots []slots.ImageSlot
	}{
		{"hash absent", report(bytes.Repeat([]byte{0x02}, 32), false)},
		{"already pending", report(hx, true)},
		{"empty report", []slots.ImageSlot{}},
		{"only the active slot holds it", []slots.ImageSlot{{Slot: 0, Hash: hx, Active: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(logger.Discard())
			cmd := &mockCommander{}
			a.OnUploadCompleted(hx)

			fired, err := a.OnSlotReport(context.Background(), tt.slots, cmd)
			if fired || err != nil {
				t.Errorf("OnSlotReport() = %v, %v; want false, nil", fired, err)
			}
			if len(cmd.tested) != 0 {
				t.Error("test command issued without a match")
			}
			if !bytes.Equal(a.Target(), hx) {
				t.Error("target disarmed without a match")
			}
		})
	}
}

func TestClearCancelsTrigger(t *testing.T) {
	a := New(logger.Discard())
	cmd := &mockCommander{}
	a.OnUploadCompleted(hx)
	a.Clear()

	if fired, _ := a.OnSlotReport(context.Background(), report(hx, false), cmd); fired {
		t.Error("cleared target still fired")
	}
}

func TestNotArmed(t *testing.T) {
	a := New(logger.Discard())
	a.OnUploadCompleted(nil)
	if _, ok := a.Match(report(hx, false)); ok {
		t.Error("Match() succeeded with no target")
	}
}

func TestOnSlotReportTestError(t *testing.T) {
	a := New(logger.Discard())
	boom := errors.New("boom")
	cmd := &mockCommander{testErr: boom}
	a.OnUploadCompleted(hx)

	fired, err := a.OnSlotReport(context.Background(), report(hx, false), cmd)
	if !fired || !errors.Is(err, boom) {
		t.Errorf("OnSlotReport() = %v, %v; want true, boom", fired, err)
	}
	if cmd.queries != 0 {
		t.Error("state re-queried after a failed test")
	}
	if a.Target() != nil {
		t.Error("failed automatic test re-armed the target")
	}
}

func TestOnSlotReportSkipsActiveCopy(t *testing.T) {
	a := New(logger.Discard())
	cmd := &mockCommander{}
	a.OnUploadCompleted(h0)

	// The uploaded image equals the running one, so both slots carry h0.
	fired, err := a.OnSlotReport(context.Background(), report(h0, false), cmd)
	if err != nil || !fired {
		t.Fatalf("OnSlotReport() = %v, %v; want true, nil", fired, err)
	}
	if len(cmd.tested) != 1 || !bytes.Equal(cmd.tested[0], h0) {
		t.Errorf("tested = %x, want [%x]", cmd.tested, h0)
	}
}

package session

import (
	"errors"

	"github.com/vitaminmoo/smp-tool/internal/slots"
	"github.com/vitaminmoo/smp-tool/internal/upload"
)

// Remedy is a suggested user action after a failed upload.
type Remedy int

const (
	// EraseSlot clears the secondary slot.
	EraseSlot Remedy = iota + 1
	// TestPending tests the staged image or resets into the pending one.
	TestPending
	// ConfirmActive makes the running image permanent.
	ConfirmActive
	// CheckSlots reviews the reported slot states.
	CheckSlots
	// CheckRange checks the device is still connected and in range.
	CheckRange
	// Reconnect drops and re-establishes the connection.
	Reconnect
	// PowerCycle restarts the device.
	PowerCycle
	// SmallerImage retries with a smaller image.
	SmallerImage
)

func (r Remedy) String() string {
	switch r {
	case EraseSlot:
		return "erase-slot"
	case TestPending:
		return "test-pending"
	case ConfirmActive:
		return "confirm-active"
	case CheckSlots:
		return "check-slots"
	case CheckRange:
		return "check-range"
	case Reconnect:
		return "reconnect"
	case PowerCycle:
		return "power-cycle"
	case SmallerImage:
		return "smaller-image"
	default:
		return "unknown"
	}
}

// Guidance returns remedies for an upload failure. A busy device gets
// slot-state remedies picked from a; anything else is treated as a
// degraded link.
func Guidance(err error, a slots.Affordances) []Remedy {
	if err == nil {
		return nil
	}
	if errors.Is(err, upload.ErrDeviceBusy) {
		out := []Remedy{EraseSlot}
		if a.CanTest || a.CanReset {
			out = append(out, TestPending)
		}
		if a.CanConfirm {
			out = append(out, ConfirmActive)
		}
		return append(out, CheckSlots)
	}
	return []Remedy{CheckRange, Reconnect, PowerCycle, SmallerImage}
}

package session

import (
	"bytes"

	"github.com/vitaminmoo/smp-tool/internal/slots"
)

// Phase is the connection lifecycle state.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is everything known about the current device session. A new
// value is built on every connect and thrown away on disconnect.
type State struct {
	Phase      Phase
	DeviceName string
	Slots      []slots.ImageSlot
	// Affordances is derived from Slots.
	Affordances slots.Affordances
	// PendingUploadHash is the image hash of the most recent upload.
	PendingUploadHash []byte
	// AutoTestTarget is the hash awaiting the automatic test, if any.
	AutoTestTarget []byte
	// Uploading is set while an upload job runs.
	Uploading bool
}

func (s State) clone() State {
	out := s
	out.Slots = append([]slots.ImageSlot(nil), s.Slots...)
	out.PendingUploadHash = bytes.Clone(s.PendingUploadHash)
	out.AutoTestTarget = bytes.Clone(s.AutoTestTarget)
	return out
}

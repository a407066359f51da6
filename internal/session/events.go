package session

import (
	"time"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/slots"
	"github.com/vitaminmoo/smp-tool/internal/smp"
)

// Event is delivered to the handler registered with WithEventHandler.
// Concrete types:
//
//	ConnectingEvent, ConnectedEvent, DisconnectedEvent, MessageEvent,
//	SlotsUpdatedEvent, UploadProgressEvent, UploadFinishedEvent,
//	UploadCancelledEvent, UploadErrorEvent, AutoTestTriggeredEvent,
//	FirmwareReadyEvent, FirmwareFailedEvent
type Event interface {
	isEvent()
}

// EventHandler receives session events. It may be called from several
// goroutines and must not block.
type EventHandler func(Event)

type ConnectingEvent struct {
	Prefix string
}

type ConnectedEvent struct {
	Name string
}

// DisconnectedEvent carries the reason for an unexpected disconnect or a
// failed connect attempt. Err is nil for a requested disconnect.
type DisconnectedEvent struct {
	Err error
}

// MessageEvent carries a decoded device response to a user command.
type MessageEvent struct {
	Response *smp.Response
}

type SlotsUpdatedEvent struct {
	Slots       []slots.ImageSlot
	Affordances slots.Affordances
}

type UploadProgressEvent struct {
	Percentage      int
	BytesSent       int
	TotalSize       int
	TimeoutAdjusted bool
	NewTimeout      time.Duration
}

type UploadFinishedEvent struct {
	Hash []byte
}

type UploadCancelledEvent struct{}

type UploadErrorEvent struct {
	Err                 error
	ErrorCode           int
	ConsecutiveTimeouts int
	TotalTimeouts       int
	Remedies            []Remedy
}

type AutoTestTriggeredEvent struct {
	Hash []byte
}

type FirmwareReadyEvent struct {
	Entry *firmware.Entry
}

type FirmwareFailedEvent struct {
	URL string
	Err error
}

func (ConnectingEvent) isEvent()        {}
func (ConnectedEvent) isEvent()         {}
func (DisconnectedEvent) isEvent()      {}
func (MessageEvent) isEvent()           {}
func (SlotsUpdatedEvent) isEvent()      {}
func (UploadProgressEvent) isEvent()    {}
func (UploadFinishedEvent) isEvent()    {}
func (UploadCancelledEvent) isEvent()   {}
func (UploadErrorEvent) isEvent()       {}
func (AutoTestTriggeredEvent) isEvent() {}
func (FirmwareReadyEvent) isEvent()     {}
func (FirmwareFailedEvent) isEvent()    {}

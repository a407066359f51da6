package upload

import (
	"errors"
	"fmt"
)

// RCBadState is the SMP return code a device sends when the image
// state forbids the request, typically because an image is already pending.
const RCBadState = 2

var (
	// ErrUploadInProgress is returned when Upload is called while a job is active.
	ErrUploadInProgress = errors.New("upload already in progress")

	// ErrEmptyImage is returned for a zero-length image.
	ErrEmptyImage = errors.New("image is empty")

	// ErrDeviceBusy matches a DeviceError carrying RCBadState.
	ErrDeviceBusy = errors.New("device busy")

	// ErrRetriesExhausted is the failure reason once a chunk timed out too often.
	ErrRetriesExhausted = errors.New("chunk retries exhausted")

	// ErrUploadStalled is the failure reason when the device stops advancing its offset.
	ErrUploadStalled = errors.New("device offset not advancing")

	// ErrPayloadTooSmall is returned when the link cannot carry any image data.
	ErrPayloadTooSmall = errors.New("link payload too small for upload")
)

// DeviceError indicates the device rejected a chunk with a non-zero return code.
type DeviceError struct {
	Code   int
	Offset int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected upload at offset %d: rc=%d", e.Offset, e.Code)
}

// Is reports busy rejections as ErrDeviceBusy.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDeviceBusy && e.Code == RCBadState
}

// OffsetError indicates the device acknowledged an offset outside the image.
type OffsetError struct {
	Offset int
	Size   int
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("device reported offset %d outside image of %d bytes", e.Offset, e.Size)
}

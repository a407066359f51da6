package upload

import "time"

// Progress describes the state of a running upload.
type Progress struct {
	// Percentage of the image acknowledged by the device (0 to 100)
	Percentage int

	// BytesSent is the device-acknowledged offset
	BytesSent int

	// TotalSize is the image size in bytes
	TotalSize int

	// TimeoutAdjusted is set when a chunk timed out and the timeout grew
	TimeoutAdjusted bool

	// NewTimeout is the chunk timeout in effect after the adjustment
	NewTimeout time.Duration

	// ConsecutiveTimeouts and TotalTimeouts count chunk timeouts so far
	ConsecutiveTimeouts int
	TotalTimeouts       int
}

// ProgressCallback is called from the uploading goroutine.
// Implementations should return quickly.
type ProgressCallback func(Progress)

// Outcome is the terminal state of an upload job.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the single terminal report of an upload job.
type Result struct {
	Outcome             Outcome
	BytesSent           int
	TotalSize           int
	ConsecutiveTimeouts int
	TotalTimeouts       int
	ChunkTimeout        time.Duration
	Duration            time.Duration

	// Err and ErrorCode are set for Failed results. ErrorCode is the
	// device return code when the device rejected the upload.
	Err       error
	ErrorCode int
}

func percentage(sent, total int) int {
	if total <= 0 {
		return 0
	}
	return sent * 100 / total
}

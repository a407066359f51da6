package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/vitaminmoo/smp-tool/internal/session"
	"github.com/vitaminmoo/smp-tool/internal/upload"
)

// ImageState queries and prints the slot table.
func ImageState(ctx context.Context, m *session.Manager) error {
	if _, err := m.QueryImageState(ctx); err != nil {
		return fmt.Errorf("image state failed: %w", err)
	}
	st := m.Snapshot()
	PrintSlots(st.Slots, st.Affordances)
	return nil
}

// TestImage marks a slot for test on next reset. An empty hash picks the
// testable slot.
func TestImage(ctx context.Context, m *session.Manager, hash string) error {
	st := m.Snapshot()
	h, err := resolveSlotHash(st.Slots, hash, st.Affordances.TestHash)
	if err != nil {
		return err
	}
	if err := m.TestSlot(ctx, h); err != nil {
		return fmt.Errorf("test failed: %w", err)
	}
	fmt.Printf("Image %s will be tested on next reset\n", shortHex(h))
	st = m.Snapshot()
	PrintSlots(st.Slots, st.Affordances)
	return nil
}

// ConfirmImage makes the running image permanent. An empty hash picks the
// confirmable slot.
func ConfirmImage(ctx context.Context, m *session.Manager, hash string) error {
	st := m.Snapshot()
	h, err := resolveSlotHash(st.Slots, hash, st.Affordances.ConfirmHash)
	if err != nil {
		return err
	}
	if err := m.ConfirmSlot(ctx, h); err != nil {
		return fmt.Errorf("confirm failed: %w", err)
	}
	fmt.Printf("Image %s confirmed\n", shortHex(h))
	st = m.Snapshot()
	PrintSlots(st.Slots, st.Affordances)
	return nil
}

// EraseSlot erases the secondary slot after the user agrees.
func EraseSlot(ctx context.Context, m *session.Manager, force bool) error {
	if !force && !ConfirmAction("Erase the secondary slot? Type 'yes' to continue: ") {
		fmt.Println("Aborted")
		return nil
	}
	if err := m.EraseSecondarySlot(ctx); err != nil {
		return fmt.Errorf("erase failed: %w", err)
	}
	fmt.Println("Secondary slot erased")
	st := m.Snapshot()
	PrintSlots(st.Slots, st.Affordances)
	return nil
}

// UploadReporter renders upload events on the terminal.
type UploadReporter struct {
	bar *progressbar.ProgressBar
}

// NewUploadReporter creates a reporter for an image of total bytes. With
// a total of zero only connection and slot events are shown.
func NewUploadReporter(total int) *UploadReporter {
	if total <= 0 {
		return &UploadReporter{}
	}
	bar := progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
	return &UploadReporter{bar: bar}
}

// Handle is a session.EventHandler.
func (r *UploadReporter) Handle(e session.Event) {
	switch e := e.(type) {
	case session.ConnectingEvent:
		fmt.Fprintf(os.Stderr, "Scanning for %s...\n", e.Prefix)
	case session.ConnectedEvent:
		fmt.Fprintf(os.Stderr, "Connected to %s\n", e.Name)
	case session.UploadProgressEvent:
		if r.bar == nil {
			return
		}
		if e.TimeoutAdjusted {
			r.bar.Describe(fmt.Sprintf("Uploading (slow device, timeout %s)", e.NewTimeout.Round(time.Millisecond)))
		}
		r.bar.Set64(int64(e.BytesSent))
	case session.UploadFinishedEvent:
		r.finish(false)
		fmt.Printf("Upload complete: %s\n", shortHex(e.Hash))
	case session.UploadCancelledEvent:
		r.finish(true)
		fmt.Println("\nUpload cancelled")
	case session.UploadErrorEvent:
		r.finish(true)
		fmt.Printf("\nUpload failed: %v\n", e.Err)
		if e.TotalTimeouts > 0 {
			fmt.Printf("  Timeouts: %d total, %d consecutive\n", e.TotalTimeouts, e.ConsecutiveTimeouts)
		}
		PrintRemedies(e.Remedies)
	case session.AutoTestTriggeredEvent:
		fmt.Printf("Marking %s for test on next reset\n", shortHex(e.Hash))
	case session.DisconnectedEvent:
		if e.Err != nil {
			fmt.Fprintf(os.Stderr, "Disconnected: %v\n", e.Err)
		}
	}
}

func (r *UploadReporter) finish(abort bool) {
	if r.bar == nil {
		return
	}
	if abort {
		r.bar.Exit()
	} else {
		r.bar.Finish()
	}
}

// Upload sends image to the connected device and prints the final slot
// table. ctx cancellation stops the transfer.
func Upload(ctx context.Context, m *session.Manager, image []byte, name string) error {
	fmt.Printf("Uploading %s (%s)\n", name, humanize.Bytes(uint64(len(image))))

	stop := context.AfterFunc(ctx, m.CancelUpload)
	defer stop()

	res, err := m.UploadImage(context.WithoutCancel(ctx), image)
	if err != nil {
		return fmt.Errorf("upload not started: %w", err)
	}

	switch res.Outcome {
	case upload.Completed:
		fmt.Printf("Sent %s in %s\n", humanize.Bytes(uint64(res.BytesSent)), res.Duration.Round(time.Millisecond))
		st := m.Snapshot()
		PrintSlots(st.Slots, st.Affordances)
		return nil
	case upload.Cancelled:
		return context.Canceled
	default:
		if res.Err == nil {
			return errors.New("upload failed")
		}
		return res.Err
	}
}

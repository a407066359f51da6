package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/smp-tool/internal/history"
)

// History prints recent uploads, optionally only those of one image hash.
func (e *Env) History(ctx context.Context, limit int, hash string) error {
	j, err := e.OpenHistory()
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer j.Close()

	var entries []history.Entry
	if hash != "" {
		entries, err = j.ForHash(ctx, hash)
	} else {
		entries, err = j.List(ctx, limit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No uploads recorded")
		return nil
	}

	fmt.Printf("%-14s %-16s %-10s %-10s %-16s %s\n", "WHEN", "DEVICE", "VERSION", "OUTCOME", "SENT", "DETAIL")
	for _, en := range entries {
		sent := fmt.Sprintf("%s/%s", humanize.Bytes(uint64(en.BytesSent)), humanize.Bytes(uint64(en.TotalSize)))
		detail := en.Duration.Round(time.Millisecond).String()
		if en.Error != "" {
			detail = en.Error
		}
		fmt.Printf("%-14s %-16s %-10s %-10s %-16s %s\n",
			humanize.Time(en.StartedAt), truncate(en.Device, 16), en.Version, en.Outcome, sent, detail)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

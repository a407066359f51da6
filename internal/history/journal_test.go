package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/logger"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"), logger.Discard())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Device: "Fieldy-1", Hash: "aa", Version: "1.0.0", Outcome: "completed", BytesSent: 100, TotalSize: 100, StartedAt: base, Duration: 1500 * time.Millisecond},
		{Device: "Fieldy-1", Hash: "bb", Version: "1.1.0", Outcome: "failed", BytesSent: 40, TotalSize: 100, TotalTimeouts: 6, ErrorCode: 0, Error: "chunk retries exhausted", StartedAt: base.Add(time.Minute)},
		{Device: "Fieldy-2", Hash: "aa", Version: "1.0.0", Outcome: "cancelled", TotalSize: 100, StartedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	all, err := j.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(all))
	}
	if all[0].Outcome != "cancelled" || all[2].Outcome != "completed" {
		t.Errorf("List() not newest first: %v, %v", all[0].Outcome, all[2].Outcome)
	}
	if all[1].Error != "chunk retries exhausted" || all[1].TotalTimeouts != 6 {
		t.Errorf("failed entry = %+v", all[1])
	}
	if all[2].Duration != 1500*time.Millisecond || !all[2].StartedAt.Equal(base) {
		t.Errorf("completed entry timing = %v at %v", all[2].Duration, all[2].StartedAt)
	}

	limited, err := j.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("List(1) = %d entries, %v", len(limited), err)
	}

	forHash, err := j.ForHash(ctx, "aa")
	if err != nil || len(forHash) != 2 {
		t.Errorf("ForHash(aa) = %d entries, %v", len(forHash), err)
	}
}

func TestJournal_RejectsUnknownOutcome(t *testing.T) {
	j := openTestJournal(t)
	err := j.Record(context.Background(), Entry{Device: "d", Hash: "h", Version: "v", Outcome: "exploded", StartedAt: time.Now()})
	if err == nil {
		t.Error("Record() accepted an unknown outcome")
	}
}

package history

import "time"

// Schema creates the upload journal.
const Schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device TEXT NOT NULL,
    hash TEXT NOT NULL,
    version TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('completed', 'cancelled', 'failed')),
    bytes_sent INTEGER NOT NULL,
    total_size INTEGER NOT NULL,
    total_timeouts INTEGER NOT NULL DEFAULT 0,
    error_code INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_hash ON uploads(hash);
CREATE INDEX IF NOT EXISTS idx_uploads_started_at ON uploads(started_at);
`

// Entry is one terminal upload result.
type Entry struct {
	ID            int64
	Device        string
	Hash          string
	Version       string
	Outcome       string
	BytesSent     int
	TotalSize     int
	TotalTimeouts int
	ErrorCode     int
	Error         string
	StartedAt     time.Time
	Duration      time.Duration
}

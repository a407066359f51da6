// Package history keeps a sqlite journal of firmware uploads.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records upload results.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("database_init", "db_path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Error("database_open_failed", "db_path", path, "error", err)
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		logger.Error("database_schema_failed", "db_path", path, "error", err)
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	logger.Debug("database_ready", "db_path", path)
	return &Journal{db: db, logger: logger}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e to the journal.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO uploads (device, hash, version, outcome, bytes_sent, total_size,
		                     total_timeouts, error_code, error_message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var errMsg sql.NullString
	if e.Error != "" {
		errMsg = sql.NullString{String: e.Error, Valid: true}
	}
	result, err := j.db.ExecContext(ctx, query,
		e.Device, e.Hash, e.Version, e.Outcome, e.BytesSent, e.TotalSize,
		e.TotalTimeouts, e.ErrorCode, errMsg,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds())
	if err != nil {
		j.logger.Error("database_insert_failed", "hash", e.Hash, "error", err)
		return fmt.Errorf("failed to record upload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	j.logger.Info("upload_recorded", "id", id, "hash", e.Hash, "outcome", e.Outcome)
	return nil
}

// List returns up to limit entries, newest first. A limit of zero or
// less returns everything.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, device, hash, version, outcome, bytes_sent, total_size,
		       total_timeouts, error_code, error_message, started_at, duration_ms
		FROM uploads ORDER BY started_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return j.query(ctx, query, args...)
}

// ForHash returns every upload of the image with the given hex hash, newest first.
func (j *Journal) ForHash(ctx context.Context, hash string) ([]Entry, error) {
	query := `
		SELECT id, device, hash, version, outcome, bytes_sent, total_size,
		       total_timeouts, error_code, error_message, started_at, duration_ms
		FROM uploads WHERE hash = ? ORDER BY started_at DESC, id DESC
	`
	return j.query(ctx, query, hash)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("database_query_failed", "error", err)
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var errMsg sql.NullString
		var started string
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.Device, &e.Hash, &e.Version, &e.Outcome,
			&e.BytesSent, &e.TotalSize, &e.TotalTimeouts, &e.ErrorCode,
			&errMsg, &started, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		e.Error = errMsg.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			e.StartedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

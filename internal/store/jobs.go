package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventscrape/core/internal/apperr"
)

// JobRecord is a bookkeeping row for one enqueued job, keyed by the Watermill message UUID.
// The job payload itself lives in the Redis stream. Nothing outside this file calls
// RecordJobEnqueued, UpdateJobState or SweepOldJobs, so the jobs table stays empty unless a
// caller writes to it directly.
type JobRecord struct {
	ID          string
	Queue       string
	State       string
	Attempts    int
	LastError   *string
	EnqueuedAt  time.Time
	UpdatedAt   time.Time
}

// RecordJobEnqueued inserts a job bookkeeping row in the "queued" state.
func (db *DB) RecordJobEnqueued(ctx context.Context, id, queueName string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, state, attempts, enqueued_at, updated_at)
		VALUES (?, ?, 'queued', 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, queueName,
	)
	if err != nil {
		return fmt.Errorf("record job enqueued: %w", err)
	}
	return nil
}

// UpdateJobState transitions a job's bookkeeping row, incrementing attempts on every call and
// recording lastErr (nil clears it).
func (db *DB) UpdateJobState(ctx context.Context, id, state string, lastErr *string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempts = attempts + 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		state, lastErr, id,
	)
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return nil
}

// GetJob fetches one job's bookkeeping row by its Watermill message UUID.
func (db *DB) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var j JobRecord
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, queue, state, attempts, last_error, enqueued_at, updated_at FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Queue, &j.State, &j.Attempts, &j.LastError, &j.EnqueuedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// SweepOldJobs deletes completed/failed/dead job rows older than olderThan, the retention
// pass referenced by spec §4.C (Redis streams are trimmed separately via XTRIM).
func (db *DB) SweepOldJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM jobs WHERE state IN ('completed', 'failed', 'dead') AND updated_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep old jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

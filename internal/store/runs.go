package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// CreateRun inserts a new run in the queued state.
func (db *DB) CreateRun(ctx context.Context, r *models.Run) (*models.Run, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = models.RunStatusQueued
	}
	errsJSON, err := json.Marshal(r.Errors)
	if err != nil {
		return nil, fmt.Errorf("marshal run errors: %w", err)
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO runs (id, source_id, parent_run_id, started_at, status, pages_crawled, events_found, errors, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, source_id, parent_run_id, started_at, finished_at, status, pages_crawled, events_found, errors, metadata`,
		r.ID, r.SourceID, r.ParentRunID, r.StartedAt, r.Status, r.PagesCrawled, r.EventsFound, errsJSON, r.Metadata,
	)
	return scanRun(row)
}

// GetRun fetches one run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, source_id, parent_run_id, started_at, finished_at, status, pages_crawled, events_found, errors, metadata
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("run", id)
	}
	return r, err
}

// ListChildRuns returns the child runs of a parent batch run (Instagram batch aggregation),
// ordered by start time.
func (db *DB) ListChildRuns(ctx context.Context, parentID uuid.UUID) ([]*models.Run, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_id, parent_run_id, started_at, finished_at, status, pages_crawled, events_found, errors, metadata
		FROM runs WHERE parent_run_id = ? ORDER BY started_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query child runs: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns runs for a source (or all sources if sourceID is uuid.Nil), most recent
// first, capped at limit.
func (db *DB) ListRuns(ctx context.Context, sourceID uuid.UUID, limit int) ([]*models.Run, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if sourceID == uuid.Nil {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT id, source_id, parent_run_id, started_at, finished_at, status, pages_crawled, events_found, errors, metadata
			FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx, `
			SELECT id, source_id, parent_run_id, started_at, finished_at, status, pages_crawled, events_found, errors, metadata
			FROM runs WHERE source_id = ? ORDER BY started_at DESC LIMIT ?`, sourceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransitionRun moves a run to a new status, rejecting any transition that would move the
// status backwards (models.ValidTransition). finishedAt is only set when the new status is
// terminal.
func (db *DB) TransitionRun(ctx context.Context, id uuid.UUID, to models.RunStatus, pagesCrawled, eventsFound *int, errs []models.RunError) (*models.Run, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current models.RunStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("run", id)
		}
		return nil, fmt.Errorf("read current run status: %w", err)
	}
	if !models.ValidTransition(current, to) {
		return nil, apperr.Validation(fmt.Sprintf("run %s cannot transition from %s to %s", id, current, to))
	}

	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal run errors: %w", err)
	}

	terminal := to == models.RunStatusSuccess || to == models.RunStatusPartial || to == models.RunStatusError

	row := tx.QueryRowContext(ctx, `
		UPDATE runs SET
			status = ?,
			pages_crawled = COALESCE(?, pages_crawled),
			events_found = COALESCE(?, events_found),
			errors = CASE WHEN ? THEN ? ELSE errors END,
			finished_at = CASE WHEN ? THEN CURRENT_TIMESTAMP ELSE finished_at END
		WHERE id = ?
		RETURNING id, source_id, parent_run_id, started_at, finished_at, status, pages_crawled, events_found, errors, metadata`,
		to, pagesCrawled, eventsFound, len(errs) > 0, errsJSON, terminal, id,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run transition: %w", err)
	}
	return r, nil
}

// MarkRunCancelled merges the cooperative-cancellation marker into a run's metadata, set when
// a worker finalizes a cancelled run as partial.
func (db *DB) MarkRunCancelled(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	run, err := db.GetRun(ctx, id)
	if err != nil {
		return err
	}
	meta := map[string]any{}
	if len(run.Metadata) > 0 {
		if err := json.Unmarshal(run.Metadata, &meta); err != nil {
			return fmt.Errorf("decode run metadata: %w", err)
		}
	}
	meta["cancelled"] = true
	merged, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `UPDATE runs SET metadata = ? WHERE id = ?`, merged, id); err != nil {
		return fmt.Errorf("mark run cancelled: %w", err)
	}
	return nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var r models.Run
	var errsJSON, metaJSON []byte
	if err := row.Scan(
		&r.ID, &r.SourceID, &r.ParentRunID, &r.StartedAt, &r.FinishedAt, &r.Status,
		&r.PagesCrawled, &r.EventsFound, &errsJSON, &metaJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &r.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal run errors: %w", err)
		}
	}
	r.Metadata = metaJSON
	return &r, nil
}

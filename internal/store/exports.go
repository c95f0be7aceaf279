package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// CreateExport records the start of an export run in the "processing" state.
func (db *DB) CreateExport(ctx context.Context, e *models.Export) (*models.Export, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = models.ExportProcessing
	}
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO exports (id, format, status, item_count, file_path, params, error_message, schedule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, format, status, item_count, file_path, params, error_message, created_at, schedule_id`,
		e.ID, e.Format, e.Status, e.ItemCount, e.FilePath, e.Params, e.ErrorMessage, e.ScheduleID,
	)
	return scanExport(row)
}

// CompleteExport finalizes an export run, recording the resulting item count and file path
// (success) or error message (failure).
func (db *DB) CompleteExport(ctx context.Context, id uuid.UUID, status models.ExportStatus, itemCount int, filePath *string, errMsg *string) (*models.Export, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		UPDATE exports SET status = ?, item_count = ?, file_path = ?, error_message = ? WHERE id = ?
		RETURNING id, format, status, item_count, file_path, params, error_message, created_at, schedule_id`,
		status, itemCount, filePath, errMsg, id,
	)
	out, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("export", id)
	}
	return out, err
}

// GetExport fetches one export by ID.
func (db *DB) GetExport(ctx context.Context, id uuid.UUID) (*models.Export, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, format, status, item_count, file_path, params, error_message, created_at, schedule_id
		FROM exports WHERE id = ?`, id)
	e, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("export", id)
	}
	return e, err
}

// ListExports returns export history, most recent first, capped at limit.
func (db *DB) ListExports(ctx context.Context, limit int) ([]*models.Export, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, format, status, item_count, file_path, params, error_message, created_at, schedule_id
		FROM exports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExport(row rowScanner) (*models.Export, error) {
	var e models.Export
	if err := row.Scan(
		&e.ID, &e.Format, &e.Status, &e.ItemCount, &e.FilePath, &e.Params, &e.ErrorMessage,
		&e.CreatedAt, &e.ScheduleID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan export: %w", err)
	}
	return &e, nil
}

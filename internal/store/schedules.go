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

// CreateSchedule inserts a cron-driven schedule row. The caller (internal/scheduler) is
// responsible for registering the matching repeatable job in the queue layer after this
// commits, and for generating RepeatKey.
func (db *DB) CreateSchedule(ctx context.Context, s *models.Schedule) (*models.Schedule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO schedules (id, schedule_type, source_id, wordpress_settings_id, cron, timezone, active, repeat_key, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, schedule_type, source_id, wordpress_settings_id, cron, timezone, active, repeat_key, config, created_at, updated_at`,
		s.ID, s.ScheduleType, s.SourceID, s.WordPressSettingsID, s.Cron, s.Timezone, s.Active, s.RepeatKey, s.Config,
	)
	return scanSchedule(row)
}

// GetSchedule fetches one schedule by ID.
func (db *DB) GetSchedule(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, schedule_type, source_id, wordpress_settings_id, cron, timezone, active, repeat_key, config, created_at, updated_at
		FROM schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("schedule", id)
	}
	return s, err
}

// ListSchedules returns all schedules, optionally restricted to active ones.
func (db *DB) ListSchedules(ctx context.Context, activeOnly bool) ([]*models.Schedule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, schedule_type, source_id, wordpress_settings_id, cron, timezone, active, repeat_key, config, created_at, updated_at FROM schedules`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSchedule replaces the mutable fields of an existing schedule.
func (db *DB) UpdateSchedule(ctx context.Context, s *models.Schedule) (*models.Schedule, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		UPDATE schedules SET
			cron = ?, timezone = ?, active = ?, config = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING id, schedule_type, source_id, wordpress_settings_id, cron, timezone, active, repeat_key, config, created_at, updated_at`,
		s.Cron, s.Timezone, s.Active, s.Config, s.ID,
	)
	out, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("schedule", s.ID)
	}
	return out, err
}

// DeleteSchedule removes a schedule row. Exports created under this schedule keep their
// history: exports.schedule_id is nulled first rather than letting the delete cascade. The
// caller must remove the corresponding repeatable job from the queue layer separately.
func (db *DB) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete schedule tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE exports SET schedule_id = NULL WHERE schedule_id = ?`, id); err != nil {
		return fmt.Errorf("unlink exports from schedule: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("schedule", id)
	}
	return tx.Commit()
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	if err := row.Scan(
		&s.ID, &s.ScheduleType, &s.SourceID, &s.WordPressSettingsID, &s.Cron, &s.Timezone,
		&s.Active, &s.RepeatKey, &s.Config, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}

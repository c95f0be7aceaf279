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

// UpsertOccurrence inserts an occurrence, or refreshes last_seen_at (and any changed
// overrides) on the existing (series_id, occurrence_hash) row, in one atomic
// `INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING` statement — same pattern as
// UpsertSeries, grounded on the teacher's `doUpsertGeolocation`
// (internal/database/crud_geolocation.go:93-116). Identity/time fields (series_id,
// occurrence_hash, start_datetime, start_datetime_utc, timezone, has_recurrence) never move on
// conflict; only the override/bookkeeping fields a rescrape can legitimately change do.
// DuckDB has no `xmax` system column to read an inserted/updated marker off the result row the
// way Postgres can, so a leading `existing` CTE captures whether the row was already there
// before the write landed, and that's what the returned bool reports.
func (db *DB) UpsertOccurrence(ctx context.Context, o *models.EventOccurrence) (*models.EventOccurrence, bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	row := db.conn.QueryRowContext(ctx, upsertOccurrenceSQL,
		o.SeriesID, o.OccurrenceHash,
		o.ID, o.SeriesID, o.OccurrenceHash, o.Sequence, o.StartDatetime, o.StartDatetimeUTC,
		o.EndDatetime, o.EndDatetimeUTC, o.DurationSeconds, o.Timezone, o.HasRecurrence,
		o.IsProvisional, o.TitleOverride, o.DescriptionOverride, o.VenueOverride,
		o.StatusOverride, o.Raw, o.ScrapedAt, o.LastSeenAt,
	)

	var out models.EventOccurrence
	var alreadyExisted bool
	if err := row.Scan(
		&out.ID, &out.SeriesID, &out.OccurrenceHash, &out.Sequence, &out.StartDatetime, &out.StartDatetimeUTC,
		&out.EndDatetime, &out.EndDatetimeUTC, &out.DurationSeconds, &out.Timezone, &out.HasRecurrence,
		&out.IsProvisional, &out.TitleOverride, &out.DescriptionOverride, &out.VenueOverride,
		&out.StatusOverride, &out.Raw, &out.ScrapedAt, &out.LastSeenAt, &alreadyExisted,
	); err != nil {
		return nil, false, fmt.Errorf("upsert event_occurrence: %w", err)
	}
	o.ID = out.ID
	return &out, !alreadyExisted, nil
}

const upsertOccurrenceSQL = `
WITH existing AS (
	SELECT id FROM event_occurrences WHERE series_id = ? AND occurrence_hash = ?
)
INSERT INTO event_occurrences (
	id, series_id, occurrence_hash, sequence, start_datetime, start_datetime_utc,
	end_datetime, end_datetime_utc, duration_seconds, timezone, has_recurrence,
	is_provisional, title_override, description_override, venue_override,
	status_override, raw, scraped_at, last_seen_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (series_id, occurrence_hash) DO UPDATE SET
	sequence             = EXCLUDED.sequence,
	end_datetime         = EXCLUDED.end_datetime,
	end_datetime_utc     = EXCLUDED.end_datetime_utc,
	duration_seconds     = EXCLUDED.duration_seconds,
	is_provisional       = EXCLUDED.is_provisional,
	title_override       = EXCLUDED.title_override,
	description_override = EXCLUDED.description_override,
	venue_override       = EXCLUDED.venue_override,
	status_override      = EXCLUDED.status_override,
	raw                  = EXCLUDED.raw,
	last_seen_at         = EXCLUDED.last_seen_at
RETURNING id, series_id, occurrence_hash, sequence, start_datetime, start_datetime_utc,
	end_datetime, end_datetime_utc, duration_seconds, timezone, has_recurrence,
	is_provisional, title_override, description_override, venue_override,
	status_override, raw, scraped_at, last_seen_at,
	(SELECT id FROM existing) IS NOT NULL AS already_existed`

// GetOccurrence fetches one occurrence by ID.
func (db *DB) GetOccurrence(ctx context.Context, id uuid.UUID) (*models.EventOccurrence, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, series_id, occurrence_hash, sequence, start_datetime, start_datetime_utc,
			end_datetime, end_datetime_utc, duration_seconds, timezone, has_recurrence,
			is_provisional, title_override, description_override, venue_override,
			status_override, raw, scraped_at, last_seen_at
		FROM event_occurrences WHERE id = ?`, id)
	o, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event_occurrence", id)
	}
	return o, err
}

// ListOccurrencesBySeries returns every occurrence of a series, ordered by start time.
func (db *DB) ListOccurrencesBySeries(ctx context.Context, seriesID uuid.UUID) ([]*models.EventOccurrence, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, series_id, occurrence_hash, sequence, start_datetime, start_datetime_utc,
			end_datetime, end_datetime_utc, duration_seconds, timezone, has_recurrence,
			is_provisional, title_override, description_override, venue_override,
			status_override, raw, scraped_at, last_seen_at
		FROM event_occurrences WHERE series_id = ? ORDER BY start_datetime_utc`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("query occurrences by series: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.EventOccurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOccurrence(row rowScanner) (*models.EventOccurrence, error) {
	var o models.EventOccurrence
	if err := row.Scan(
		&o.ID, &o.SeriesID, &o.OccurrenceHash, &o.Sequence, &o.StartDatetime, &o.StartDatetimeUTC,
		&o.EndDatetime, &o.EndDatetimeUTC, &o.DurationSeconds, &o.Timezone, &o.HasRecurrence,
		&o.IsProvisional, &o.TitleOverride, &o.DescriptionOverride, &o.VenueOverride,
		&o.StatusOverride, &o.Raw, &o.ScrapedAt, &o.LastSeenAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event_occurrence: %w", err)
	}
	return &o, nil
}


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

// UpsertSeries inserts a new series, or — when (source_id, source_event_id) already exists —
// updates title/venue/content_hash/etc. and returns the existing row's ID. This is the entry
// point to the series half of the upsert protocol (spec §4.H): the caller always gets back
// the canonical series ID whether or not the row already existed.
//
// The write is one atomic `INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING` statement,
// grounded on the teacher's `doUpsertGeolocation`
// (internal/database/crud_geolocation.go:93-116), which upserts geolocations by ip_address the
// same way against this DuckDB driver. A leading `existing` CTE captures whether a row already
// matched the unique key before the write landed; DuckDB has no `xmax` column to read that off
// the result row the way Postgres can, so `existing` is the sentinel this emulates it with.
// Content fields only move to the incoming value when content_hash actually changed, so two
// concurrent upserts of identical content converge on the same row with zero visible diff
// beyond the conflict resolution itself — no unhandled UNIQUE-constraint error, no TOCTOU gap
// between a lookup and a later INSERT.
func (db *DB) UpsertSeries(ctx context.Context, s *models.EventSeries) (*models.EventSeries, bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := db.conn.QueryRowContext(ctx, upsertSeriesSQL,
		s.SourceID, s.SourceEventID,
		s.ID, s.SourceID, s.SourceEventID, s.Title, s.Description, s.VenueName, s.VenueAddress,
		s.Organizer, s.Category, s.OccurrenceType, s.RecurrenceType, s.EventStatus, s.URLPrimary,
		s.ContentHash, s.Raw, s.LastUpdatedByRunID,
	)

	var out models.EventSeries
	var alreadyExisted bool
	if err := row.Scan(
		&out.ID, &out.SourceID, &out.SourceEventID, &out.Title, &out.Description, &out.VenueName,
		&out.VenueAddress, &out.Organizer, &out.Category, &out.OccurrenceType, &out.RecurrenceType,
		&out.EventStatus, &out.URLPrimary, &out.ContentHash, &out.Raw, &out.LastUpdatedByRunID,
		&out.CreatedAt, &out.UpdatedAt, &alreadyExisted,
	); err != nil {
		return nil, false, fmt.Errorf("upsert event_series: %w", err)
	}
	s.ID = out.ID
	return &out, !alreadyExisted, nil
}

const upsertSeriesSQL = `
WITH existing AS (
	SELECT id FROM event_series WHERE source_id = ? AND source_event_id = ?
)
INSERT INTO event_series (
	id, source_id, source_event_id, title, description, venue_name, venue_address,
	organizer, category, occurrence_type, recurrence_type, event_status, url_primary,
	content_hash, raw, last_updated_by_run_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id, source_event_id) WHERE source_event_id IS NOT NULL DO UPDATE SET
	title                  = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.title                  ELSE EXCLUDED.title                  END,
	description            = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.description            ELSE EXCLUDED.description            END,
	venue_name             = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.venue_name             ELSE EXCLUDED.venue_name             END,
	venue_address          = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.venue_address          ELSE EXCLUDED.venue_address          END,
	organizer              = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.organizer              ELSE EXCLUDED.organizer              END,
	category               = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.category               ELSE EXCLUDED.category               END,
	occurrence_type        = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.occurrence_type        ELSE EXCLUDED.occurrence_type        END,
	recurrence_type        = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.recurrence_type        ELSE EXCLUDED.recurrence_type        END,
	event_status           = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.event_status           ELSE EXCLUDED.event_status           END,
	url_primary            = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.url_primary            ELSE EXCLUDED.url_primary            END,
	raw                    = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.raw                    ELSE EXCLUDED.raw                    END,
	last_updated_by_run_id = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.last_updated_by_run_id ELSE EXCLUDED.last_updated_by_run_id END,
	content_hash           = EXCLUDED.content_hash,
	updated_at             = CASE WHEN event_series.content_hash = EXCLUDED.content_hash THEN event_series.updated_at             ELSE CURRENT_TIMESTAMP               END
RETURNING id, source_id, source_event_id, title, description, venue_name, venue_address,
	organizer, category, occurrence_type, recurrence_type, event_status, url_primary,
	content_hash, raw, last_updated_by_run_id, created_at, updated_at,
	(SELECT id FROM existing) IS NOT NULL AS already_existed`

// GetSeries fetches one series by ID.
func (db *DB) GetSeries(ctx context.Context, id uuid.UUID) (*models.EventSeries, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, source_id, source_event_id, title, description, venue_name, venue_address,
			organizer, category, occurrence_type, recurrence_type, event_status, url_primary,
			content_hash, raw, last_updated_by_run_id, created_at, updated_at
		FROM event_series WHERE id = ?`, id)
	s, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event_series", id)
	}
	return s, err
}

// ListSeriesBySource returns every series scraped from a source.
func (db *DB) ListSeriesBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.EventSeries, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_id, source_event_id, title, description, venue_name, venue_address,
			organizer, category, occurrence_type, recurrence_type, event_status, url_primary,
			content_hash, raw, last_updated_by_run_id, created_at, updated_at
		FROM event_series WHERE source_id = ? ORDER BY updated_at DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query series by source: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.EventSeries
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSeries(row rowScanner) (*models.EventSeries, error) {
	var s models.EventSeries
	if err := row.Scan(
		&s.ID, &s.SourceID, &s.SourceEventID, &s.Title, &s.Description, &s.VenueName, &s.VenueAddress,
		&s.Organizer, &s.Category, &s.OccurrenceType, &s.RecurrenceType, &s.EventStatus, &s.URLPrimary,
		&s.ContentHash, &s.Raw, &s.LastUpdatedByRunID, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event_series: %w", err)
	}
	return &s, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
)

// UpsertRawEvent inserts a raw_events row, or — when (source_id, source_event_id) collides —
// overwrites the fields that change between scrapes and bumps last_seen_at, in one atomic
// `INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING` statement (same pattern as UpsertSeries
// and UpsertOccurrence, grounded on the teacher's `doUpsertGeolocation`,
// internal/database/crud_geolocation.go:93-116). Content fields only move to the incoming
// value when content_hash differs from what's stored; run_id and last_seen_at always move, so
// a rescrape with unchanged content is still visible as "we saw this again" bookkeeping without
// touching anything else. Returns the row and whether content actually differed from what was
// stored (true for a brand new row too). A leading `existing` CTE captures the row's
// content_hash before the write lands, since DuckDB has no `xmax` column to read that
// distinction off the already-written result row.
func (db *DB) UpsertRawEvent(ctx context.Context, e *models.RawEvent) (*models.RawEvent, bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return nil, false, fmt.Errorf("marshal tags: %w", err)
	}

	row := db.conn.QueryRowContext(ctx, rawEventUpsertSQL,
		e.SourceID, e.SourceEventID,
		e.ID, e.SourceID, e.RunID, e.SourceEventID, e.SeriesID, e.OccurrenceID, e.Title,
		e.Description, e.StartDatetime, e.EndDatetime, e.Timezone, e.VenueName, e.VenueAddress,
		e.City, e.Region, e.Country, e.Lat, e.Lon, e.Organizer, e.Category, tagsJSON, e.Price,
		e.URL, e.ImageURL, e.Raw, e.ContentHash, e.ScrapedAt, e.LastSeenAt,
		e.InstagramPostID, e.InstagramCaption, e.InstagramLocalImagePath,
		e.ClassificationConfidence, e.IsEventPoster,
	)

	var out models.RawEvent
	var tagsOut []byte
	var previousContentHash sql.NullString
	if err := row.Scan(
		&out.ID, &out.SourceID, &out.RunID, &out.SourceEventID, &out.SeriesID, &out.OccurrenceID, &out.Title,
		&out.Description, &out.StartDatetime, &out.EndDatetime, &out.Timezone, &out.VenueName, &out.VenueAddress,
		&out.City, &out.Region, &out.Country, &out.Lat, &out.Lon, &out.Organizer, &out.Category, &tagsOut, &out.Price,
		&out.URL, &out.ImageURL, &out.Raw, &out.ContentHash, &out.ScrapedAt, &out.LastSeenAt,
		&out.InstagramPostID, &out.InstagramCaption, &out.InstagramLocalImagePath,
		&out.ClassificationConfidence, &out.IsEventPoster, &previousContentHash,
	); err != nil {
		return nil, false, fmt.Errorf("upsert raw_event: %w", err)
	}
	if len(tagsOut) > 0 {
		if err := json.Unmarshal(tagsOut, &out.Tags); err != nil {
			return nil, false, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	e.ID = out.ID
	changed := !previousContentHash.Valid || previousContentHash.String != e.ContentHash
	return &out, changed, nil
}

const rawEventColumns = `id, source_id, run_id, source_event_id, series_id, occurrence_id, title,
	description, start_datetime, end_datetime, timezone, venue_name, venue_address, city, region,
	country, lat, lon, organizer, category, tags, price, url, image_url, raw, content_hash,
	scraped_at, last_seen_at, instagram_post_id, instagram_caption, instagram_local_image_path,
	classification_confidence, is_event_poster`

const rawEventUpsertSQL = `
WITH existing AS (
	SELECT content_hash FROM raw_events WHERE source_id = ? AND source_event_id = ?
)
INSERT INTO raw_events (` + rawEventColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id, source_event_id) WHERE source_event_id IS NOT NULL DO UPDATE SET
	run_id                     = EXCLUDED.run_id,
	last_seen_at               = EXCLUDED.last_seen_at,
	series_id                  = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.series_id                  ELSE EXCLUDED.series_id                  END,
	occurrence_id              = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.occurrence_id              ELSE EXCLUDED.occurrence_id              END,
	title                      = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.title                      ELSE EXCLUDED.title                      END,
	description                = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.description                ELSE EXCLUDED.description                END,
	start_datetime             = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.start_datetime             ELSE EXCLUDED.start_datetime             END,
	end_datetime               = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.end_datetime               ELSE EXCLUDED.end_datetime               END,
	timezone                   = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.timezone                   ELSE EXCLUDED.timezone                   END,
	venue_name                 = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.venue_name                 ELSE EXCLUDED.venue_name                 END,
	venue_address              = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.venue_address              ELSE EXCLUDED.venue_address              END,
	city                       = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.city                       ELSE EXCLUDED.city                       END,
	region                     = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.region                     ELSE EXCLUDED.region                     END,
	country                    = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.country                    ELSE EXCLUDED.country                    END,
	lat                        = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.lat                        ELSE EXCLUDED.lat                        END,
	lon                        = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.lon                        ELSE EXCLUDED.lon                        END,
	organizer                  = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.organizer                  ELSE EXCLUDED.organizer                  END,
	category                   = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.category                   ELSE EXCLUDED.category                   END,
	tags                       = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.tags                       ELSE EXCLUDED.tags                       END,
	price                      = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.price                      ELSE EXCLUDED.price                      END,
	url                        = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.url                        ELSE EXCLUDED.url                        END,
	image_url                  = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.image_url                  ELSE EXCLUDED.image_url                  END,
	raw                        = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.raw                        ELSE EXCLUDED.raw                        END,
	content_hash               = EXCLUDED.content_hash,
	instagram_post_id          = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.instagram_post_id          ELSE EXCLUDED.instagram_post_id          END,
	instagram_caption          = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.instagram_caption          ELSE EXCLUDED.instagram_caption          END,
	instagram_local_image_path = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.instagram_local_image_path ELSE EXCLUDED.instagram_local_image_path END,
	classification_confidence  = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.classification_confidence  ELSE EXCLUDED.classification_confidence  END,
	is_event_poster            = CASE WHEN raw_events.content_hash = EXCLUDED.content_hash THEN raw_events.is_event_poster            ELSE EXCLUDED.is_event_poster            END
RETURNING ` + rawEventColumns + `,
	(SELECT content_hash FROM existing) AS previous_content_hash`

// GetRawEvent fetches one raw event by ID.
func (db *DB) GetRawEvent(ctx context.Context, id uuid.UUID) (*models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE id = ?`, id)
	e, err := scanRawEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("raw_event", id)
	}
	return e, err
}

// ListRawEventsByRun returns every raw event observed during a run.
func (db *DB) ListRawEventsByRun(ctx context.Context, runID uuid.UUID) ([]*models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE run_id = ? ORDER BY start_datetime`, runID)
	if err != nil {
		return nil, fmt.Errorf("query raw events by run: %w", err)
	}
	defer closeRowsQuietly(rows)
	return scanRawEvents(rows)
}

// ListRawEventsInWindow returns raw events starting within [from, to), optionally restricted
// by city (case-sensitive exact match, matching the normalized value stored at ingest time).
// This backs the match engine's candidate generation (spec §4.I).
func (db *DB) ListRawEventsInWindow(ctx context.Context, from, to time.Time, city string) ([]*models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + rawEventColumns + ` FROM raw_events WHERE start_datetime >= ? AND start_datetime < ?`
	args := []any{from, to}
	if city != "" {
		query += ` AND city = ?`
		args = append(args, city)
	}
	query += ` ORDER BY start_datetime`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query raw events in window: %w", err)
	}
	defer closeRowsQuietly(rows)
	return scanRawEvents(rows)
}

// ListRawEventsByIDs fetches a batch by ID, used by the export engine to materialize a set of
// canonical-event member rows.
func (db *DB) ListRawEventsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.RawEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	placeholders := ""
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+rawEventColumns+` FROM raw_events WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query raw events by ids: %w", err)
	}
	defer closeRowsQuietly(rows)
	return scanRawEvents(rows)
}

func scanRawEvents(rows *sql.Rows) ([]*models.RawEvent, error) {
	var out []*models.RawEvent
	for rows.Next() {
		e, err := scanRawEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRawEvent(row rowScanner) (*models.RawEvent, error) {
	var e models.RawEvent
	var tagsJSON []byte
	if err := row.Scan(
		&e.ID, &e.SourceID, &e.RunID, &e.SourceEventID, &e.SeriesID, &e.OccurrenceID, &e.Title,
		&e.Description, &e.StartDatetime, &e.EndDatetime, &e.Timezone, &e.VenueName, &e.VenueAddress,
		&e.City, &e.Region, &e.Country, &e.Lat, &e.Lon, &e.Organizer, &e.Category, &tagsJSON, &e.Price,
		&e.URL, &e.ImageURL, &e.Raw, &e.ContentHash, &e.ScrapedAt, &e.LastSeenAt,
		&e.InstagramPostID, &e.InstagramCaption, &e.InstagramLocalImagePath,
		&e.ClassificationConfidence, &e.IsEventPoster,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan raw_event: %w", err)
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &e.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &e, nil
}

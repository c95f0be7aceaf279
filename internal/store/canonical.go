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

// CreateCanonicalEvent materializes a new canonical event, typically from a single raw event
// with no confirmed duplicates.
func (db *DB) CreateCanonicalEvent(ctx context.Context, c *models.CanonicalEvent) (*models.CanonicalEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.CanonicalNew
	}
	mergedJSON, err := json.Marshal(c.MergedFromRawIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal merged_from_raw_ids: %w", err)
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO canonical_events (
			id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at`,
		c.ID, c.Title, c.Description, c.StartDatetime, c.EndDatetime, c.Timezone, c.VenueName, c.City,
		c.Organizer, c.Category, c.URL, c.ImageURL, c.DedupeKey, mergedJSON, c.Status,
	)
	return scanCanonical(row)
}

// GetCanonicalEvent fetches one canonical event by ID.
func (db *DB) GetCanonicalEvent(ctx context.Context, id uuid.UUID) (*models.CanonicalEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at
		FROM canonical_events WHERE id = ?`, id)
	c, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("canonical_event", id)
	}
	return c, err
}

// ListCanonicalEvents returns canonical events filtered by status ("" for all) and a
// [from, to) start-time window (zero times disable that bound), ordered by start time.
func (db *DB) ListCanonicalEvents(ctx context.Context, status models.CanonicalStatus, from, to sql.NullTime) ([]*models.CanonicalEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at
		FROM canonical_events WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if from.Valid {
		query += ` AND start_datetime >= ?`
		args = append(args, from.Time)
	}
	if to.Valid {
		query += ` AND start_datetime < ?`
		args = append(args, to.Time)
	}
	query += ` ORDER BY start_datetime`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query canonical events: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.CanonicalEvent
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCanonicalEvent applies an operator edit (review/merge UI) to an existing canonical
// event.
func (db *DB) UpdateCanonicalEvent(ctx context.Context, c *models.CanonicalEvent) (*models.CanonicalEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mergedJSON, err := json.Marshal(c.MergedFromRawIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal merged_from_raw_ids: %w", err)
	}

	row := db.conn.QueryRowContext(ctx, `
		UPDATE canonical_events SET
			title = ?, description = ?, start_datetime = ?, end_datetime = ?, timezone = ?,
			venue_name = ?, city = ?, organizer = ?, category = ?, url = ?, image_url = ?,
			dedupe_key = ?, merged_from_raw_ids = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at`,
		c.Title, c.Description, c.StartDatetime, c.EndDatetime, c.Timezone, c.VenueName, c.City,
		c.Organizer, c.Category, c.URL, c.ImageURL, c.DedupeKey, mergedJSON, c.Status, c.ID,
	)
	out, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("canonical_event", c.ID)
	}
	return out, err
}

// MarkCanonicalExported flips a canonical event's status to "exported" once an export run
// has successfully included it.
func (db *DB) MarkCanonicalExported(ctx context.Context, ids []uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+0)
	placeholders := ""
	for i, id := range ids {
		args = append(args, id)
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE canonical_events SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (`+placeholders+`)`,
		append([]any{models.CanonicalExported}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("mark canonical events exported: %w", err)
	}
	return nil
}

// ListCanonicalEventsFiltered answers the export engine's filter shape (spec §4.J): IDs, when
// non-empty, overrides every other field; otherwise StartDate/EndDate/City/Category/Status
// narrow via SQL and SourceIDs (which canonical_events has no direct column for) narrows
// afterward by checking each candidate's merged_from_raw_ids against the source of each raw
// event, a pragmatic two-step filter rather than a correlated SQL subquery over a JSON array.
func (db *DB) ListCanonicalEventsFiltered(ctx context.Context, f models.ExportFilter) ([]*models.CanonicalEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(f.IDs) > 0 {
		return db.listCanonicalEventsByIDs(ctx, f.IDs)
	}

	query := `SELECT id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at
		FROM canonical_events WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.StartDate != nil {
		query += ` AND start_datetime >= ?`
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		query += ` AND start_datetime < ?`
		args = append(args, *f.EndDate)
	}
	if f.City != "" {
		query += ` AND city = ?`
		args = append(args, f.City)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY start_datetime`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query canonical events: %w", err)
	}
	var out []*models.CanonicalEvent
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			closeRowsQuietly(rows)
			return nil, err
		}
		out = append(out, c)
	}
	closeRowsQuietly(rows)
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(f.SourceIDs) == 0 {
		return out, nil
	}
	return db.filterCanonicalBySource(ctx, out, f.SourceIDs)
}

func (db *DB) listCanonicalEventsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.CanonicalEvent, error) {
	args := make([]any, len(ids))
	placeholders := ""
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at
		FROM canonical_events WHERE id IN (`+placeholders+`) ORDER BY start_datetime`, args...)
	if err != nil {
		return nil, fmt.Errorf("query canonical events by ids: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.CanonicalEvent
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) filterCanonicalBySource(ctx context.Context, candidates []*models.CanonicalEvent, sourceIDs []uuid.UUID) ([]*models.CanonicalEvent, error) {
	wanted := make(map[uuid.UUID]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		wanted[id] = struct{}{}
	}

	var allRawIDs []uuid.UUID
	for _, c := range candidates {
		allRawIDs = append(allRawIDs, c.MergedFromRawIDs...)
	}
	raws, err := db.ListRawEventsByIDs(ctx, allRawIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve merged raw events' sources: %w", err)
	}
	sourceOf := make(map[uuid.UUID]uuid.UUID, len(raws))
	for _, r := range raws {
		sourceOf[r.ID] = r.SourceID
	}

	var out []*models.CanonicalEvent
	for _, c := range candidates {
		for _, rawID := range c.MergedFromRawIDs {
			if src, ok := sourceOf[rawID]; ok {
				if _, match := wanted[src]; match {
					out = append(out, c)
					break
				}
			}
		}
	}
	return out, nil
}

// FindCanonicalEventByRawID returns the canonical event whose merged_from_raw_ids already
// contains rawID, used by the match engine's merge action to union into an existing
// canonical event instead of creating a duplicate one (spec §4.I).
func (db *DB) FindCanonicalEventByRawID(ctx context.Context, rawID uuid.UUID) (*models.CanonicalEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, title, description, start_datetime, end_datetime, timezone, venue_name, city,
			organizer, category, url, image_url, dedupe_key, merged_from_raw_ids, status, created_at, updated_at
		FROM canonical_events WHERE merged_from_raw_ids LIKE '%' || ? || '%' LIMIT 1`,
		rawID.String(),
	)
	c, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("canonical_event_for_raw", rawID)
	}
	return c, err
}

func scanCanonical(row rowScanner) (*models.CanonicalEvent, error) {
	var c models.CanonicalEvent
	var mergedJSON []byte
	if err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.StartDatetime, &c.EndDatetime, &c.Timezone, &c.VenueName,
		&c.City, &c.Organizer, &c.Category, &c.URL, &c.ImageURL, &c.DedupeKey, &mergedJSON, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan canonical_event: %w", err)
	}
	if len(mergedJSON) > 0 {
		if err := json.Unmarshal(mergedJSON, &c.MergedFromRawIDs); err != nil {
			return nil, fmt.Errorf("unmarshal merged_from_raw_ids: %w", err)
		}
	}
	return &c, nil
}

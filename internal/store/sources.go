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

// CreateSource inserts a new harvestable source, assigning an ID if the caller left it nil.
func (db *DB) CreateSource(ctx context.Context, s *models.Source) (*models.Source, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO sources (
			id, name, base_url, module_key, active, default_timezone, rate_limit_per_min,
			source_type, instagram_username, classification_mode, instagram_scraper_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, name, base_url, module_key, active, default_timezone, rate_limit_per_min,
			source_type, instagram_username, classification_mode, instagram_scraper_type,
			last_checked, created_at, updated_at`,
		s.ID, s.Name, s.BaseURL, s.ModuleKey, s.Active, s.DefaultTimezone, s.RateLimitPerMin,
		s.SourceType, s.InstagramUsername, s.ClassificationMode, s.InstagramScraperType,
	)
	return scanSource(row)
}

// GetSource fetches one source by ID.
func (db *DB) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, base_url, module_key, active, default_timezone, rate_limit_per_min,
			source_type, instagram_username, classification_mode, instagram_scraper_type,
			last_checked, created_at, updated_at
		FROM sources WHERE id = ?`, id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("source", id)
	}
	return s, err
}

// GetSourceByModuleKey fetches one source by its unique module_key, for the HTTP façade's
// ad-hoc "enqueue a scrape for this module" operation.
func (db *DB) GetSourceByModuleKey(ctx context.Context, moduleKey string) (*models.Source, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, base_url, module_key, active, default_timezone, rate_limit_per_min,
			source_type, instagram_username, classification_mode, instagram_scraper_type,
			last_checked, created_at, updated_at
		FROM sources WHERE module_key = ?`, moduleKey)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("source with module_key", moduleKey)
	}
	return s, err
}

// ListSources returns all sources, optionally restricted to active ones.
func (db *DB) ListSources(ctx context.Context, activeOnly bool) ([]*models.Source, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, name, base_url, module_key, active, default_timezone, rate_limit_per_min,
			source_type, instagram_username, classification_mode, instagram_scraper_type,
			last_checked, created_at, updated_at FROM sources`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSource applies a full replace of the mutable fields of s.
func (db *DB) UpdateSource(ctx context.Context, s *models.Source) (*models.Source, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		UPDATE sources SET
			name = ?, base_url = ?, module_key = ?, active = ?, default_timezone = ?,
			rate_limit_per_min = ?, source_type = ?, instagram_username = ?,
			classification_mode = ?, instagram_scraper_type = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING id, name, base_url, module_key, active, default_timezone, rate_limit_per_min,
			source_type, instagram_username, classification_mode, instagram_scraper_type,
			last_checked, created_at, updated_at`,
		s.Name, s.BaseURL, s.ModuleKey, s.Active, s.DefaultTimezone, s.RateLimitPerMin,
		s.SourceType, s.InstagramUsername, s.ClassificationMode, s.InstagramScraperType, s.ID,
	)
	out, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("source", s.ID)
	}
	return out, err
}

// TouchSourceLastChecked stamps last_checked to now, called once a run against the source
// transitions to a terminal status.
func (db *DB) TouchSourceLastChecked(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE sources SET last_checked = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("touch source last_checked: %w", err)
	}
	return nil
}

// DeleteSource removes a source. Callers are expected to have checked for dependent runs
// first; the foreign key constraints reject the delete otherwise.
func (db *DB) DeleteSource(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("source", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var s models.Source
	if err := row.Scan(
		&s.ID, &s.Name, &s.BaseURL, &s.ModuleKey, &s.Active, &s.DefaultTimezone, &s.RateLimitPerMin,
		&s.SourceType, &s.InstagramUsername, &s.ClassificationMode, &s.InstagramScraperType,
		&s.LastChecked, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return &s, nil
}

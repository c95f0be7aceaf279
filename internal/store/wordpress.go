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

// CreateWordPressSettings records a new configured WordPress upload target.
func (db *DB) CreateWordPressSettings(ctx context.Context, w *models.WordPressSettings) (*models.WordPressSettings, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	mappingsJSON, err := marshalCategoryMappings(w.SourceCategoryMappings)
	if err != nil {
		return nil, err
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO wordpress_settings (
			id, name, site_url, username, app_password_ciphertext, update_if_exists, include_media, source_category_mappings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, name, site_url, username, app_password_ciphertext, update_if_exists, include_media,
			source_category_mappings, created_at, updated_at`,
		w.ID, w.Name, w.SiteURL, w.Username, w.AppPasswordCiphertext, w.UpdateIfExists, w.IncludeMedia, mappingsJSON,
	)
	return scanWordPressSettings(row)
}

// GetWordPressSettings fetches one configured WordPress target by ID.
func (db *DB) GetWordPressSettings(ctx context.Context, id uuid.UUID) (*models.WordPressSettings, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, site_url, username, app_password_ciphertext, update_if_exists, include_media,
			source_category_mappings, created_at, updated_at
		FROM wordpress_settings WHERE id = ?`, id)
	w, err := scanWordPressSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("wordpress_settings", id)
	}
	return w, err
}

// ListWordPressSettings returns every configured WordPress target.
func (db *DB) ListWordPressSettings(ctx context.Context) ([]*models.WordPressSettings, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, site_url, username, app_password_ciphertext, update_if_exists, include_media,
			source_category_mappings, created_at, updated_at
		FROM wordpress_settings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query wordpress_settings: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.WordPressSettings
	for rows.Next() {
		w, err := scanWordPressSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWordPressSettings applies a full replace of a configured WordPress target.
func (db *DB) UpdateWordPressSettings(ctx context.Context, w *models.WordPressSettings) (*models.WordPressSettings, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	mappingsJSON, err := marshalCategoryMappings(w.SourceCategoryMappings)
	if err != nil {
		return nil, err
	}

	row := db.conn.QueryRowContext(ctx, `
		UPDATE wordpress_settings SET
			name = ?, site_url = ?, username = ?, app_password_ciphertext = ?,
			update_if_exists = ?, include_media = ?, source_category_mappings = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING id, name, site_url, username, app_password_ciphertext, update_if_exists, include_media,
			source_category_mappings, created_at, updated_at`,
		w.Name, w.SiteURL, w.Username, w.AppPasswordCiphertext, w.UpdateIfExists, w.IncludeMedia, mappingsJSON, w.ID,
	)
	out, err := scanWordPressSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("wordpress_settings", w.ID)
	}
	return out, err
}

// DeleteWordPressSettings removes a configured WordPress target.
func (db *DB) DeleteWordPressSettings(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM wordpress_settings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete wordpress_settings: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("wordpress_settings", id)
	}
	return nil
}

func marshalCategoryMappings(m map[uuid.UUID]int) ([]byte, error) {
	if len(m) == 0 {
		return json.Marshal(map[string]int{})
	}
	stringKeyed := make(map[string]int, len(m))
	for id, catID := range m {
		stringKeyed[id.String()] = catID
	}
	b, err := json.Marshal(stringKeyed)
	if err != nil {
		return nil, fmt.Errorf("marshal source_category_mappings: %w", err)
	}
	return b, nil
}

func scanWordPressSettings(row rowScanner) (*models.WordPressSettings, error) {
	var w models.WordPressSettings
	var mappingsJSON []byte
	if err := row.Scan(
		&w.ID, &w.Name, &w.SiteURL, &w.Username, &w.AppPasswordCiphertext, &w.UpdateIfExists, &w.IncludeMedia,
		&mappingsJSON, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan wordpress_settings: %w", err)
	}
	if len(mappingsJSON) > 0 {
		var stringKeyed map[string]int
		if err := json.Unmarshal(mappingsJSON, &stringKeyed); err != nil {
			return nil, fmt.Errorf("unmarshal source_category_mappings: %w", err)
		}
		w.SourceCategoryMappings = make(map[uuid.UUID]int, len(stringKeyed))
		for key, catID := range stringKeyed {
			id, err := uuid.Parse(key)
			if err != nil {
				return nil, fmt.Errorf("parse source_category_mappings key %q: %w", key, err)
			}
			w.SourceCategoryMappings[id] = catID
		}
	}
	return &w, nil
}

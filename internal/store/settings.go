package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/models"
)

// settingsSingletonID is the well-known row ID for the single system_settings row. The
// table never holds more than one row; GetSettings creates it on first access.
var settingsSingletonID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// GetSettings returns the singleton settings row, creating it with defaults if absent.
func (db *DB) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, ai_provider, ai_api_key_ciphertext, instagram_default_scraper, instagram_allow_override, feature_flags, updated_at
		FROM system_settings WHERE id = ?`, settingsSingletonID)
	s, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return db.createDefaultSettings(ctx)
	}
	return s, err
}

func (db *DB) createDefaultSettings(ctx context.Context) (*models.SystemSettings, error) {
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO system_settings (id, instagram_allow_override) VALUES (?, true)
		RETURNING id, ai_provider, ai_api_key_ciphertext, instagram_default_scraper, instagram_allow_override, feature_flags, updated_at`,
		settingsSingletonID,
	)
	return scanSettings(row)
}

// UpdateSettings applies a full replace of the singleton settings row.
func (db *DB) UpdateSettings(ctx context.Context, s *models.SystemSettings) (*models.SystemSettings, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	flagsJSON, err := json.Marshal(s.FeatureFlags)
	if err != nil {
		return nil, fmt.Errorf("marshal feature_flags: %w", err)
	}

	row := db.conn.QueryRowContext(ctx, `
		UPDATE system_settings SET
			ai_provider = ?, ai_api_key_ciphertext = ?, instagram_default_scraper = ?,
			instagram_allow_override = ?, feature_flags = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING id, ai_provider, ai_api_key_ciphertext, instagram_default_scraper, instagram_allow_override, feature_flags, updated_at`,
		s.AIProvider, s.AIAPIKeyCiphertext, s.InstagramDefaultScraper, s.InstagramAllowOverride, flagsJSON, settingsSingletonID,
	)
	return scanSettings(row)
}

func scanSettings(row rowScanner) (*models.SystemSettings, error) {
	var s models.SystemSettings
	var flagsJSON []byte
	if err := row.Scan(
		&s.ID, &s.AIProvider, &s.AIAPIKeyCiphertext, &s.InstagramDefaultScraper,
		&s.InstagramAllowOverride, &flagsJSON, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan system_settings: %w", err)
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &s.FeatureFlags); err != nil {
			return nil, fmt.Errorf("unmarshal feature_flags: %w", err)
		}
	}
	return &s, nil
}

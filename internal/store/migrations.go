package store

import (
	"context"
	"fmt"

	"github.com/eventscrape/core/internal/logging"
)

// migration is one versioned schema change, tracked in schema_migrations so Open is
// idempotent across restarts.
type migration struct {
	Version     int
	Description string
	SQL         string
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// migrations is the full, append-only schema history. A running process never rewrites an
// already-applied entry; new schema changes are added as a new version at the end.
var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema: sources, runs, raw_events, event_series, event_occurrences",
		SQL: `
CREATE TABLE sources (
	id                     UUID PRIMARY KEY,
	name                   TEXT NOT NULL,
	base_url               TEXT NOT NULL,
	module_key             TEXT NOT NULL,
	active                 BOOLEAN NOT NULL DEFAULT true,
	default_timezone       TEXT NOT NULL DEFAULT 'UTC',
	rate_limit_per_min     INTEGER NOT NULL DEFAULT 30,
	source_type            TEXT NOT NULL DEFAULT 'website',
	instagram_username     TEXT,
	classification_mode    TEXT,
	instagram_scraper_type TEXT,
	last_checked           TIMESTAMP,
	created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE runs (
	id             UUID PRIMARY KEY,
	source_id      UUID NOT NULL REFERENCES sources(id),
	parent_run_id  UUID REFERENCES runs(id),
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP,
	status         TEXT NOT NULL DEFAULT 'queued',
	pages_crawled  INTEGER NOT NULL DEFAULT 0,
	events_found   INTEGER NOT NULL DEFAULT 0,
	errors         JSON,
	metadata       JSON
);
CREATE INDEX idx_runs_source_id ON runs(source_id);
CREATE INDEX idx_runs_parent_run_id ON runs(parent_run_id);
CREATE INDEX idx_runs_status ON runs(status);

CREATE TABLE event_series (
	id                     UUID PRIMARY KEY,
	source_id              UUID NOT NULL REFERENCES sources(id),
	source_event_id        TEXT,
	title                  TEXT NOT NULL,
	description            TEXT,
	venue_name             TEXT,
	venue_address          TEXT,
	organizer              TEXT,
	category               TEXT,
	occurrence_type        TEXT NOT NULL,
	recurrence_type        TEXT NOT NULL DEFAULT 'none',
	event_status           TEXT NOT NULL DEFAULT 'scheduled',
	url_primary            TEXT,
	content_hash           TEXT NOT NULL,
	raw                    JSON,
	last_updated_by_run_id UUID REFERENCES runs(id),
	created_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at             TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX uq_event_series_source_event ON event_series(source_id, source_event_id)
	WHERE source_event_id IS NOT NULL;
CREATE INDEX idx_event_series_source_id ON event_series(source_id);

CREATE TABLE event_occurrences (
	id                   UUID PRIMARY KEY,
	series_id            UUID NOT NULL REFERENCES event_series(id),
	occurrence_hash      TEXT NOT NULL,
	sequence             INTEGER NOT NULL DEFAULT 0,
	start_datetime       TIMESTAMP NOT NULL,
	start_datetime_utc   TIMESTAMP NOT NULL,
	end_datetime         TIMESTAMP,
	end_datetime_utc     TIMESTAMP,
	duration_seconds     INTEGER,
	timezone             TEXT NOT NULL,
	has_recurrence       BOOLEAN NOT NULL DEFAULT false,
	is_provisional       BOOLEAN NOT NULL DEFAULT false,
	title_override       TEXT,
	description_override TEXT,
	venue_override       TEXT,
	status_override      TEXT,
	raw                  JSON,
	scraped_at           TIMESTAMP NOT NULL,
	last_seen_at         TIMESTAMP NOT NULL,
	UNIQUE(series_id, occurrence_hash)
);
CREATE INDEX idx_event_occurrences_series_id ON event_occurrences(series_id);
CREATE INDEX idx_event_occurrences_start ON event_occurrences(start_datetime_utc);
`,
	},
	{
		Version:     2,
		Description: "raw_events, matches, canonical_events",
		SQL: `
CREATE TABLE raw_events (
	id                         UUID PRIMARY KEY,
	source_id                  UUID NOT NULL REFERENCES sources(id),
	run_id                     UUID NOT NULL REFERENCES runs(id),
	source_event_id            TEXT,
	series_id                  UUID REFERENCES event_series(id),
	occurrence_id              UUID REFERENCES event_occurrences(id),
	title                      TEXT NOT NULL,
	description                TEXT,
	start_datetime             TIMESTAMP NOT NULL,
	end_datetime               TIMESTAMP,
	timezone                   TEXT,
	venue_name                 TEXT,
	venue_address              TEXT,
	city                       TEXT,
	region                     TEXT,
	country                    TEXT,
	lat                        DOUBLE,
	lon                        DOUBLE,
	organizer                  TEXT,
	category                   TEXT,
	tags                       JSON,
	price                      TEXT,
	url                        TEXT,
	image_url                  TEXT,
	raw                        JSON,
	content_hash               TEXT NOT NULL,
	scraped_at                 TIMESTAMP NOT NULL,
	last_seen_at               TIMESTAMP NOT NULL,
	instagram_post_id          TEXT,
	instagram_caption          TEXT,
	instagram_local_image_path TEXT,
	classification_confidence  DOUBLE,
	is_event_poster            BOOLEAN
);
CREATE UNIQUE INDEX uq_raw_events_source_event ON raw_events(source_id, source_event_id)
	WHERE source_event_id IS NOT NULL;
CREATE INDEX idx_raw_events_run_id ON raw_events(run_id);
CREATE INDEX idx_raw_events_source_id ON raw_events(source_id);
CREATE INDEX idx_raw_events_content_hash ON raw_events(content_hash);
CREATE INDEX idx_raw_events_start ON raw_events(start_datetime);

CREATE TABLE matches (
	id         UUID PRIMARY KEY,
	raw_id_a   UUID NOT NULL REFERENCES raw_events(id),
	raw_id_b   UUID NOT NULL REFERENCES raw_events(id),
	score      DOUBLE NOT NULL,
	reason     JSON NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_by TEXT,
	UNIQUE(raw_id_a, raw_id_b)
);
CREATE INDEX idx_matches_status ON matches(status);

CREATE TABLE canonical_events (
	id                  UUID PRIMARY KEY,
	title               TEXT NOT NULL,
	description         TEXT,
	start_datetime      TIMESTAMP NOT NULL,
	end_datetime        TIMESTAMP,
	timezone            TEXT,
	venue_name          TEXT,
	city                TEXT,
	organizer           TEXT,
	category            TEXT,
	url                 TEXT,
	image_url           TEXT,
	dedupe_key          TEXT,
	merged_from_raw_ids JSON,
	status              TEXT NOT NULL DEFAULT 'new',
	created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(dedupe_key)
);
CREATE INDEX idx_canonical_events_status ON canonical_events(status);
CREATE INDEX idx_canonical_events_start ON canonical_events(start_datetime);
`,
	},
	{
		Version:     3,
		Description: "schedules, exports, system_settings",
		SQL: `
CREATE TABLE schedules (
	id                    UUID PRIMARY KEY,
	schedule_type         TEXT NOT NULL,
	source_id             UUID REFERENCES sources(id),
	wordpress_settings_id UUID,
	cron                  TEXT NOT NULL,
	timezone              TEXT NOT NULL DEFAULT 'UTC',
	active                BOOLEAN NOT NULL DEFAULT true,
	repeat_key            TEXT,
	config                JSON,
	created_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at            TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_schedules_active ON schedules(active);

CREATE TABLE exports (
	id            UUID PRIMARY KEY,
	format        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'processing',
	item_count    INTEGER NOT NULL DEFAULT 0,
	file_path     TEXT,
	params        JSON,
	error_message TEXT,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	schedule_id   UUID REFERENCES schedules(id)
);
CREATE INDEX idx_exports_created_at ON exports(created_at);

CREATE TABLE system_settings (
	id                       UUID PRIMARY KEY,
	ai_provider              TEXT,
	ai_api_key_ciphertext    TEXT,
	instagram_default_scraper TEXT,
	instagram_allow_override  BOOLEAN NOT NULL DEFAULT true,
	feature_flags            JSON,
	updated_at               TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		Version:     4,
		Description: "job bookkeeping rows for the queue component",
		SQL: `
CREATE TABLE jobs (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'queued',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	enqueued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_jobs_state_updated ON jobs(state, updated_at);
`,
	},
	{
		Version:     5,
		Description: "wordpress_settings for the export engine's REST upload path",
		SQL: `
CREATE TABLE wordpress_settings (
	id                        UUID PRIMARY KEY,
	name                      TEXT NOT NULL,
	site_url                  TEXT NOT NULL,
	username                  TEXT NOT NULL,
	app_password_ciphertext   TEXT NOT NULL,
	update_if_exists          BOOLEAN NOT NULL DEFAULT true,
	include_media             BOOLEAN NOT NULL DEFAULT true,
	source_category_mappings  JSON,
	created_at                TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at                TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
}

// migrate applies every migration newer than the highest already-recorded version, inside
// one transaction per migration so a mid-apply failure never leaves a half-applied version
// marked as done.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		logging.Info().Int("version", m.Version).Str("description", m.Description).Msg("applied migration")
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer closeRowsQuietly(rows)

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("exec migration sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		m.Version, m.Description); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

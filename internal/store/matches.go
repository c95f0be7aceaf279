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

// CreateMatch inserts a candidate pair produced by the match engine. A duplicate
// (raw_id_a, raw_id_b) pair is silently ignored (ON CONFLICT DO NOTHING) since re-running the
// match engine over overlapping windows is expected and must stay idempotent.
func (db *DB) CreateMatch(ctx context.Context, m *models.Match) (*models.Match, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	reasonJSON, err := json.Marshal(m.Reason)
	if err != nil {
		return nil, fmt.Errorf("marshal match reason: %w", err)
	}
	if m.Status == "" {
		m.Status = models.MatchOpen
	}

	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO matches (id, raw_id_a, raw_id_b, score, reason, status, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (raw_id_a, raw_id_b) DO NOTHING
		RETURNING id, raw_id_a, raw_id_b, score, reason, status, created_at, created_by`,
		m.ID, m.RawIDA, m.RawIDB, m.Score, reasonJSON, m.Status, m.CreatedBy,
	)
	out, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return db.getMatchByPair(ctx, m.RawIDA, m.RawIDB)
	}
	return out, err
}

func (db *DB) getMatchByPair(ctx context.Context, a, b uuid.UUID) (*models.Match, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, raw_id_a, raw_id_b, score, reason, status, created_at, created_by
		FROM matches WHERE raw_id_a = ? AND raw_id_b = ?`, a, b)
	return scanMatch(row)
}

// GetMatch fetches one match by ID.
func (db *DB) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, raw_id_a, raw_id_b, score, reason, status, created_at, created_by
		FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("match", id)
	}
	return m, err
}

// ListMatches returns matches filtered by status ("" for all), most recent first.
func (db *DB) ListMatches(ctx context.Context, status models.MatchStatus) ([]*models.Match, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, raw_id_a, raw_id_b, score, reason, status, created_at, created_by FROM matches`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer closeRowsQuietly(rows)

	var out []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DecideMatch records an operator decision (confirm or reject). Confirming does not itself
// create or update a canonical event — that is the caller's job, normally done in the same
// transaction as the canonical merge, per spec §4.I.
func (db *DB) DecideMatch(ctx context.Context, id uuid.UUID, status models.MatchStatus) (*models.Match, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if status != models.MatchConfirmed && status != models.MatchRejected {
		return nil, apperr.Validation(fmt.Sprintf("invalid match decision status %q", status))
	}

	row := db.conn.QueryRowContext(ctx, `
		UPDATE matches SET status = ? WHERE id = ?
		RETURNING id, raw_id_a, raw_id_b, score, reason, status, created_at, created_by`,
		status, id,
	)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("match", id)
	}
	return m, err
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	var reasonJSON []byte
	if err := row.Scan(&m.ID, &m.RawIDA, &m.RawIDB, &m.Score, &reasonJSON, &m.Status, &m.CreatedAt, &m.CreatedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan match: %w", err)
	}
	if len(reasonJSON) > 0 {
		if err := json.Unmarshal(reasonJSON, &m.Reason); err != nil {
			return nil, fmt.Errorf("unmarshal match reason: %w", err)
		}
	}
	return &m, nil
}

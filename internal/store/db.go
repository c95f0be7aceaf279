// Package store is the relational-store component (spec §4.A): durable state for
// sources, runs, raw events, series, occurrences, canonical events, matches, schedules,
// exports, and system settings, backed by an embedded DuckDB instance accessed through
// database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" database/sql driver

	"github.com/eventscrape/core/internal/logging"
)

// DB wraps the duckdb connection pool plus the per-aggregate CRUD methods defined across
// this package's other files.
type DB struct {
	conn *sql.DB
}

// Open creates the parent directory for a file-backed database (no-op for ":memory:"),
// opens the connection, tunes the pool, and applies migrations.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	if databaseURL != ":memory:" {
		if dir := filepath.Dir(databaseURL); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("duckdb", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", databaseURL, err)
	}

	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping probes database connectivity for the HTTP façade's health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	return db.conn.PingContext(ctx)
}

// ensureContext applies a default statement timeout when the caller didn't set a
// deadline, mirroring the teacher's connection-safety convention.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 30*time.Second)
}

func closeRowsQuietly(rows *sql.Rows) {
	if rows == nil {
		return
	}
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close rows")
	}
}

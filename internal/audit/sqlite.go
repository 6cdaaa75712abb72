// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq                    INTEGER PRIMARY KEY AUTOINCREMENT,
	id                     TEXT NOT NULL UNIQUE,
	ts                     TEXT NOT NULL,
	module                 TEXT NOT NULL,
	class                  TEXT NOT NULL,
	system_prompt          TEXT NOT NULL DEFAULT '',
	anonymized_user_prompt TEXT NOT NULL DEFAULT '',
	deanonymized_response  TEXT NOT NULL DEFAULT '',
	provider_kind          TEXT NOT NULL DEFAULT '',
	model_name             TEXT NOT NULL DEFAULT '',
	success                INTEGER NOT NULL,
	error                  TEXT NOT NULL DEFAULT '',
	error_kind             TEXT NOT NULL DEFAULT '',
	token_estimate         INTEGER NOT NULL DEFAULT 0,
	latency_ms             INTEGER NOT NULL DEFAULT 0,
	anonymization_session  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries(ts);
`

const columns = `id, ts, module, class, system_prompt, anonymized_user_prompt,
	deanonymized_response, provider_kind, model_name, success, error, error_kind,
	token_estimate, latency_ms, anonymization_session`

// SQLiteSink stores entries in the audit_entries table.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the audit database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restrict audit database: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Write inserts e.
func (s *SQLiteSink) Write(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Module,
		e.Class,
		e.SystemPrompt,
		e.AnonymizedUserPrompt,
		e.DeanonymizedResponse,
		e.ProviderKind,
		e.ModelName,
		e.Success,
		e.Error,
		e.ErrorKind,
		e.TokenEstimate,
		e.LatencyMs,
		e.AnonymizationSession,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM audit_entries ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			id, ts  string
			success int
		)
		if err := rows.Scan(&id, &ts, &e.Module, &e.Class, &e.SystemPrompt,
			&e.AnonymizedUserPrompt, &e.DeanonymizedResponse, &e.ProviderKind,
			&e.ModelName, &success, &e.Error, &e.ErrorKind, &e.TokenEstimate,
			&e.LatencyMs, &e.AnonymizationSession); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse audit entry id %q: %w", id, err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

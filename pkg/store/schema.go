package store

import (
	"context"
	"fmt"
)

// schema is portable between SQLite and PostgreSQL. Timestamps are Unix
// milliseconds; evidence and job payloads are JSON text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id                   TEXT PRIMARY KEY,
		username_normalized  TEXT NOT NULL UNIQUE,
		display_name         TEXT,
		display_name_locked  BOOLEAN NOT NULL DEFAULT FALSE,
		avatar_url           TEXT,
		avatar_locked        BOOLEAN NOT NULL DEFAULT FALSE,
		ingestion_status     TEXT NOT NULL DEFAULT 'idle',
		last_ingestion_error TEXT,
		updated_at           BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		id              TEXT PRIMARY KEY,
		profile_id      TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		platform        TEXT NOT NULL,
		url             TEXT NOT NULL,
		canonical_key   TEXT NOT NULL,
		display_text    TEXT,
		sort_order      INTEGER NOT NULL DEFAULT 0,
		state           TEXT NOT NULL,
		confidence      NUMERIC(3,2) NOT NULL DEFAULT 0,
		source_type     TEXT NOT NULL,
		source_platform TEXT NOT NULL DEFAULT '',
		evidence        TEXT NOT NULL DEFAULT '{}',
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL
	)`,
	// Backstop against two writers inserting the same destination.
	`CREATE UNIQUE INDEX IF NOT EXISTS links_profile_canonical ON links (profile_id, canonical_key)`,
	`CREATE TABLE IF NOT EXISTS ingestion_jobs (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		profile_id      TEXT NOT NULL,
		source_platform TEXT NOT NULL,
		dedup_key       TEXT NOT NULL,
		payload         TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		attempts        INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL,
		priority        INTEGER NOT NULL DEFAULT 0,
		run_at          BIGINT NOT NULL,
		last_error      TEXT,
		claimed_at      BIGINT,
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL,
		finished_at     BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS ingestion_jobs_claim ON ingestion_jobs (status, priority, run_at)`,
	`CREATE INDEX IF NOT EXISTS ingestion_jobs_dedup ON ingestion_jobs (dedup_key, status)`,
	`CREATE INDEX IF NOT EXISTS ingestion_jobs_network ON ingestion_jobs (source_platform, status, claimed_at)`,
	`CREATE TABLE IF NOT EXISTS scraper_configs (
		network             TEXT PRIMARY KEY,
		max_concurrent      INTEGER NOT NULL,
		max_jobs_per_minute INTEGER NOT NULL,
		strategy            TEXT NOT NULL DEFAULT 'auto',
		enabled             BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// Migrate creates any missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	s.logger.DebugContext(ctx, "schema applied", "driver", s.db.DriverName())
	return nil
}

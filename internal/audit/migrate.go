package audit

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scans (
		scan_id           TEXT PRIMARY KEY,
		fingerprint       TEXT NOT NULL,
		requester_id      TEXT,
		mode              TEXT NOT NULL,
		status            TEXT NOT NULL,
		findings          JSONB,
		neural_health     INTEGER NOT NULL DEFAULT 100,
		quantum_integrity DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		threat_level      DOUBLE PRECISION NOT NULL DEFAULT 0,
		confidence_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
		recommendations   JSONB,
		sandbox_run       JSONB,
		scan_duration_ms  BIGINT NOT NULL DEFAULT 0,
		error             TEXT,
		started_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_started_at ON scans (started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_fingerprint ON scans (fingerprint)`,

	`CREATE TABLE IF NOT EXISTS threat_events (
		event_id   TEXT PRIMARY KEY,
		scan_id    TEXT NOT NULL,
		category   TEXT NOT NULL,
		severity   TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threat_events_scan ON threat_events (scan_id)`,
	`CREATE INDEX IF NOT EXISTS idx_threat_events_category ON threat_events (category, severity)`,

	`CREATE TABLE IF NOT EXISTS emergency_responses (
		response_id    TEXT PRIMARY KEY,
		scan_id        TEXT NOT NULL,
		threat_level   DOUBLE PRECISION NOT NULL,
		classification TEXT NOT NULL,
		final_state    TEXT NOT NULL,
		actions        JSONB,
		block_rules    TEXT[],
		succeeded      BOOLEAN NOT NULL DEFAULT false,
		created_at     TIMESTAMPTZ NOT NULL,
		completed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_created ON emergency_responses (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS signatures (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		severity    TEXT NOT NULL,
		pattern     TEXT NOT NULL,
		mitigation  TEXT NOT NULL DEFAULT '',
		active      BOOLEAN NOT NULL DEFAULT true,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'analyst',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the storage schema when missing. Statements are
// idempotent so startup can always run this.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

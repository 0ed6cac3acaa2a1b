package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
)

// Table names
const (
	tableCircles         = "circles"
	tableFunctions       = "functions"
	tablePromoterCircles = "promoter_circles"
	tableCommissions     = "commissions"
	tableProcessedEvents = "processed_events"
)

// {{ts}} is replaced with the dialect's timestamp type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS circles (
		id VARCHAR(128) PRIMARY KEY,
		program_id VARCHAR(128) NOT NULL,
		name VARCHAR(255) NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS circles_program_idx ON circles (program_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS circles_one_default_idx ON circles (program_id) WHERE is_default`,

	`CREATE TABLE IF NOT EXISTS functions (
		id VARCHAR(128) PRIMARY KEY,
		circle_id VARCHAR(128) NOT NULL REFERENCES circles (id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		trigger_type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		definition TEXT NOT NULL,
		created_at {{ts}} NOT NULL,
		UNIQUE (circle_id, position)
	)`,

	`CREATE TABLE IF NOT EXISTS promoter_circles (
		program_id VARCHAR(128) NOT NULL,
		promoter_id VARCHAR(128) NOT NULL,
		circle_id VARCHAR(128) NOT NULL REFERENCES circles (id),
		updated_at {{ts}} NOT NULL,
		PRIMARY KEY (program_id, promoter_id)
	)`,
	`CREATE INDEX IF NOT EXISTS promoter_circles_circle_idx ON promoter_circles (circle_id)`,

	`CREATE TABLE IF NOT EXISTS commissions (
		id VARCHAR(128) PRIMARY KEY,
		source_event_id VARCHAR(128) NOT NULL,
		function_id VARCHAR(128) NOT NULL,
		program_id VARCHAR(128) NOT NULL,
		contact_id VARCHAR(128) NOT NULL,
		promoter_id VARCHAR(128) NOT NULL,
		link_id VARCHAR(128) NOT NULL,
		conversion_type VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL,
		revenue BIGINT NOT NULL,
		external_id VARCHAR(256) NOT NULL DEFAULT '',
		occurred_at {{ts}} NOT NULL,
		created_at {{ts}} NOT NULL,
		UNIQUE (source_event_id, function_id)
	)`,
	`CREATE INDEX IF NOT EXISTS commissions_program_idx ON commissions (program_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS processed_events (
		source_event_id VARCHAR(128) PRIMARY KEY,
		program_id VARCHAR(128) NOT NULL,
		contact_id VARCHAR(128) NOT NULL,
		promoter_id VARCHAR(128) NOT NULL,
		trigger_type VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL,
		outcome VARCHAR(32) NOT NULL,
		circle_id VARCHAR(128) NOT NULL,
		function_id VARCHAR(128) NOT NULL DEFAULT '',
		commission_id VARCHAR(128) NOT NULL DEFAULT '',
		new_circle_id VARCHAR(128) NOT NULL DEFAULT '',
		occurred_at {{ts}} NOT NULL,
		processed_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS processed_events_pair_idx ON processed_events (program_id, contact_id, promoter_id)`,
}

// Migrate creates the tables and indexes if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if s.dialect == dialect.SQLite {
		ts = "TIMESTAMP"
	}
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{ts}}", ts)
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("failed applying schema: %w", err)
		}
	}
	s.log.Info("database schema applied", "dialect", s.dialect)
	return nil
}

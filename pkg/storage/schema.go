package storage

import (
	"context"
	"fmt"
)

// The definition/instance split lets several instances share one stored
// definition: holons carries purpose and action signatures, hobjs carries
// per-instance knowledge, bank and clocks. Timestamps are unix
// milliseconds; nullable columns stay NULL until first set.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS holons (
		id         TEXT PRIMARY KEY,
		purpose    TEXT,
		self_state TEXT,
		actions    TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hobjs (
		id              TEXT PRIMARY KEY,
		holon_id        TEXT REFERENCES holons (id) ON DELETE SET NULL,
		parent_id       TEXT REFERENCES hobjs (id) ON DELETE SET NULL,
		knowledge       TEXT,
		token_bank      INTEGER NOT NULL DEFAULT 0,
		heart_rate_secs INTEGER NOT NULL DEFAULT 1,
		last_heartbeat  INTEGER,
		next_heartbeat  INTEGER,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_hobjs_holon_id ON hobjs (holon_id)`,
	`CREATE INDEX IF NOT EXISTS ix_hobjs_parent_id ON hobjs (parent_id)`,
	`CREATE TABLE IF NOT EXISTS holon_references (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		holon_id       TEXT NOT NULL REFERENCES holons (id) ON DELETE CASCADE,
		hobj_id        TEXT NOT NULL REFERENCES hobjs (id) ON DELETE CASCADE,
		reference_type TEXT NOT NULL,
		created_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_holon_refs_holon ON holon_references (holon_id)`,
	`CREATE INDEX IF NOT EXISTS ix_holon_refs_hobj ON holon_references (hobj_id)`,
	`CREATE TABLE IF NOT EXISTS heartbeats (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		heartbeat_time INTEGER NOT NULL,
		prompt         TEXT,
		response       TEXT,
		hobj_count     INTEGER NOT NULL DEFAULT 0,
		duration_ms    REAL,
		created_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_heartbeats_time ON heartbeats (heartbeat_time)`,
	`CREATE TABLE IF NOT EXISTS heartbeat_hobjs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		heartbeat_id   INTEGER NOT NULL REFERENCES heartbeats (id) ON DELETE CASCADE,
		hobj_id        TEXT NOT NULL REFERENCES hobjs (id) ON DELETE CASCADE,
		hud_sent       TEXT,
		actions_result TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_heartbeat_hobjs_heartbeat ON heartbeat_hobjs (heartbeat_id)`,
	`CREATE INDEX IF NOT EXISTS ix_heartbeat_hobjs_hobj ON heartbeat_hobjs (hobj_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		sender_id       TEXT NOT NULL,
		recipient_ids   TEXT NOT NULL,
		content         TEXT NOT NULL,
		tokens_attached INTEGER NOT NULL DEFAULT 0,
		timestamp       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_sender ON messages (sender_id)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_timestamp ON messages (timestamp)`,
	`CREATE TABLE IF NOT EXISTS telemetry_snapshots (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_time INTEGER NOT NULL,
		data          TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_telemetry_time ON telemetry_snapshots (snapshot_time)`,
}

// CreateTables creates any missing tables and indexes. Safe to call on an
// existing database.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Package persistence provides SQLite-backed storage for the project graph,
// the event ledger, change sets, and the governance tables.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}

		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies a specific version migration.
func runMigration(_ *sql.DB, version int) error {
	// Version 1 is the initial schema; future versions add cases here.
	return fmt.Errorf("unknown migration version: %d", version)
}

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		// Schema version tracking
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Graph nodes
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT,
			subsystem TEXT,
			owner TEXT,
			external_refs TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Graph edges; endpoints must exist in the same project, enforced in
		// the ops layer so a violation surfaces as NotFound rather than a
		// bare constraint error.
		`CREATE TABLE IF NOT EXISTS edges (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			from_node_id TEXT NOT NULL REFERENCES nodes(id),
			to_node_id TEXT NOT NULL REFERENCES nodes(id),
			relation_type TEXT NOT NULL,
			source_system TEXT,
			weight REAL NOT NULL DEFAULT 1.0 CHECK (weight >= 0),
			bidirectional INTEGER NOT NULL DEFAULT 0,
			weight_metadata TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Append-only event ledger
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			source_system TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			event_type TEXT NOT NULL CHECK (event_type IN
				('created','updated','deleted','linked','unlinked','status_changed')),
			timestamp DATETIME NOT NULL,
			diff_payload TEXT
		)`,

		// Change sets; anchor is unique per project (get-or-create)
		`CREATE TABLE IF NOT EXISTS change_sets (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			anchor TEXT NOT NULL,
			label TEXT,
			stats TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (project_id, anchor)
		)`,

		// Change set membership
		`CREATE TABLE IF NOT EXISTS change_set_events (
			change_set_id TEXT NOT NULL REFERENCES change_sets(id) ON DELETE CASCADE,
			event_id TEXT NOT NULL REFERENCES events(id),
			PRIMARY KEY (change_set_id, event_id)
		)`,

		// Governance: tasks
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'backlog' CHECK (status IN
				('backlog','in_progress','review','done')),
			assignee_type TEXT NOT NULL CHECK (assignee_type IN ('agent','human')),
			assignee_id TEXT,
			context_node_id TEXT,
			acceptance_criteria TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// Governance: plans
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			proposed_by TEXT NOT NULL,
			rationale TEXT,
			steps TEXT NOT NULL,
			planned_traversal TEXT,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN
				('pending','approved','rejected','executed')),
			reviewed_by TEXT,
			reviewed_at DATETIME,
			review_feedback TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			executed_at DATETIME
		)`,

		// Governance: runs
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			plan_id TEXT NOT NULL REFERENCES plans(id),
			status TEXT NOT NULL DEFAULT 'running' CHECK (status IN
				('running','completed','failed')),
			failure_reason TEXT,
			artifacts TEXT,
			actual_traversal TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,

		// Governance: verifications
		`CREATE TABLE IF NOT EXISTS verifications (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			run_id TEXT NOT NULL REFERENCES runs(id),
			criterion_id TEXT NOT NULL,
			criterion_text TEXT NOT NULL,
			evidence_type TEXT,
			evidence_ref TEXT,
			verified_by TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN
				('pending','approved','rejected')),
			verified_at DATETIME NOT NULL
		)`,

		// Decision traces: append-only audit records
		`CREATE TABLE IF NOT EXISTS decision_traces (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			decision_type TEXT NOT NULL CHECK (decision_type IN
				('path_selection','tool_choice','parameter_selection','termination')),
			context_snapshot TEXT,
			options_considered TEXT,
			selected_option TEXT,
			reasoning TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.8 CHECK (confidence >= 0 AND confidence <= 1),
			timestamp DATETIME NOT NULL
		)`,

		// Precedent patterns for heuristic lookup
		`CREATE TABLE IF NOT EXISTS precedents (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			pattern TEXT NOT NULL,
			success_count INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME NOT NULL,
			UNIQUE (project_id, pattern)
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_nodes_project_type ON nodes(project_id, type)",
		"CREATE INDEX IF NOT EXISTS idx_nodes_project_subsystem ON nodes(project_id, subsystem)",
		"CREATE INDEX IF NOT EXISTS idx_edges_project_relation ON edges(project_id, relation_type)",
		"CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_node_id)",
		"CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_node_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_project_entity_ts ON events(project_id, entity_id, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_events_project_ts ON events(project_id, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_change_set_events_event ON change_set_events(event_id)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_type, assignee_id)",
		"CREATE INDEX IF NOT EXISTS idx_plans_task ON plans(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status)",
		"CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_verifications_task ON verifications(task_id)",
		"CREATE INDEX IF NOT EXISTS idx_decision_traces_run ON decision_traces(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_precedents_project ON precedents(project_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// setSchemaVersion records the current schema version.
func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO schema_version (version) VALUES (?)
	`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil // No version set yet
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}

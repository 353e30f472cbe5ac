// ABOUTME: Journal schema migrations. Each version runs once, inside its own transaction,
// and is recorded in schema_migrations.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{1, "init_lifecycle_events", []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			operation_id TEXT,
			agent TEXT NOT NULL,
			cloud TEXT,
			machine TEXT,
			machine_id INTEGER,
			action TEXT,
			msg TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_agent ON lifecycle_events(agent, id)`,
	}},
	{2, "lifecycle_events_operation_index", []string{
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_operation ON lifecycle_events(operation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_cloud ON lifecycle_events(cloud, id)`,
	}},
	{3, "lifecycle_events_ts_index", []string{
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_ts ON lifecycle_events(ts)`,
	}},
}

// Migrate brings db up to the latest schema version. A database carrying a
// version this build does not know is refused.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}
	if err := checkMigrationList(migrations); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	known := make(map[int]bool, len(migrations))
	for _, m := range migrations {
		known[m.version] = true
	}
	for _, v := range applied {
		if !known[v] {
			return fmt.Errorf("unknown schema migration version %d", v)
		}
	}

	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range migrations {
		if done[m.version] {
			continue
		}
		if err := m.apply(db); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(db *sql.DB) ([]int, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()
	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	sort.Ints(versions)
	return versions, nil
}

func (m migration) apply(db *sql.DB) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range m.stmts {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err = tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}

// checkMigrationList requires strictly increasing positive versions, a name
// and at least one statement per migration.
func checkMigrationList(list []migration) error {
	if len(list) == 0 {
		return errors.New("no migrations defined")
	}
	prev := 0
	for _, m := range list {
		switch {
		case m.version <= prev:
			return fmt.Errorf("migration version %d must be greater than %d", m.version, prev)
		case m.name == "":
			return fmt.Errorf("migration %d missing name", m.version)
		case len(m.stmts) == 0:
			return fmt.Errorf("migration %d has no statements", m.version)
		}
		prev = m.version
	}
	return nil
}

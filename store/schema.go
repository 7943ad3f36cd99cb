package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// SchemaVersion is the version a freshly migrated database ends up at.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS queued_actions (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    payload     BLOB NOT NULL,
    enqueued_at INTEGER NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'pending',
    last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queued_actions_enqueued ON queued_actions(enqueued_at);
CREATE INDEX IF NOT EXISTS idx_queued_actions_status ON queued_actions(status);

CREATE TABLE IF NOT EXISTS asset_mirror (
    position INTEGER PRIMARY KEY,
    asset_id TEXT NOT NULL,
    data     BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS mirror_meta (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_users (
    username      TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    updated_at    INTEGER NOT NULL
);
`

// upgrades holds the additive migration for each version above 1, indexed by
// target version. Unsynced actions must survive every step, so entries may
// only add tables, columns or indexes.
var upgrades = map[int]string{}

func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	current, err := db.schemaVersion()
	if err != nil {
		return err
	}

	if current == 0 {
		if _, err := db.Exec(schemaV1); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
		current = 1
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		stmt, ok := upgrades[v]
		if !ok {
			return fmt.Errorf("no upgrade to schema v%d", v)
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("upgrade to schema v%d: %w", v, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, v); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) schemaVersion() (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Version returns the schema version recorded in the database.
func (db *DB) Version() (int, error) { return db.schemaVersion() }

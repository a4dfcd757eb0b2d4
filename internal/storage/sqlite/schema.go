package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// schema is the full DDL for a fresh database: the row store, the vector
// table, the link graph, and the FTS5 index with its sync triggers.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid             TEXT NOT NULL,
	mnemonic         TEXT NOT NULL UNIQUE,
	content          TEXT NOT NULL,
	tags             TEXT NOT NULL DEFAULT '[]',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	recall_count     INTEGER NOT NULL DEFAULT 0,
	last_recalled_at TEXT,
	useful_count     INTEGER NOT NULL DEFAULT 0,
	not_useful_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memory_vectors (
	memory_id INTEGER PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	embedding BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_links (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id  INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_id  INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	link_type  TEXT NOT NULL CHECK (link_type IN ('related', 'supersedes', 'derived_from')),
	created_at TEXT NOT NULL,
	UNIQUE (source_id, target_id, link_type)
);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	mnemonic,
	content,
	content='memories',
	content_rowid='id',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memory_fts(rowid, mnemonic, content) VALUES (new.id, new.mnemonic, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, mnemonic, content) VALUES ('delete', old.id, old.mnemonic, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, mnemonic, content) VALUES ('delete', old.id, old.mnemonic, old.content);
	INSERT INTO memory_fts(rowid, mnemonic, content) VALUES (new.id, new.mnemonic, new.content);
END;
`

// ensureSchema creates missing tables and triggers, then runs the idempotent
// migration steps: column backfill, UUID backfill, and FTS backfill. Safe to
// call on every open, including against a database from a prior version.
func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	if err := addMissingColumns(db); err != nil {
		return err
	}

	if err := backfillUUIDs(db); err != nil {
		return err
	}

	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_uuid ON memories(uuid)`); err != nil {
		return fmt.Errorf("sqlite: failed to create uuid index: %w", err)
	}

	if err := backfillFTS(db); err != nil {
		return err
	}

	return nil
}

// columnDefs lists columns that later schema revisions may need to add to an
// existing memories table. ALTER TABLE ADD COLUMN has no IF NOT EXISTS form
// in SQLite, so duplicate-column errors are tolerated rather than avoided.
var columnDefs = []string{
	"ALTER TABLE memories ADD COLUMN uuid TEXT NOT NULL DEFAULT ''",
	"ALTER TABLE memories ADD COLUMN useful_count INTEGER NOT NULL DEFAULT 0",
	"ALTER TABLE memories ADD COLUMN not_useful_count INTEGER NOT NULL DEFAULT 0",
}

func addMissingColumns(db *sql.DB) error {
	for _, stmt := range columnDefs {
		if _, err := db.Exec(stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return fmt.Errorf("sqlite: failed to add column (%q): %w", stmt, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column")
}

// backfillUUIDs assigns a fresh v4 UUID to any pre-existing row that has none
// — rows created before the uuid column existed, or by a direct row import.
func backfillUUIDs(db *sql.DB) error {
	rows, err := db.Query(`SELECT id FROM memories WHERE uuid IS NULL OR uuid = ''`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to scan for missing uuids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: failed to read memory id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := db.Exec(`UPDATE memories SET uuid = ? WHERE id = ?`, uuid.NewString(), id); err != nil {
			return fmt.Errorf("sqlite: failed to backfill uuid for id %d: %w", id, err)
		}
	}
	if len(ids) > 0 {
		log.Printf("sqlite: backfilled uuid for %d row(s)", len(ids))
	}
	return nil
}

// backfillFTS repopulates memory_fts from memories when the FTS table is
// empty but the row table is not — the case after restoring a dump that
// skipped virtual tables, or after a tokenizer change forced a rebuild.
func backfillFTS(db *sql.DB) error {
	var ftsCount, memCount int
	// memory_fts is an external-content table, so counting it directly would
	// read memories; the docsize shadow table holds one row per indexed row.
	if err := db.QueryRow(`SELECT count(*) FROM memory_fts_docsize`).Scan(&ftsCount); err != nil {
		return fmt.Errorf("sqlite: failed to count fts rows: %w", err)
	}
	if err := db.QueryRow(`SELECT count(*) FROM memories`).Scan(&memCount); err != nil {
		return fmt.Errorf("sqlite: failed to count memory rows: %w", err)
	}
	if ftsCount > 0 || memCount == 0 {
		return nil
	}

	if _, err := db.Exec(`INSERT INTO memory_fts(rowid, mnemonic, content) SELECT id, mnemonic, content FROM memories`); err != nil {
		return fmt.Errorf("sqlite: failed to backfill fts index: %w", err)
	}
	log.Printf("sqlite: backfilled fts index for %d row(s)", memCount)
	return nil
}

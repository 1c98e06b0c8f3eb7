package outputlog

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; schema_migrations records the applied
// versions so re-opening an existing database is a no-op.
var migrations = []string{
	// 1: chunk table + session/time index
	`CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		ts REAL NOT NULL,
		content TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session_ts
		ON chunks(session_id, ts);`,

	// 2: external-content FTS index kept in sync by triggers
	`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts
		USING fts5(content, content=chunks, content_rowid=id);
	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks
	BEGIN
		INSERT INTO chunks_fts(rowid, content)
		VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks
	BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content)
		VALUES ('delete', old.id, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks
	BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content)
		VALUES ('delete', old.id, old.content);
		INSERT INTO chunks_fts(rowid, content)
		VALUES (new.id, new.content);
	END;`,
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// Package outputlog persists captured terminal scrollback as an append-only,
// full-text-searchable chunk store backed by SQLite.
package outputlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/agentdeck/internal/log"
)

// Log is an append-only output log stored in SQLite with FTS5.
// Safe for concurrent use: WAL mode allows readers during writes; the
// process is the single logical writer.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the output log database at path.
// Parent directories are created automatically.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open output log: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info(log.CatLog, "output log opened", "path", path)
	return &Log{db: db}, nil
}

// now returns the current time as fractional unix seconds.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Append inserts a chunk of new lines for a session.
// An empty line slice is a no-op.
func (l *Log) Append(sessionID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	content := joinLines(lines)
	_, err := l.db.Exec(
		`INSERT INTO chunks (session_id, ts, content) VALUES (?, ?, ?)`,
		sessionID, now(), content,
	)
	if err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	log.Debug(log.CatLog, "chunk appended", "session", sessionID, "lines", len(lines))
	return nil
}

func joinLines(lines []string) string {
	out := lines[0]
	for _, line := range lines[1:] {
		out += "\n" + line
	}
	return out
}

// Read returns non-archived chunks for a session, oldest first.
// before limits results to chunks strictly older; pass 0 for the latest.
func (l *Log) Read(sessionID string, before float64, limit int) (HistoryPage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before > 0 {
		rows, err = l.db.Query(
			`SELECT id, session_id, ts, content FROM chunks
			 WHERE session_id = ? AND ts < ? AND archived = 0
			 ORDER BY ts DESC LIMIT ?`,
			sessionID, before, limit,
		)
	} else {
		rows, err = l.db.Query(
			`SELECT id, session_id, ts, content FROM chunks
			 WHERE session_id = ? AND archived = 0
			 ORDER BY ts DESC LIMIT ?`,
			sessionID, limit,
		)
	}
	if err != nil {
		return HistoryPage{}, fmt.Errorf("read chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.TS, &c.Content); err != nil {
			return HistoryPage{}, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return HistoryPage{}, fmt.Errorf("iterate chunks: %w", err)
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}

	page := HistoryPage{Chunks: chunks}
	if len(chunks) > 0 {
		page.EarliestTS = chunks[0].TS
	}
	return page, nil
}

// Search runs an FTS5 full-text query, best matches first.
// sessionID scopes the search to one session; pass "" for all sessions.
func (l *Log) Search(query, sessionID string, limit int) ([]SearchResult, error) {
	const snippetCols = `c.id, c.session_id, c.ts,
		snippet(chunks_fts, 0, '<b>', '</b>', '...', 40)`

	var (
		rows *sql.Rows
		err  error
	)
	if sessionID != "" {
		rows, err = l.db.Query(
			`SELECT `+snippetCols+`
			 FROM chunks_fts f
			 JOIN chunks c ON c.id = f.rowid
			 WHERE f.content MATCH ? AND c.session_id = ? AND c.archived = 0
			 ORDER BY f.rank LIMIT ?`,
			query, sessionID, limit,
		)
	} else {
		rows, err = l.db.Query(
			`SELECT `+snippetCols+`
			 FROM chunks_fts f
			 JOIN chunks c ON c.id = f.rowid
			 WHERE f.content MATCH ? AND c.archived = 0
			 ORDER BY f.rank LIMIT ?`,
			query, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TS, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}

// LatestTS returns the timestamp of the most recent chunk for a session.
// The second return is false when the session has no chunks.
func (l *Log) LatestTS(sessionID string) (float64, bool, error) {
	var ts sql.NullFloat64
	err := l.db.QueryRow(
		`SELECT MAX(ts) FROM chunks WHERE session_id = ?`,
		sessionID,
	).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("latest ts: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Float64, true, nil
}

// SoftDelete marks all chunks for a session as archived.
// Archived chunks stay in the FTS index's base table but are excluded from
// every read path.
func (l *Log) SoftDelete(sessionID string) error {
	_, err := l.db.Exec(`UPDATE chunks SET archived = 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	log.Info(log.CatLog, "session log archived", "session", sessionID)
	return nil
}

// SessionIDs returns session ids with at least one non-archived chunk.
func (l *Log) SessionIDs() ([]string, error) {
	rows, err := l.db.Query(`SELECT DISTINCT session_id FROM chunks WHERE archived = 0`)
	if err != nil {
		return nil, fmt.Errorf("session ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session ids: %w", err)
	}
	return ids, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

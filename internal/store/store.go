// Package store persists documents and chunks in a single SQLite file and
// provides the FTS5 candidate stage for two-stage search.
//
// The database stays in DELETE journal mode so it remains a single file: the
// refresh coordinator atomically renames a shadow copy over the primary, which
// WAL sidecar files would break.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Sentinel errors surfaced by store operations.
var (
	// ErrLocked indicates another writer holds the database file.
	ErrLocked = errors.New("database locked by another writer")

	// ErrReadOnly indicates a write was attempted on a read-only handle.
	ErrReadOnly = errors.New("store is read-only")

	// ErrClosed indicates the handle has been closed.
	ErrClosed = errors.New("store is closed")
)

// Document is a stored, normalized markdown document. Title may be empty.
type Document struct {
	ID          int64
	SourceName  string
	SourceURL   string
	DocURL      string
	Title       string
	Content     string
	ContentHash string
	UpdatedAt   time.Time
}

// Chunk is a stored chunk of a document. Positions are half-open offsets into
// the parent document's content.
type Chunk struct {
	ID       int64
	DocID    int64
	Content  string
	StartPos int
	EndPos   int
}

// ChunkRecord is the input shape for bulk chunk persistence.
type ChunkRecord struct {
	DocID    int64
	Content  string
	StartPos int
	EndPos   int
}

// StoredChunk joins a chunk with its parent document.
type StoredChunk struct {
	Chunk    Chunk
	Document Document
}

// SourceStats summarizes the stored documents of one source.
type SourceStats struct {
	Name        string
	URL         string
	DocCount    int
	LastUpdated time.Time
}

// Store is a handle on the document database, in read-only or read-write
// mode. Read-write handles run with a zero busy timeout, so a write that
// collides with another writer fails fast with ErrLocked instead of
// blocking.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	readOnly bool
	closed   bool
}

// Open opens (and in read-write mode initializes) the database at path.
// Parent directories are created if absent. Returns ErrLocked if another
// writer holds the file at open time.
//
// The write-lock probe is released once it succeeds, so it only detects
// writers that are mid-transaction when Open runs; it is not a continuous
// reservation. Writers that collide later fail per-statement with ErrLocked,
// and cross-process refresh exclusion comes from the flock in
// internal/refresh, not from this probe.
func Open(path string, readOnly bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: the handle is either a lone writer or a reader that
	// the refresh coordinator can close and reopen atomically.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path, readOnly: readOnly}

	if !readOnly {
		pragmas := []string{
			"PRAGMA busy_timeout = 0",
			"PRAGMA journal_mode = DELETE",
			"PRAGMA synchronous = NORMAL",
		}
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}

		// Probe the write lock so a second writer fails immediately instead
		// of at the first write.
		if _, err := db.Exec("BEGIN IMMEDIATE; COMMIT"); err != nil {
			_ = db.Close()
			if isBusy(err) {
				return nil, ErrLocked
			}
			return nil, fmt.Errorf("acquire write lock: %w", err)
		}

		if err := s.initSchema(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return s, nil
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether the handle is read-only.
func (s *Store) ReadOnly() bool { return s.readOnly }

// Close closes the handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_name TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		doc_url TEXT NOT NULL UNIQUE,
		title TEXT,
		content TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_documents_doc_url ON documents(doc_url);
	CREATE INDEX IF NOT EXISTS idx_documents_source_name ON documents(source_name);

	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_pos INTEGER NOT NULL,
		end_pos INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrate applies idempotent schema migrations: backfill source_name for
// legacy rows from the netloc of source_url, and drop the deprecated
// fetched_at column when present.
func (s *Store) migrate() error {
	cols, err := s.tableColumns("documents")
	if err != nil {
		return err
	}

	if _, ok := cols["source_name"]; !ok {
		if _, err := s.db.Exec(`ALTER TABLE documents ADD COLUMN source_name TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add source_name column: %w", err)
		}
	}

	if err := s.backfillSourceNames(); err != nil {
		return err
	}

	if _, ok := cols["fetched_at"]; ok {
		if _, err := s.db.Exec(`ALTER TABLE documents DROP COLUMN fetched_at`); err != nil {
			return fmt.Errorf("drop fetched_at column: %w", err)
		}
	}

	return nil
}

func (s *Store) tableColumns(table string) (map[string]struct{}, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

func (s *Store) backfillSourceNames() error {
	rows, err := s.db.Query(`SELECT DISTINCT source_url FROM documents WHERE source_name = ''`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var sourceURLs []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return err
		}
		sourceURLs = append(sourceURLs, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, su := range sourceURLs {
		name := "unknown"
		if u, err := url.Parse(su); err == nil && u.Host != "" {
			name = u.Host
		}
		if _, err := s.db.Exec(
			`UPDATE documents SET source_name = ? WHERE source_url = ? AND source_name = ''`,
			name, su,
		); err != nil {
			return err
		}
	}
	return nil
}

// ComputeHash returns the lowercase hex SHA-256 digest of content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *Store) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

// UpsertDocument inserts or updates the document identified by docURL.
// When the content hash is unchanged only updated_at is bumped, so unchanged
// refreshes do not rewrite content.
func (s *Store) UpsertDocument(sourceName, sourceURL, docURL, title, content string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return nil, err
	}

	hash := ComputeHash(content)
	now := time.Now().UTC()

	var (
		id      int64
		oldHash string
	)
	err := s.db.QueryRow(`SELECT id, content_hash FROM documents WHERE doc_url = ?`, docURL).
		Scan(&id, &oldHash)

	switch {
	case err == nil:
		if oldHash != hash {
			_, err = s.db.Exec(`
				UPDATE documents
				SET source_name = ?, source_url = ?, title = ?, content = ?,
				    content_hash = ?, updated_at = ?
				WHERE id = ?`,
				sourceName, sourceURL, nullable(title), content, hash, formatTime(now), id)
		} else {
			_, err = s.db.Exec(`UPDATE documents SET updated_at = ? WHERE id = ?`, formatTime(now), id)
		}
		if err != nil {
			return nil, fmt.Errorf("update document %s: %w", docURL, err)
		}

	case errors.Is(err, sql.ErrNoRows):
		res, insertErr := s.db.Exec(`
			INSERT INTO documents (source_name, source_url, doc_url, title, content, content_hash, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sourceName, sourceURL, docURL, nullable(title), content, hash, formatTime(now))
		if insertErr != nil {
			return nil, fmt.Errorf("insert document %s: %w", docURL, insertErr)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert document %s: %w", docURL, err)
		}

	default:
		return nil, fmt.Errorf("lookup document %s: %w", docURL, err)
	}

	return &Document{
		ID:          id,
		SourceName:  sourceName,
		SourceURL:   sourceURL,
		DocURL:      docURL,
		Title:       title,
		Content:     content,
		ContentHash: hash,
		UpdatedAt:   now,
	}, nil
}

const documentColumns = `id, source_name, source_url, doc_url, title, content, content_hash, updated_at`

// GetDocumentByURL returns the document with the given URL, or nil when no
// such document exists. Absence is not an error.
func (s *Store) GetDocumentByURL(docURL string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE doc_url = ?`, docURL)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docURL, err)
	}
	return doc, nil
}

// GetAllDocuments returns every stored document in insertion order.
func (s *Store) GetAllDocuments() ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT ` + documentColumns + ` FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DeleteStaleDocuments removes documents of sourceName whose URLs are not in
// validURLs, cascading to their chunks. An empty valid set removes every
// document of the source. Returns the number of documents deleted.
func (s *Store) DeleteStaleDocuments(sourceName string, validURLs map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return 0, err
	}

	rows, err := s.db.Query(`SELECT id, doc_url FROM documents WHERE source_name = ?`, sourceName)
	if err != nil {
		return 0, fmt.Errorf("list documents of %s: %w", sourceName, err)
	}

	var staleIDs []int64
	for rows.Next() {
		var (
			id int64
			u  string
		)
		if err := rows.Scan(&id, &u); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := validURLs[u]; !ok {
			staleIDs = append(staleIDs, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(staleIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(staleIDs))
	args := make([]any, len(staleIDs))
	for i, id := range staleIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id IN (`+in+`)`, args...); err != nil {
		return 0, fmt.Errorf("delete stale chunks: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE id IN (`+in+`)`, args...); err != nil {
		return 0, fmt.Errorf("delete stale documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(staleIDs), nil
}

// GetSourceStats returns per-source document counts and freshness, grouped by
// (source_name, source_url).
func (s *Store) GetSourceStats() ([]SourceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT source_name, source_url, COUNT(*), MAX(updated_at)
		FROM documents
		GROUP BY source_name, source_url`)
	if err != nil {
		return nil, fmt.Errorf("source stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStats
	for rows.Next() {
		var (
			st      SourceStats
			updated string
		)
		if err := rows.Scan(&st.Name, &st.URL, &st.DocCount, &updated); err != nil {
			return nil, err
		}
		st.LastUpdated = parseTime(updated)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// BulkStoreAllChunks atomically replaces the entire chunk table.
func (s *Store) BulkStoreAllChunks(chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin chunk replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks (doc_id, content, start_pos, end_pos) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(c.DocID, c.Content, c.StartPos, c.EndPos); err != nil {
			return fmt.Errorf("insert chunk for doc %d: %w", c.DocID, err)
		}
	}

	return tx.Commit()
}

// GetAllChunks returns every chunk joined with its parent document.
func (s *Store) GetAllChunks() ([]StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.doc_id, c.content, c.start_pos, c.end_pos,
		       d.id, d.source_name, d.source_url, d.doc_url, d.title,
		       d.content, d.content_hash, d.updated_at
		FROM chunks c
		JOIN documents d ON c.doc_id = d.id
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []StoredChunk
	for rows.Next() {
		var (
			sc      StoredChunk
			title   sql.NullString
			updated string
		)
		if err := rows.Scan(
			&sc.Chunk.ID, &sc.Chunk.DocID, &sc.Chunk.Content, &sc.Chunk.StartPos, &sc.Chunk.EndPos,
			&sc.Document.ID, &sc.Document.SourceName, &sc.Document.SourceURL, &sc.Document.DocURL,
			&title, &sc.Document.Content, &sc.Document.ContentHash, &updated,
		); err != nil {
			return nil, err
		}
		sc.Document.Title = title.String
		sc.Document.UpdatedAt = parseTime(updated)
		out = append(out, sc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc     Document
		title   sql.NullString
		updated string
	)
	if err := row.Scan(
		&doc.ID, &doc.SourceName, &doc.SourceURL, &doc.DocURL,
		&title, &doc.Content, &doc.ContentHash, &updated,
	); err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.UpdatedAt = parseTime(updated)
	return &doc, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

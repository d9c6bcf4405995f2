package store

import (
	"fmt"
	"strings"
)

// ftsTable is the FTS5 virtual table holding pre-tokenized chunk content.
// The porter tokenizer stems terms; stopword removal happens in Go before
// insert since FTS5 has no built-in English stoplist.
const ftsTable = "chunks_fts"

// HasFTSIndex reports whether the FTS candidate table exists.
func (s *Store) HasFTSIndex() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, ftsTable,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check fts table: %w", err)
	}
	return count > 0, nil
}

// CreateFTSIndex (re)builds the FTS candidate table from the chunks table.
// Chunk content is stopword-filtered before insert; Porter stemming, case
// folding, and accent stripping are done by the FTS5 tokenizer.
func (s *Store) CreateFTSIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin fts build: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + ftsTable); err != nil {
		return fmt.Errorf("drop fts table: %w", err)
	}
	if _, err := tx.Exec(`
		CREATE VIRTUAL TABLE ` + ftsTable + ` USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize = 'porter unicode61 remove_diacritics 2'
		)`); err != nil {
		return fmt.Errorf("create fts table: %w", err)
	}

	rows, err := tx.Query(`SELECT id, content FROM chunks ORDER BY id`)
	if err != nil {
		return fmt.Errorf("read chunks for fts: %w", err)
	}

	type ftsRow struct {
		id      int64
		content string
	}
	var pending []ftsRow
	for rows.Next() {
		var r ftsRow
		if err := rows.Scan(&r.id, &r.content); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	stmt, err := tx.Prepare(`INSERT INTO ` + ftsTable + `(chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range pending {
		processed := strings.Join(Tokenize(r.content), " ")
		if _, err := stmt.Exec(r.id, processed); err != nil {
			return fmt.Errorf("index chunk %d: %w", r.id, err)
		}
	}

	return tx.Commit()
}

// GetFTSCandidates returns up to limit chunk ids ranked best-first by the
// engine's BM25 scoring. Returns an empty slice when no FTS index exists or
// the query has no indexable terms.
func (s *Store) GetFTSCandidates(query string, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	// OR-join quoted terms for recall; the rerank stage narrows afterwards.
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	match := strings.Join(quoted, " OR ")

	// FTS5 bm25() is negative with lower = better, so ascending order yields
	// descending relevance.
	rows, err := s.db.Query(`
		SELECT chunk_id
		FROM `+ftsTable+`
		WHERE content MATCH ?
		ORDER BY bm25(`+ftsTable+`)
		LIMIT ?`, match, limit)
	if err != nil {
		// Missing table or a malformed MATCH query means no candidates, not
		// a failed search.
		if strings.Contains(err.Error(), "no such table") ||
			strings.Contains(err.Error(), "fts5") ||
			strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("fts candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package index

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"reposcope/internal/chunk"
)

// BM25Stats persists the inverted-index statistics the BM25 Engine needs:
// per-chunk term frequencies, document frequencies, chunk lengths, and the
// corpus average length. The engine itself (internal/bm25) owns
// tokenization and scoring; this type is pure storage.
type BM25Stats struct {
	db *sql.DB
}

// OpenBM25Stats opens (creating if needed) the sqlite-backed stats database.
func OpenBM25Stats(path string) (*BM25Stats, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening bm25 stats db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	s := &BM25Stats{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BM25Stats) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunk_terms (
			chunk_id TEXT NOT NULL,
			term TEXT NOT NULL,
			tf INTEGER NOT NULL,
			PRIMARY KEY (chunk_id, term)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_terms_term ON chunk_terms(term)`,
		`CREATE TABLE IF NOT EXISTS chunk_lengths (
			chunk_id TEXT PRIMARY KEY,
			length INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS corpus_stats (
			key TEXT PRIMARY KEY,
			value REAL NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating bm25 schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *BM25Stats) Close() error { return s.db.Close() }

// IndexChunks tokenizes and stores term statistics for freshly (re)chunked
// content. Callers must have already removed any stale rows for these
// chunk_ids (RemoveChunk) if they are replacing existing chunks.
func (s *BM25Stats) IndexChunks(chunks []chunk.Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	termStmt, err := tx.Prepare(`INSERT OR REPLACE INTO chunk_terms (chunk_id, term, tf) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer termStmt.Close()

	lenStmt, err := tx.Prepare(`INSERT OR REPLACE INTO chunk_lengths (chunk_id, length) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer lenStmt.Close()

	for _, c := range chunks {
		terms := Tokenize(c.Text)
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		for term, tf := range freq {
			if _, err := termStmt.Exec(c.ChunkID, term, tf); err != nil {
				return err
			}
		}
		if _, err := lenStmt.Exec(c.ChunkID, len(terms)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveChunk drops all stored statistics for one chunk_id.
func (s *BM25Stats) RemoveChunk(chunkID string) error {
	if _, err := s.db.Exec(`DELETE FROM chunk_terms WHERE chunk_id = ?`, chunkID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM chunk_lengths WHERE chunk_id = ?`, chunkID)
	return err
}

// RecomputeGlobalStats refreshes the corpus-wide total document count and
// average chunk length used by the BM25 length-normalization term.
func (s *BM25Stats) RecomputeGlobalStats() error {
	var totalDocs int64
	var totalLength sql.NullFloat64
	row := s.db.QueryRow(`SELECT COUNT(*), SUM(length) FROM chunk_lengths`)
	if err := row.Scan(&totalDocs, &totalLength); err != nil {
		return err
	}

	avgLength := 0.0
	if totalDocs > 0 && totalLength.Valid {
		avgLength = totalLength.Float64 / float64(totalDocs)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO corpus_stats (key, value) VALUES ('total_docs', ?)`, float64(totalDocs)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO corpus_stats (key, value) VALUES ('avg_length', ?)`, avgLength); err != nil {
		return err
	}
	return tx.Commit()
}

// GlobalStats is the corpus-wide state the BM25 formula needs.
type GlobalStats struct {
	TotalDocs int64
	AvgLength float64
}

// Global returns the current corpus statistics.
func (s *BM25Stats) Global() (GlobalStats, error) {
	var g GlobalStats
	row := s.db.QueryRow(`SELECT value FROM corpus_stats WHERE key = 'total_docs'`)
	var totalDocs float64
	if err := row.Scan(&totalDocs); err == nil {
		g.TotalDocs = int64(totalDocs)
	} else if err != sql.ErrNoRows {
		return g, err
	}
	row = s.db.QueryRow(`SELECT value FROM corpus_stats WHERE key = 'avg_length'`)
	_ = row.Scan(&g.AvgLength)
	return g, nil
}

// ChunkLength returns the token count for a chunk.
func (s *BM25Stats) ChunkLength(chunkID string) (int, error) {
	var length int
	err := s.db.QueryRow(`SELECT length FROM chunk_lengths WHERE chunk_id = ?`, chunkID).Scan(&length)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return length, err
}

// DocFreq returns the number of chunks containing term.
func (s *BM25Stats) DocFreq(term string) (int64, error) {
	var df int64
	err := s.db.QueryRow(`SELECT COUNT(DISTINCT chunk_id) FROM chunk_terms WHERE term = ?`, term).Scan(&df)
	return df, err
}

// ChunksForTerm returns the chunk_ids and term frequencies for every chunk
// that contains term.
func (s *BM25Stats) ChunksForTerm(term string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT chunk_id, tf FROM chunk_terms WHERE term = ?`, term)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var chunkID string
		var tf int
		if err := rows.Scan(&chunkID, &tf); err != nil {
			return nil, err
		}
		out[chunkID] = tf
	}
	return out, rows.Err()
}

// Tokenize applies the fixed BM25 tokenization rule: lowercase, split on
// non-alphanumeric while preserving underscores as separators, drop tokens
// shorter than 2 characters.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 2 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range lower {
		if r == '_' {
			flush()
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

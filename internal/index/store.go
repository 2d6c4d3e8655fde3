package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reposcope/internal/chunk"
	"reposcope/internal/config"
	"reposcope/internal/discovery"
	rerrors "reposcope/internal/errors"
	"reposcope/internal/hashutil"
	"reposcope/internal/sandbox"
)

// SchemaVersion is the on-disk index schema understood by this build. A
// mismatch forces a full rebuild on next refresh.
const SchemaVersion = 1

// Manifest is the index's top-level metadata record.
type Manifest struct {
	SchemaVersion       int       `json:"schema_version"`
	WindowLines         int       `json:"window_lines"`
	OverlapLines        int       `json:"overlap_lines"`
	ChunkVersion        int       `json:"chunk_version"`
	LastRefreshTimestamp time.Time `json:"last_refresh_timestamp"`
}

// FileRecord is the persisted per-file entry in the file table.
type FileRecord struct {
	Path         string   `json:"path"`
	SizeBytes    int64    `json:"size_bytes"`
	Mtime        int64    `json:"mtime"`
	ContentHash  string   `json:"content_hash"`
	Extension    string   `json:"extension"`
	LanguageHint string   `json:"language_hint"`
	ChunkIDs     []string `json:"chunk_ids"`
}

// ChunkRecord is the persisted per-chunk entry in the chunk table.
type ChunkRecord struct {
	ChunkID   string `json:"chunk_id"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// RefreshResult summarizes one refresh operation.
type RefreshResult struct {
	Added      int       `json:"added"`
	Updated    int       `json:"updated"`
	Removed    int       `json:"removed"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store is the persistent index: manifest, file table, chunk table, and a
// handle to the BM25 statistics database. It is single-writer: callers must
// hold the process-local Lock before calling Refresh.
type Store struct {
	dataDir  string
	Manifest Manifest
	Files    map[string]FileRecord
	Chunks   map[string]ChunkRecord
	Stats    *BM25Stats

	lock *Lock
}

// BindLock associates the process-local lock this store's caller holds, so
// Refresh can bound itself to the lock's wall-time budget. A store with no
// bound lock refreshes without a time bound.
func (s *Store) BindLock(l *Lock) {
	s.lock = l
}

func manifestPath(dataDir string) string { return filepath.Join(dataDir, "index", "manifest.json") }
func filesPath(dataDir string) string    { return filepath.Join(dataDir, "index", "files.jsonl") }
func chunksPath(dataDir string) string   { return filepath.Join(dataDir, "index", "chunks.jsonl") }
func statsDBPath(dataDir string) string  { return filepath.Join(dataDir, "index", "bm25stats.db") }

// Open loads an existing store from dataDir, or returns an empty,
// not-yet-indexed store if none exists yet.
func Open(dataDir string) (*Store, error) {
	s := &Store{
		dataDir: dataDir,
		Files:   make(map[string]FileRecord),
		Chunks:  make(map[string]ChunkRecord),
	}

	if data, err := os.ReadFile(manifestPath(dataDir)); err == nil {
		if err := json.Unmarshal(data, &s.Manifest); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	}

	if err := readJSONL(filesPath(dataDir), func(data []byte) error {
		var fr FileRecord
		if err := json.Unmarshal(data, &fr); err != nil {
			return err
		}
		s.Files[fr.Path] = fr
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading files table: %w", err)
	}

	if err := readJSONL(chunksPath(dataDir), func(data []byte) error {
		var cr ChunkRecord
		if err := json.Unmarshal(data, &cr); err != nil {
			return err
		}
		s.Chunks[cr.ChunkID] = cr
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reading chunks table: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(dataDir, "index"), 0755); err != nil {
		return nil, fmt.Errorf("creating index dir: %w", err)
	}

	stats, err := OpenBM25Stats(statsDBPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("opening bm25 stats: %w", err)
	}
	s.Stats = stats

	return s, nil
}

// Close releases the store's BM25 stats handle.
func (s *Store) Close() error {
	if s.Stats != nil {
		return s.Stats.Close()
	}
	return nil
}

// IndexStatus reports the status used by repo.status.
type IndexStatus string

const (
	StatusNotIndexed    IndexStatus = "not_indexed"
	StatusReady         IndexStatus = "ready"
	StatusSchemaMismatch IndexStatus = "schema_mismatch"
)

// Status reports this store's current state.
func (s *Store) Status() IndexStatus {
	if s.Manifest.SchemaVersion == 0 {
		return StatusNotIndexed
	}
	if s.Manifest.SchemaVersion != SchemaVersion {
		return StatusSchemaMismatch
	}
	return StatusReady
}

// Refresh runs the incremental refresh algorithm: discover candidate files,
// re-chunk changed ones, drop files no longer present, recompute BM25
// global statistics, then atomically persist the new manifest/tables.
//
// force=true, or a schema mismatch, triggers a full rebuild.
func (s *Store) Refresh(sb *sandbox.Sandbox, cfg *config.Config, force bool) (RefreshResult, error) {
	start := time.Now()
	s.lock.Touch()
	budget := time.Duration(cfg.Limits.IndexRefreshTimeoutMs) * time.Millisecond

	if s.Status() == StatusSchemaMismatch {
		force = true
	}
	if force {
		for id := range s.Chunks {
			_ = s.Stats.RemoveChunk(id)
		}
		s.Files = make(map[string]FileRecord)
		s.Chunks = make(map[string]ChunkRecord)
	}

	candidates, err := discovery.Discover(sb, cfg.Discovery)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("discovery: %w", err)
	}

	params := chunk.Params{
		WindowLines:  cfg.Chunking.WindowLines,
		OverlapLines: cfg.Chunking.OverlapLines,
		Version:      cfg.Chunking.ChunkVersion,
	}

	present := make(map[string]bool, len(candidates))
	var added, updated int

	for i, f := range candidates {
		if s.lock != nil && s.lock.Expired(budget) {
			return RefreshResult{}, rerrors.NewInternal(rerrors.RefreshTimeout,
				fmt.Sprintf("index refresh exceeded its %s wall-time budget after %d of %d candidates; index left unmodified", budget, i, len(candidates)), nil)
		}
		present[f.Path] = true
		existing, ok := s.Files[f.Path]

		if ok && existing.SizeBytes == f.Size && existing.Mtime == f.Mtime {
			continue // unchanged: keep as-is
		}

		abs := filepath.Join(sb.RepoRoot(), filepath.FromSlash(f.Path))
		data, err := os.ReadFile(abs)
		if err != nil {
			continue // unreadable during refresh: skip, do not fail the whole refresh
		}
		hash := hashutil.ContentHash(data)

		if ok && existing.ContentHash == hash {
			existing.Mtime = f.Mtime
			s.Files[f.Path] = existing
			continue // content unchanged: refresh mtime only
		}

		// Re-chunk and reindex. Remove the file's old chunks first.
		if ok {
			for _, id := range existing.ChunkIDs {
				delete(s.Chunks, id)
				_ = s.Stats.RemoveChunk(id)
			}
		}

		chunks := chunk.Split(f.Path, string(data), params)
		chunkIDs := make([]string, len(chunks))
		for i, c := range chunks {
			s.Chunks[c.ChunkID] = ChunkRecord{ChunkID: c.ChunkID, Path: c.Path, StartLine: c.StartLine, EndLine: c.EndLine}
			chunkIDs[i] = c.ChunkID
		}

		s.Files[f.Path] = FileRecord{
			Path:         f.Path,
			SizeBytes:    f.Size,
			Mtime:        f.Mtime,
			ContentHash:  hash,
			Extension:    filepath.Ext(f.Path),
			LanguageHint: LanguageHint(f.Path),
			ChunkIDs:     chunkIDs,
		}

		if err := s.Stats.IndexChunks(chunks); err != nil {
			return RefreshResult{}, fmt.Errorf("indexing bm25 stats for %s: %w", f.Path, err)
		}

		if ok {
			updated++
		} else {
			added++
		}
	}

	var removed int
	for path, fr := range s.Files {
		if present[path] {
			continue
		}
		for _, id := range fr.ChunkIDs {
			delete(s.Chunks, id)
			_ = s.Stats.RemoveChunk(id)
		}
		delete(s.Files, path)
		removed++
	}

	if err := s.Stats.RecomputeGlobalStats(); err != nil {
		return RefreshResult{}, fmt.Errorf("recomputing bm25 global stats: %w", err)
	}

	s.Manifest = Manifest{
		SchemaVersion:        SchemaVersion,
		WindowLines:          cfg.Chunking.WindowLines,
		OverlapLines:         cfg.Chunking.OverlapLines,
		ChunkVersion:         cfg.Chunking.ChunkVersion,
		LastRefreshTimestamp: time.Now().UTC(),
	}

	if err := s.persist(); err != nil {
		return RefreshResult{}, fmt.Errorf("persisting index: %w", err)
	}

	return RefreshResult{
		Added:      added,
		Updated:    updated,
		Removed:    removed,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  s.Manifest.LastRefreshTimestamp,
	}, nil
}

// persist writes the manifest and tables atomically via write-to-temp then
// rename, so a crash mid-write never leaves a readable index in an
// inconsistent state.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Join(s.dataDir, "index"), 0755); err != nil {
		return err
	}

	manifestData, err := json.MarshalIndent(s.Manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(manifestPath(s.dataDir), manifestData); err != nil {
		return err
	}

	if err := writeRecordsJSONL(filesPath(s.dataDir), fileRecordSlice(s.Files)); err != nil {
		return err
	}
	if err := writeRecordsJSONL(chunksPath(s.dataDir), chunkRecordSlice(s.Chunks)); err != nil {
		return err
	}

	return nil
}

func fileRecordSlice(m map[string]FileRecord) []interface{} {
	out := make([]interface{}, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func chunkRecordSlice(m map[string]ChunkRecord) []interface{} {
	out := make([]interface{}, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// LanguageHint classifies a repo-relative path into reposcope's coarse
// language-hint vocabulary, shared by repo.status, repo.outline, and the
// persisted file table.
func LanguageHint(path string) string {
	switch filepath.Ext(path) {
	case ".py":
		return "python"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".java":
		return "java"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".cpp", ".cc", ".h", ".hpp":
		return "cpp"
	case ".cs":
		return "csharp"
	default:
		return ""
	}
}

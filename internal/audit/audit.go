// Package audit implements the append-only audit log: one JSON line per
// tool call, flushed immediately, with size-based rotation whose backups
// are gzip-compressed to keep the data directory bounded.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"reposcope/internal/config"
	"reposcope/internal/logging"
)

// Event is one audit record. It never carries file contents, secrets, or
// raw prompt text — only enough metadata to reconstruct what happened.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id"`
	Tool      string            `json:"tool"`
	OK        bool              `json:"ok"`
	Blocked   bool              `json:"blocked"`
	ErrorCode string            `json:"error_code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent stamps a fresh event with a generated id and the current time.
func NewEvent(requestID, tool string, ok, blocked bool, errorCode string, metadata map[string]string) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Tool:      tool,
		OK:        ok,
		Blocked:   blocked,
		ErrorCode: errorCode,
		Metadata:  metadata,
	}
}

// Writer is the append-only, size-rotated audit log writer. A single
// Writer is meant to be shared across every request the server serves.
type Writer struct {
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
	mu         sync.Mutex
}

// Open opens (creating if needed) the audit log at path. maxSize == 0
// disables rotation.
func Open(path string, maxSize int64, maxBackups int) (*Writer, error) {
	w := &Writer{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// OpenWithConfig opens the audit log at dataDir/audit.jsonl using the
// rotation settings from cfg.Audit.
func OpenWithConfig(dataDir string, cfg config.AuditConfig) (*Writer, error) {
	return Open(filepath.Join(dataDir, "audit.jsonl"), logging.ParseSize(cfg.MaxSize), cfg.MaxBackups)
}

func (w *Writer) openFile() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Append writes one event as a JSON line and flushes immediately, so an
// audit entry is durable before the tool call returns.
func (w *Writer) Append(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSize > 0 && w.size+int64(len(line)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}

	n, err := w.file.Write(line)
	w.size += int64(n)
	if err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// rotate closes the live file, shifts existing backups down one slot
// (dropping the oldest), gzip-compresses the live file into slot 1, and
// reopens a fresh file.
func (w *Writer) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
	}

	for i := w.maxBackups; i >= 1; i-- {
		oldPath := w.backupPath(i)
		newPath := w.backupPath(i + 1)
		if i == w.maxBackups {
			_ = os.Remove(oldPath)
		} else if _, err := os.Stat(oldPath); err == nil {
			_ = os.Rename(oldPath, newPath)
		}
	}

	if w.maxBackups > 0 {
		if err := gzipFile(w.path, w.backupPath(1)); err != nil {
			return err
		}
	}
	_ = os.Remove(w.path)

	w.size = 0
	return w.openFile()
}

func (w *Writer) backupPath(n int) string {
	return fmt.Sprintf("%s.%d.gz", w.path, n)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// ReadSince reads events from the live audit log (rotated/compressed
// backups are not queried) with timestamp >= since, most recent first,
// truncated to limit.
func ReadSince(path string, since time.Time, limit int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

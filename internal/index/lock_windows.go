//go:build windows

package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Lock is a best-effort exclusive lock on one data directory. Windows has
// no portable equivalent to flock in the standard library, so this uses
// O_EXCL file creation: a stale lock file left by a crashed process must be
// removed manually. It tracks acquisition time for the same wall-time
// budget enforcement the unix Lock provides.
type Lock struct {
	path       string
	file       *os.File
	acquiredAt time.Time
}

// AcquireLock takes an exclusive lock on dataDir.
func AcquireLock(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("index is locked by another process (lock file exists at %s)", path)
	}
	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}

	return &Lock{path: path, file: file, acquiredAt: time.Now()}, nil
}

// Touch resets the lock's acquisition clock to now.
func (l *Lock) Touch() {
	if l == nil {
		return
	}
	l.acquiredAt = time.Now()
}

// Deadline returns the instant after which a refresh holding this lock has
// exceeded its configured wall-time budget. A non-positive budget disables
// the bound and Deadline returns the zero time.
func (l *Lock) Deadline(budget time.Duration) time.Time {
	if budget <= 0 {
		return time.Time{}
	}
	return l.acquiredAt.Add(budget)
}

// Expired reports whether the lock has been held past the given budget.
func (l *Lock) Expired(budget time.Duration) bool {
	deadline := l.Deadline(budget)
	return !deadline.IsZero() && time.Now().After(deadline)
}

// Release releases the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = l.file.Close()
	_ = os.Remove(l.path)
}
